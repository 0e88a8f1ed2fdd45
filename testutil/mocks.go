package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": []map[string]string{
				{"id": userID, "login": login},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": streams,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockBanResponse adds a handler for /helix/moderation/bans that records each
// request body it receives and answers with the given status code.
func (m *MockTwitchServer) MockBanResponse(statusCode int, requests *[]map[string]any) {
	m.Handlers["/helix/moderation/bans"] = func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			*requests = append(*requests, body)
		}
		w.WriteHeader(statusCode)
	}
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockKickServer creates a test server that mocks the Kick v2 API
type MockKickServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockKickServer creates a new mock Kick API server
func NewMockKickServer(t *testing.T) *MockKickServer {
	t.Helper()
	m := &MockKickServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockChannelResponse adds a handler for /api/v2/channels/{slug}
func (m *MockKickServer) MockChannelResponse(slug string, channelID, chatroomID int) {
	m.Handlers["/api/v2/channels/"+slug] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"id":       channelID,
			"slug":     slug,
			"chatroom": map[string]int{"id": chatroomID},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockBanResponse adds a handler for /api/v2/channels/{slug}/bans that records
// request bodies and answers with the given status code.
func (m *MockKickServer) MockBanResponse(slug string, statusCode int, requests *[]map[string]any) {
	m.Handlers["/api/v2/channels/"+slug+"/bans"] = func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			*requests = append(*requests, body)
		}
		w.WriteHeader(statusCode)
	}
}
