// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data API
// for live chat: finding the active broadcast's chat id, polling and sending
// messages, and issuing live chat bans. Tokens are persisted via the provided
// TokenStore interface so they can be refreshed and reused by workers.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chathub/backend/config"
)

const provider = "youtube"

type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, scope string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, scope string, err error)
}

type Service struct {
	cfg   *config.Config
	store TokenStore
	oauth *oauth2.Config
}

func New(cfg *config.Config, ts TokenStore) *Service {
	scopes := []string{"https://www.googleapis.com/auth/youtube"}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		s := strings.ReplaceAll(cfg.YTScopes, ",", " ")
		fields := strings.Fields(s)
		if len(fields) > 0 {
			scopes = fields
		}
	}
	oauth := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{cfg: cfg, store: ts, oauth: oauth}
}

func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	_ = s.store.UpsertOAuthToken(ctx, provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, strings.Join(s.oauth.Scopes, " "))
	return tok, nil
}

func (s *Service) refreshIfNeeded(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, _, err := s.store.GetOAuthToken(ctx, provider)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, errors.New("no youtube token stored")
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: expiry}
	if time.Until(tok.Expiry) > 2*time.Minute {
		return tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		return tok, err
	}
	_ = s.store.UpsertOAuthToken(ctx, provider, newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, "")
	return newTok, nil
}

// Client returns an authenticated YouTube Data API service.
func (s *Service) Client(ctx context.Context) (*yt.Service, error) {
	tok, err := s.refreshIfNeeded(ctx)
	if err != nil {
		return nil, err
	}
	return yt.NewService(ctx, option.WithHTTPClient(s.oauth.Client(ctx, tok)))
}

// ActiveLiveChatID returns the live chat id and video id of the channel's
// currently active broadcast, or ("", "", nil) when offline.
func ActiveLiveChatID(ctx context.Context, svc *yt.Service) (chatID, videoID string, err error) {
	if svc == nil {
		return "", "", fmt.Errorf("nil youtube service")
	}
	call := svc.LiveBroadcasts.List([]string{"snippet", "status"}).BroadcastStatus("active").BroadcastType("all")
	res, err := call.Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("list live broadcasts: %w", err)
	}
	if len(res.Items) == 0 {
		return "", "", nil
	}
	b := res.Items[0]
	return b.Snippet.LiveChatId, b.Id, nil
}

// LiveChatPage is one page of live chat messages plus the polling cursor.
type LiveChatPage struct {
	Messages      []*yt.LiveChatMessage
	NextPageToken string
	PollAfter     time.Duration
}

// ListLiveChat fetches the next page of messages for a live chat.
func ListLiveChat(ctx context.Context, svc *yt.Service, chatID, pageToken string) (*LiveChatPage, error) {
	if svc == nil {
		return nil, fmt.Errorf("nil youtube service")
	}
	call := svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"})
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list live chat: %w", err)
	}
	return &LiveChatPage{
		Messages:      res.Items,
		NextPageToken: res.NextPageToken,
		PollAfter:     time.Duration(res.PollingIntervalMillis) * time.Millisecond,
	}, nil
}

// InsertMessage posts a text message into a live chat.
func InsertMessage(ctx context.Context, svc *yt.Service, chatID, text string) error {
	if svc == nil {
		return fmt.Errorf("nil youtube service")
	}
	msg := &yt.LiveChatMessage{Snippet: &yt.LiveChatMessageSnippet{
		LiveChatId: chatID,
		Type:       "textMessageEvent",
		TextMessageDetails: &yt.LiveChatTextMessageDetails{
			MessageText: text,
		},
	}}
	if _, err := svc.LiveChatMessages.Insert([]string{"snippet"}, msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("youtube chat insert: %w", err)
	}
	return nil
}

// InsertBan bans (duration zero => permanent) or times out a channel from the
// live chat. Returns the ban resource id, which the unban call requires.
func InsertBan(ctx context.Context, svc *yt.Service, chatID, targetChannelID string, duration time.Duration) (string, error) {
	if svc == nil {
		return "", fmt.Errorf("nil youtube service")
	}
	snippet := &yt.LiveChatBanSnippet{
		LiveChatId:        chatID,
		BannedUserDetails: &yt.ChannelProfileDetails{ChannelId: targetChannelID},
	}
	if duration > 0 {
		snippet.Type = "temporary"
		snippet.BanDurationSeconds = uint64(duration.Seconds())
	} else {
		snippet.Type = "permanent"
	}
	res, err := svc.LiveChatBans.Insert([]string{"snippet"}, &yt.LiveChatBan{Snippet: snippet}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube live chat ban: %w", err)
	}
	return res.Id, nil
}

// DeleteBan lifts a ban previously created by InsertBan.
func DeleteBan(ctx context.Context, svc *yt.Service, banID string) error {
	if svc == nil {
		return fmt.Errorf("nil youtube service")
	}
	if banID == "" {
		return fmt.Errorf("ban id required to unban on youtube")
	}
	if err := svc.LiveChatBans.Delete(banID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("youtube live chat unban: %w", err)
	}
	return nil
}
