// Command backend is the main entrypoint for the chathub API and background
// workers. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the platform connectors (Twitch, Kick, YouTube), the outbound
//     send queue, the timeout reaper, and OAuth token refreshers.
//   - Exposes the HTTP surface: /feed, moderation and chat endpoints, the
//     EventSub webhook, cron triggers, and health/status/metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/joho/godotenv"
	"github.com/onnwee/chathub/backend/config"
	"github.com/onnwee/chathub/backend/connector"
	"github.com/onnwee/chathub/backend/connector/kickchat"
	"github.com/onnwee/chathub/backend/connector/twitchchat"
	"github.com/onnwee/chathub/backend/connector/youtubechat"
	"github.com/onnwee/chathub/backend/db"
	"github.com/onnwee/chathub/backend/events"
	"github.com/onnwee/chathub/backend/hub"
	"github.com/onnwee/chathub/backend/kickapi"
	"github.com/onnwee/chathub/backend/moderation"
	"github.com/onnwee/chathub/backend/oauth"
	"github.com/onnwee/chathub/backend/sendqueue"
	"github.com/onnwee/chathub/backend/server"
	"github.com/onnwee/chathub/backend/telemetry"
	"github.com/onnwee/chathub/backend/twitchapi"
	"github.com/onnwee/chathub/backend/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chathub", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event hub: every connector publishes into it, every viewer session
	// subscribes from it.
	broker := hub.New()

	// Platform API clients
	kickAPI := &kickapi.Client{}
	ytService := youtubeapi.New(cfg, &db.TokenStoreAdapter{DB: database})
	var helix *twitchapi.HelixClient
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		helix = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
	}

	// Connectors
	twitchConn := twitchchat.New(cfg, broker)
	kickConn := kickchat.New(cfg, broker, kickAPI)
	ytConn := youtubechat.New(cfg, broker, ytService)
	twitchConn.Start(ctx)
	kickConn.Start(ctx)
	ytConn.Start(ctx)

	// Outbound send queue: one worker per platform, registered before Start.
	queue := sendqueue.New()
	queue.RegisterSender(events.PlatformTwitch, twitchConn.Send)
	queue.RegisterSender(events.PlatformKick, func(sctx context.Context, text string) error {
		cred, err := db.GetLinkedAccount(sctx, database, cfg.OwnerUserID, string(events.PlatformKick))
		if err != nil {
			return err
		}
		token := ""
		if cred != nil {
			token = cred.AccessToken
		}
		return kickAPI.SendMessage(sctx, token, kickConn.ChatroomID(), text)
	})
	queue.RegisterSender(events.PlatformYouTube, ytConn.Send)
	queue.Start(ctx)

	// Moderation dispatcher with one backend per platform.
	moderators := map[events.Platform]moderation.PlatformModerator{
		events.PlatformKick:    &moderation.KickModerator{API: kickAPI, Cfg: cfg},
		events.PlatformYouTube: &moderation.YouTubeModerator{Service: ytService, ChatID: ytConn.ActiveChatID},
	}
	if helix != nil {
		moderators[events.PlatformTwitch] = &moderation.TwitchModerator{Helix: helix, Cfg: cfg}
	}
	dispatcher := moderation.NewDispatcher(database, broker, cfg, moderators)
	go dispatcher.StartTimeoutReaper(ctx)

	// Centralized OAuth token refreshers
	oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
	})
	oauth.StartRefresher(ctx, database, "youtube", 10*time.Minute, 20*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		if cfg.YTClientID == "" {
			return "", "", time.Time{}, "", context.Canceled
		}
		ts := &oauth2.Token{RefreshToken: refreshToken}
		oc := &oauth2.Config{ClientID: cfg.YTClientID, ClientSecret: cfg.YTClientSecret, Endpoint: google.Endpoint, RedirectURL: cfg.YTRedirectURI}
		newTok, err := oc.TokenSource(rctx, ts).Token()
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, "", nil
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// The webhook handler rejects every request without a verifiable
	// signature, so surface the misconfiguration once here.
	if err := cfg.ValidateWebhookReady(); err != nil {
		slog.Warn("eventsub webhook disabled", slog.Any("err", err))
	}

	// HTTP server
	handlers := server.NewHandlers(ctx, database, cfg, broker, dispatcher, queue, ytConn,
		func() map[events.Platform]connector.State {
			return map[events.Platform]connector.State{
				events.PlatformTwitch:  twitchConn.State(),
				events.PlatformKick:    kickConn.State(),
				events.PlatformYouTube: ytConn.State(),
			}
		})
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, handlers, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
