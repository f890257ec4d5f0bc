// Command hub is the entrypoint for the roguecord voice-and-text server: it
// loads configuration, connects to PostgreSQL, runs migrations, wires every
// subsystem together, and serves the websocket session protocol plus the
// plain-HTTP icon endpoint until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/roguecord/hub/internal/config"
	"github.com/roguecord/hub/internal/connmgr"
	"github.com/roguecord/hub/internal/dal"
	"github.com/roguecord/hub/internal/database"
	"github.com/roguecord/hub/internal/httpicon"
	"github.com/roguecord/hub/internal/models"
	"github.com/roguecord/hub/internal/moderation"
	"github.com/roguecord/hub/internal/rss"
	"github.com/roguecord/hub/internal/session"
	"github.com/roguecord/hub/internal/storage"
	"github.com/roguecord/hub/internal/voice"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "migrate":
			if err := runMigrate(); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		case "version":
			fmt.Printf("hub %s (%s)\n", version, commit)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	if err := runServe(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: hub [serve|migrate|version]")
	fmt.Println("  serve (default)  run the server")
	fmt.Println("  migrate          run pending database migrations and exit")
	fmt.Println("  version          print build information")
}

func configPath() string {
	if p := os.Getenv("ROGUECORD_CONFIG_PATH"); p != "" {
		return p
	}
	return "hub.toml"
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func runMigrate() error {
	logger := setupLogger("info", "json")
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return database.MigrateUp(cfg.Database.URL, logger)
}

// runServe wires every subsystem together and blocks until shutdown. The
// construction order resolves one circular dependency: connmgr.Manager
// needs a CloseHook that calls into session.Handler, but Handler needs the
// already-constructed Manager. handler is forward-declared and the closure
// captures it by reference so the call only happens after both exist.
func runServe() error {
	logger := setupLogger("info", "json")
	logger.Info("starting hub", slog.String("version", version), slog.String("commit", commit))

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger = setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConnections, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := database.MigrateUp(cfg.Database.URL, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	store := dal.New(db.Pool)

	server, err := store.EnsureServer(ctx, cfg.Server.Name, cfg.Server.Title)
	if err != nil {
		return fmt.Errorf("ensuring server row: %w", err)
	}
	logger.Info("server ready", slog.String("server_id", server.ID.String()), slog.String("name", server.Name))

	systemUserID, rssBotID, err := store.EnsureSystemUsers(ctx)
	if err != nil {
		return fmt.Errorf("ensuring system users: %w", err)
	}

	adminKey := cfg.Admin.Key
	if adminKey == "" {
		adminKey, err = generateAdminKey()
		if err != nil {
			return fmt.Errorf("generating admin key: %w", err)
		}
		logger.Warn("no admin key configured, generated one for this run — set admin.key to persist it",
			slog.String("admin_key", adminKey))
	}

	storageMgr, err := buildStorageManager(ctx, cfg, server, logger)
	if err != nil {
		return fmt.Errorf("building storage backend: %w", err)
	}

	// conns and handler are each needed by the other's constructor
	// (voice's fanout needs conns, conns's CloseHook needs handler). Both
	// closures below only run once real traffic arrives, by which point
	// every forward-declared variable has been assigned.
	var conns *connmgr.Manager
	var voiceCoord *voice.Coordinator
	voiceCoord, err = voice.New(voice.Config{
		AnnouncedAddr: cfg.Voice.AnnouncedAddr,
		PortRangeMin:  uint16(cfg.Voice.PortRangeMin),
		PortRangeMax:  uint16(cfg.Voice.PortRangeMax),
		MaxBitrateBps: cfg.Voice.MaxBitrateBps,
	}, logger, func(channelID, exceptUserID models.ULID, event string, payload any) {
		room := voiceCoord.Room(channelID)
		if room == nil {
			return
		}
		for _, p := range room.Peers() {
			if p.UserID != exceptUserID {
				conns.SendToUser(context.Background(), p.UserID, event, payload)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("starting voice coordinator: %w", err)
	}

	var handler *session.Handler
	conns = connmgr.New(logger, func(s *connmgr.Session, userID *models.ULID) {
		handler.OnSessionClosed(s, userID)
	})

	modEngine := moderation.New(store)

	handler = session.NewHandler(session.Config{
		AdminKey:      adminKey,
		DataDir:       cfg.Server.DataDir,
		StoragePrefix: cfg.Storage.Prefix,
		ServerName:    cfg.Server.Name,
		ServerTitle:   cfg.Server.Title,
		MaxFrameBytes: cfg.Transport.MaxFrameBytes,
	}, logger, conns, store, voiceCoord, modEngine, storageMgr, systemUserID, rssBotID)

	keepAlive, err := cfg.Transport.KeepAliveIntervalParsed()
	if err != nil {
		return fmt.Errorf("parsing keep-alive interval: %w", err)
	}
	go conns.RunKeepAlive(ctx, keepAlive)

	poller := rss.New(store, logger, func(eventType string, payload any) {
		conns.BroadcastToAuthenticated(ctx, eventType, payload)
	}, rssBotID, cfg.RSS.PollIntervalParsed(), cfg.RSS.UserAgent)
	go poller.Run(ctx)

	wsServer := &http.Server{
		Addr: cfg.Server.ListenAddr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := websocket.Accept(w, r, nil)
			if err != nil {
				return
			}
			handler.HandleConn(r.Context(), conn, r.RemoteAddr)
		}),
	}

	iconRouter := chi.NewRouter()
	httpicon.New(store, storageMgr, cfg.Storage.Prefix, logger).Routes(iconRouter)
	iconServer := &http.Server{Addr: cfg.Server.IconListen, Handler: iconRouter}

	go func() {
		logger.Info("websocket listener starting", slog.String("addr", cfg.Server.ListenAddr))
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("websocket listener failed", slog.String("error", err.Error()))
		}
	}()
	go func() {
		logger.Info("icon listener starting", slog.String("addr", cfg.Server.IconListen))
		if err := iconServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("icon listener failed", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	conns.Broadcast(context.Background(), "server_shutting_down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = wsServer.Shutdown(shutdownCtx)
	_ = iconServer.Shutdown(shutdownCtx)

	return nil
}

// buildStorageManager constructs the provider matching the server row's
// persisted storage type, falling back to local_dir if a remote config
// fails validation at startup (the operator can retry via
// update_server_settings once the server is up).
func buildStorageManager(ctx context.Context, cfg *config.Config, server *models.Server, logger *slog.Logger) (*storage.Manager, error) {
	if server.StorageType == models.StorageRemoteObject && server.S3Config != nil {
		remote, err := storage.Validate(ctx, *server.S3Config)
		if err == nil {
			return storage.NewManager(models.StorageRemoteObject, remote), nil
		}
		logger.Warn("stored remote storage config failed validation at startup, falling back to local_dir",
			slog.String("error", err.Error()))
	}

	local, err := storage.NewLocalProvider(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}
	return storage.NewManager(models.StorageLocalDir, local), nil
}

func generateAdminKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
