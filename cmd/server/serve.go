package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-groupchat/internal/auth"
	"go-groupchat/internal/config"
	"go-groupchat/internal/membership"
	"go-groupchat/internal/pipeline"
	"go-groupchat/internal/redis"
	"go-groupchat/internal/store"
	"go-groupchat/internal/store/memstore"
	"go-groupchat/internal/store/seed"
	"go-groupchat/internal/store/sqlstore"
	"go-groupchat/internal/ws"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var serveSeedFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept WebSocket connections and run the hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().StringP("port", "p", "8080", "HTTP listen port")
	v.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	serveCmd.Flags().String("store", "sqlite", "Store driver: sqlite or memory")
	v.BindPFlag("store.driver", serveCmd.Flags().Lookup("store"))

	serveCmd.Flags().StringVar(&serveSeedFile, "seed", "",
		"Fixture file of users and channels to load before serving")
}

type pinger interface {
	Ping(ctx context.Context) error
}

// openStore opens the configured persistence collaborator.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		slog.Warn("[STORE] Using in-memory store, nothing survives a restart")
		return memstore.New(), nil
	default:
		dbCfg := sqlstore.DefaultConfig()
		dbCfg.Path = cfg.Store.Path
		st, err := sqlstore.Open(dbCfg)
		if err != nil {
			return nil, err
		}
		slog.Info("[STORE] Opened SQLite store", "path", cfg.Store.Path)
		return st, nil
	}
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if serveSeedFile != "" {
		data, err := seed.Load(serveSeedFile)
		if err != nil {
			return err
		}
		target, ok := st.(seed.Target)
		if !ok {
			return errors.Errorf("store driver %s cannot be seeded", cfg.Store.Driver)
		}
		if err := data.Apply(ctx, target); err != nil {
			return err
		}
		slog.Info("[STORE] Seeded", "users", len(data.Users), "channels", len(data.Channels))
	}

	var journal ws.Journal
	if cfg.Redis.URL != "" {
		rc, err := redis.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		journal = rc
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, st, cfg.Store.Timeout)
	authority := membership.NewAuthority(st, cfg.Store.Timeout)
	pipe := pipeline.New(authority, st, pipeline.Config{
		Timeout:          cfg.Store.Timeout,
		MaxContentLength: cfg.Message.MaxContentLength,
		HistoryLimit:     cfg.History.Limit,
	})
	hub := ws.NewHub(authority, pipe, journal, ws.Options{
		SendBuffer:     cfg.WS.SendBuffer,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		RateLimit:      cfg.WS.RateLimit,
		JournalTimeout: cfg.Store.Timeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, verifier, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if p, ok := st.(pinger); ok {
			if err := p.Ping(r.Context()); err != nil {
				slog.Error("[HEALTH] Store ping failed", "error", err)
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("WebSocket server starting", "port", cfg.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
	}
	return nil
}
