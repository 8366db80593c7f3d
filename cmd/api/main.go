package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mwestphal/securechat/internal/auth"
	"github.com/mwestphal/securechat/internal/config"
	"github.com/mwestphal/securechat/internal/handler"
	"github.com/mwestphal/securechat/internal/service/relay"
	"github.com/mwestphal/securechat/internal/service/session"
	"github.com/mwestphal/securechat/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	authCfg, err := auth.LoadConfig(cfg.Auth.UsersFile)
	if err != nil {
		log.Fatalf("failed to load credentials: %v", err)
	}
	gate := auth.NewGate(authCfg)

	transcripts, err := store.NewFileStore(cfg.Chat.HistoryDir)
	if err != nil {
		log.Fatalf("failed to open transcript store: %v", err)
	}

	chatModel, err := cfg.Chat.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("failed to initialize %s chat model: %v", cfg.Chat.Provider, err)
	}
	log.Printf("chat model initialized: provider=%s model=%s", cfg.Chat.Provider, cfg.Chat.Model)

	streamRelay := relay.New(chatModel, cfg.Chat.StreamPace)
	registry := session.NewRegistry(func(username string) *session.Manager {
		return session.NewManager(username, streamRelay, transcripts, cfg.Chat.Model, cfg.Chat.Temperature)
	})

	router := handler.NewRouter(gate, registry)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("securechat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
