package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatserver/internal/ai"
	"github.com/npezzotti/go-chatserver/internal/config"
	"github.com/npezzotti/go-chatserver/internal/logger"
	"github.com/npezzotti/go-chatserver/internal/server"
	"github.com/npezzotti/go-chatserver/internal/session"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/userstore"
)

var (
	addr      string
	userFile  string
	dsn       string
	debugAddr string
)

func main() {
	flag.StringVar(&addr, "addr", "", "listen address (overrides CHATSERVER_LISTEN_ADDR)")
	flag.StringVar(&userFile, "user-file", "", "user credentials file (overrides CHATSERVER_USER_FILE)")
	flag.StringVar(&dsn, "dsn", "", "postgres connection string for the user store (overrides CHATSERVER_DATABASE_DSN)")
	flag.StringVar(&debugAddr, "debug-addr", "", "debug HTTP listener address (overrides CHATSERVER_DEBUG_ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if userFile != "" {
		cfg.UserFile = userFile
	}
	if dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if debugAddr != "" {
		cfg.DebugAddr = debugAddr
	}

	log := logger.New(os.Stderr, cfg.LogLevel)

	var store userstore.Store
	if cfg.DatabaseDSN != "" {
		store, err = userstore.NewPgStore(cfg.DatabaseDSN, log)
	} else {
		store, err = userstore.NewFileStore(cfg.UserFile, log)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("open user store")
	}
	defer store.Close()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	sessions := session.NewRegistry(cfg.SessionTTL, log, statsUpdater)
	rooms := server.NewRoomRegistry(cfg.HistoryCap, cfg.JoinSnapshot, log, statsUpdater)
	completer := ai.NewCompleter(ai.Config{
		Endpoint:       cfg.AIEndpoint,
		Model:          cfg.AIModel,
		ConnectTimeout: cfg.AIConnectTimeout,
		RequestTimeout: cfg.AIRequestTimeout,
		CacheTTL:       cfg.CacheTTL,
	}, log, statsUpdater)

	for _, name := range []string{"General", "Library"} {
		if _, err := rooms.CreateRoom(name); err != nil {
			log.Fatal().Err(err).Str("room", name).Msg("create startup room")
		}
	}
	if _, err := rooms.CreateAIRoom(cfg.AIRoomName, cfg.AIRoomPrompt); err != nil {
		log.Fatal().Err(err).Str("room", cfg.AIRoomName).Msg("create ai room")
	}

	mux.HandleFunc("GET /debug/ai", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, completer.Stats())
	})
	mux.HandleFunc("POST /debug/ai/purge", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "purged %d expired entries\n", completer.PurgeExpired())
	})
	mux.HandleFunc("POST /debug/ai/clear", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "cleared %d entries\n", completer.ClearCache())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sessions.Run(ctx)

	chatServer := server.NewChatServer(cfg, log, store, sessions, rooms, completer, statsUpdater)

	var debugSrv *http.Server
	if cfg.DebugAddr != "" {
		debugSrv = &http.Server{
			Addr:    cfg.DebugAddr,
			Handler: handlers.LoggingHandler(os.Stderr, mux),
		}
		go func() {
			log.Info().Str("addr", cfg.DebugAddr).Msg("debug server listening")
			if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("debug server")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- chatServer.ListenAndServe(ctx)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	serverDone := false
	select {
	case sig := <-sigs:
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case err := <-errCh:
		serverDone = true
		if err != nil {
			log.Error().Err(err).Msg("chat server")
		}
	}

	cancel()

	if !serverDone {
		select {
		case <-errCh:
		case <-time.After(10 * time.Second):
			log.Warn().Msg("timed out waiting for handlers")
		}
	}

	if debugSrv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		if err := debugSrv.Shutdown(shutCtx); err != nil {
			log.Error().Err(err).Msg("debug server shutdown")
		}
	}

	log.Info().Msg("shutdown complete")
}
