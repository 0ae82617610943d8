package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/npezzotti/go-chatserver/internal/ai"
	"github.com/npezzotti/go-chatserver/internal/config"
	"github.com/npezzotti/go-chatserver/internal/session"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/userstore"
	"github.com/rs/zerolog"
)

// ChatServer owns the listener and the shared subsystems every connection
// handler works against.
type ChatServer struct {
	cfg       config.Config
	log       *zerolog.Logger
	users     userstore.Store
	sessions  *session.Registry
	rooms     *RoomRegistry
	completer *ai.Completer
	stats     stats.StatsProvider

	mu       sync.Mutex
	listener net.Listener
	handlers sync.WaitGroup
}

func NewChatServer(
	cfg config.Config,
	logger *zerolog.Logger,
	users userstore.Store,
	sessions *session.Registry,
	rooms *RoomRegistry,
	completer *ai.Completer,
	sp stats.StatsProvider,
) *ChatServer {
	return &ChatServer{
		cfg:       cfg,
		log:       logger,
		users:     users,
		sessions:  sessions,
		rooms:     rooms,
		completer: completer,
		stats:     sp,
	}
}

// ListenAndServe accepts connections until ctx is cancelled. The listener
// is TLS; if the certificate cannot be loaded the server refuses to start
// unless plaintext fallback is explicitly enabled.
func (cs *ChatServer) ListenAndServe(ctx context.Context) error {
	ln, err := cs.listen()
	if err != nil {
		return err
	}
	cs.mu.Lock()
	cs.listener = ln
	cs.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			cs.log.Error().Err(err).Msg("accept failed")
			continue
		}

		cs.configureConn(conn)

		cs.handlers.Add(1)
		go func() {
			defer cs.handlers.Done()
			NewConnectionHandler(conn, cs).Run()
		}()
	}

	cs.log.Info().Msg("listener closed, waiting for handlers")
	cs.handlers.Wait()
	return nil
}

// Addr reports the bound listen address, or nil before the listener is up.
func (cs *ChatServer) Addr() net.Addr {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.listener == nil {
		return nil
	}
	return cs.listener.Addr()
}

func (cs *ChatServer) listen() (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(cs.cfg.TLSCertFile, cs.cfg.TLSKeyFile)
	if err != nil {
		if !cs.cfg.AllowPlaintext {
			return nil, fmt.Errorf("load tls keypair: %w", err)
		}

		cs.log.Error().Err(err).
			Msg("TLS setup failed, falling back to PLAINTEXT listener")

		ln, lerr := net.Listen("tcp", cs.cfg.ListenAddr)
		if lerr != nil {
			return nil, fmt.Errorf("listen: %w", lerr)
		}
		cs.log.Warn().Str("addr", cs.cfg.ListenAddr).Msg("chat server listening without TLS")
		return ln, nil
	}

	ln, err := tls.Listen("tcp", cs.cfg.ListenAddr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("tls listen: %w", err)
	}

	cs.log.Info().Str("addr", cs.cfg.ListenAddr).Msg("chat server listening with TLS")
	return ln, nil
}

// configureConn applies keep-alive to the underlying TCP connection, which
// may be wrapped in TLS.
func (cs *ChatServer) configureConn(conn net.Conn) {
	raw := conn
	if tc, ok := conn.(*tls.Conn); ok {
		raw = tc.NetConn()
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(30 * time.Second)
	}
}
