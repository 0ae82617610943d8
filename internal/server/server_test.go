package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatServer_ListenAndServe_plaintextFallback(t *testing.T) {
	cs := newTestChatServer(t, "")
	cs.cfg.ListenAddr = "127.0.0.1:0"
	cs.cfg.TLSCertFile = "no-such.crt"
	cs.cfg.TLSKeyFile = "no-such.key"
	cs.cfg.AllowPlaintext = true

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- cs.ListenAndServe(ctx) }()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = cs.Addr()
		return addr != nil
	}, 2*time.Second, 10*time.Millisecond, "listener must come up")

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, RespAuthRequired, strings.TrimSuffix(line, "\n"))

	conn.Close()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down after cancellation")
	}
}

func TestChatServer_ListenAndServe_requiresTLS(t *testing.T) {
	cs := newTestChatServer(t, "")
	cs.cfg.ListenAddr = "127.0.0.1:0"
	cs.cfg.TLSCertFile = "no-such.crt"
	cs.cfg.TLSKeyFile = "no-such.key"
	cs.cfg.AllowPlaintext = false

	err := cs.ListenAndServe(context.Background())
	require.Error(t, err, "missing keypair without plaintext fallback must refuse to serve")
	assert.Contains(t, err.Error(), "tls")
}
