package socketclient

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/scriptserve/internal/engine"
	"github.com/codefionn/scriptserve/internal/outcome"
	"github.com/codefionn/scriptserve/internal/payload"
	"github.com/codefionn/scriptserve/internal/socketserver"
)

func startServer(t *testing.T, format payload.Format, e engine.Engine) *socketserver.Server {
	t.Helper()

	s, err := payload.ForFormat(format)
	require.NoError(t, err)

	server, err := socketserver.NewServer(socketserver.Options{
		Address:      "127.0.0.1:0",
		Serializer:   s,
		Executor:     engine.NewExecutor(e),
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))

	t.Cleanup(func() {
		server.Shutdown()
		server.CloseConnections()
		server.Wait()
	})
	return server
}

func TestExec(t *testing.T) {
	for _, format := range []payload.Format{payload.FormatJSON, payload.FormatCBOR} {
		t.Run(string(format), func(t *testing.T) {
			server := startServer(t, format, engine.NewStarlark())
			ctx := context.Background()

			client, err := Dial(ctx, server.Addr().String(), Options{Format: format})
			require.NoError(t, err)
			defer client.Close()

			doc, err := client.Exec(ctx, "a = 2\nb = 3\n_result_ = a * b")
			require.NoError(t, err)
			assert.True(t, doc.Success)
			assert.Equal(t, outcome.SuccessMessage, doc.Msg)

			value, err := client.Serializer().DecodeResult(doc)
			require.NoError(t, err)
			assert.Equal(t, int64(6), value)

			doc, err = client.Exec(ctx, "_result_ = 1/0")
			require.NoError(t, err)
			assert.False(t, doc.Success)
			assert.Contains(t, doc.Msg, "division by zero")
		})
	}
}

func TestExecValue(t *testing.T) {
	server := startServer(t, payload.FormatCBOR, engine.NewLua())
	ctx := context.Background()

	client, err := Dial(ctx, server.Addr().String(), Options{Format: payload.FormatCBOR})
	require.NoError(t, err)
	defer client.Close()

	value, err := client.ExecValue(ctx, "_result_ = {1, 2, 3}")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, value)

	_, err = client.ExecValue(ctx, "error('nope')")
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Contains(t, remote.Message, "nope")
	assert.Equal(t, StateConnected, client.State())
}

func TestScriptTooLargeIsRejectedLocally(t *testing.T) {
	server := startServer(t, payload.FormatJSON, engine.NewStarlark())
	ctx := context.Background()

	client, err := Dial(ctx, server.Addr().String(), Options{MaxScriptSize: 8})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Exec(ctx, strings.Repeat("x", 9))
	assert.ErrorIs(t, err, ErrScriptTooLarge)
	assert.Equal(t, StateConnected, client.State())

	doc, err := client.Exec(ctx, "x = 1")
	require.NoError(t, err)
	assert.True(t, doc.Success)
}

func TestCloseSendsExit(t *testing.T) {
	server := startServer(t, payload.FormatJSON, engine.NewStarlark())
	ctx := context.Background()

	client, err := Dial(ctx, server.Addr().String(), Options{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return server.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.Equal(t, StateClosed, client.State())

	_, err = client.Exec(ctx, "x = 1")
	assert.ErrorIs(t, err, ErrClosed)

	assert.Eventually(t, func() bool { return server.ActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

type sleepEngine struct{}

func (sleepEngine) Name() string { return "sleep" }

func (sleepEngine) Run(ctx context.Context, _ string) (any, error) {
	time.Sleep(500 * time.Millisecond)
	return nil, nil
}

func TestExecContextDeadline(t *testing.T) {
	server := startServer(t, payload.FormatJSON, sleepEngine{})

	client, err := Dial(context.Background(), server.Addr().String(), Options{})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Exec(ctx, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateBroken, client.State())

	_, err = client.Exec(context.Background(), "x")
	assert.Error(t, err)
}

func TestDialUnknownFormat(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1:1", Options{Format: "xml"})
	assert.ErrorIs(t, err, payload.ErrUnknownFormat)
}

func TestProbe(t *testing.T) {
	server := startServer(t, payload.FormatJSON, engine.NewStarlark())
	assert.NoError(t, Probe(context.Background(), server.Addr().String()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	assert.Error(t, Probe(context.Background(), addr))
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "broken", StateBroken.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}

func TestExecResultContainingEndMark(t *testing.T) {
	for _, format := range []payload.Format{payload.FormatJSON, payload.FormatCBOR} {
		t.Run(string(format), func(t *testing.T) {
			server := startServer(t, format, engine.NewStarlark())
			ctx := context.Background()

			client, err := Dial(ctx, server.Addr().String(), Options{Format: format})
			require.NoError(t, err)
			defer client.Close()

			value, err := client.ExecValue(ctx, `_result_ = "x\r\n#!}\r\ny"`)
			require.NoError(t, err)
			assert.Equal(t, "x\r\n#!}\r\ny", value)

			// the session stays in sync
			value, err = client.ExecValue(ctx, "_result_ = 7")
			require.NoError(t, err)
			assert.Equal(t, int64(7), value)
		})
	}
}
