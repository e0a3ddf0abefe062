package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/scriptserve/internal/config"
	"github.com/codefionn/scriptserve/internal/engine"
	"github.com/codefionn/scriptserve/internal/payload"
	"github.com/codefionn/scriptserve/internal/socketclient"
	"github.com/codefionn/scriptserve/internal/socketserver"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{config.EnvLogLevel, config.EnvLogPath, config.EnvAddress, config.EnvFormat} {
		t.Setenv(name, "")
	}
}

func TestLoadServeConfig(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nengine: lua\npayload_format: cbor\n"), 0644))

	var opts serveOptions
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	bindServeFlags(flags, &opts)
	require.NoError(t, flags.Parse([]string{"--config", path, "--port", "9100", "--exec-timeout", "250"}))

	cfg, cfgPath, err := loadServeConfig(flags, opts)
	require.NoError(t, err)
	assert.Equal(t, path, cfgPath)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "lua", cfg.Engine)
	assert.Equal(t, "cbor", cfg.PayloadFormat)
	assert.Equal(t, 250*time.Millisecond, cfg.ExecTimeout())
	assert.True(t, opts.watch)
}

func TestLoadServeConfigInvalidFlag(t *testing.T) {
	clearEnv(t)

	var opts serveOptions
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	bindServeFlags(flags, &opts)
	require.NoError(t, flags.Parse([]string{
		"--config", filepath.Join(t.TempDir(), "missing.json"),
		"--engine", "cobol",
	}))

	_, _, err := loadServeConfig(flags, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestReadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.star")
	require.NoError(t, os.WriteFile(path, []byte("_result_ = 1"), 0644))

	script, err := readScript(strings.NewReader("ignored"), path)
	require.NoError(t, err)
	assert.Equal(t, "_result_ = 1", script)

	script, err = readScript(strings.NewReader("_result_ = 2"), "-")
	require.NoError(t, err)
	assert.Equal(t, "_result_ = 2", script)

	_, err = readScript(nil, filepath.Join(t.TempDir(), "missing.star"))
	assert.Error(t, err)
}

func startServer(t *testing.T) *socketserver.Server {
	t.Helper()

	server, err := socketserver.NewServer(socketserver.Options{
		Address:      "127.0.0.1:0",
		Serializer:   payload.CBOR{},
		Executor:     engine.NewExecutor(engine.NewStarlark()),
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

func setClientFlags(t *testing.T, addr, format string, raw bool) {
	t.Helper()

	prevAddr, prevFormat, prevTimeout, prevRaw := clientAddr, clientFormat, clientTimeout, execRaw
	t.Cleanup(func() {
		clientAddr, clientFormat, clientTimeout, execRaw = prevAddr, prevFormat, prevTimeout, prevRaw
	})
	clientAddr, clientFormat, clientTimeout, execRaw = addr, format, 5*time.Second, raw
}

func TestRunExec(t *testing.T) {
	server := startServer(t)
	setClientFlags(t, server.Addr().String(), "B", false)

	var out bytes.Buffer
	require.NoError(t, runExec(context.Background(), &out, "_result_ = {'a': [1, 2]}"))
	assert.JSONEq(t, `{"a": [1, 2]}`, out.String())
}

func TestRunExecFailure(t *testing.T) {
	server := startServer(t)
	setClientFlags(t, server.Addr().String(), "cbor", false)

	var out bytes.Buffer
	err := runExec(context.Background(), &out, "_result_ = 1 +")
	require.Error(t, err)

	var remote *socketclient.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.True(t, strings.HasPrefix(remote.Message, engine.FailurePrefix))
	assert.Empty(t, out.String())
}

func TestRunExecRaw(t *testing.T) {
	server := startServer(t)
	setClientFlags(t, server.Addr().String(), "cbor", true)

	var out bytes.Buffer
	require.NoError(t, runExec(context.Background(), &out, "x = 1"))
	assert.Equal(t, "success: true\nmsg: success\nresult: f6\n", out.String())
}
