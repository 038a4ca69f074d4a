package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
	"github.com/mcdev12/buzzer/go/internal/config"
	"github.com/mcdev12/buzzer/go/internal/gateway"
)

// syncBuffer is a bytes.Buffer safe for the command's concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// startBroker serves a broker with no journal sinks on a test server.
func startBroker(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Default()
	services, err := setupServices(ctx, cfg, clockwork.NewRealClock())
	require.NoError(t, err)
	go services.Gateway.Start(ctx)

	ts := httptest.NewServer(setupServer(cfg, services).Handler)
	t.Cleanup(ts.Close)
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestSetupServer_HealthAndInfo(t *testing.T) {
	ts, _ := startBroker(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(ts.URL + "/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	var info map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "buzzer", info["service"])
	assert.Contains(t, info, "journal")
}

func TestSetupServer_CORSPreflight(t *testing.T) {
	ts, _ := startBroker(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/time", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://quiz.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestProbeCommand(t *testing.T) {
	_, wsURL := startBroker(t)

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"probe", "--url", wsURL, "--interval", "1ms", "--log-level", "error"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "OFFSET")
	assert.Contains(t, out.String(), "(5 samples)")
}

func TestHostCommand_RunsSessionFromStdin(t *testing.T) {
	_, wsURL := startBroker(t)

	stdin, feed := io.Pipe()
	t.Cleanup(func() { feed.Close() })

	var out syncBuffer
	cmd := NewRootCommand()
	cmd.SetIn(stdin)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"host", "--url", wsURL, "--code", "quiz1", "--log-level", "error"})

	go func() {
		io.WriteString(feed, "start 0\nbogus\nhistory\nclose\n")
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- cmd.Execute() }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("host command did not finish after close")
	}

	text := out.String()
	assert.Contains(t, text, "session QUIZ1 joined as admin")
	assert.Contains(t, text, "round armed")
	assert.Contains(t, text, `unknown command "bogus"`)
	assert.Contains(t, text, "history: empty")
	assert.Contains(t, text, "session closed")
}

func TestHostCommand_ResumeNeedsCode(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"host", "--resume"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--resume needs --code")
}

func TestDescribe(t *testing.T) {
	env, err := gateway.NewEnvelope(buzzer.EventBuzzList, []buzzer.BuzzEntry{
		{Name: "Bob", PressedAt: 1000},
		{Name: "Alice", PressedAt: 1045},
	})
	require.NoError(t, err)
	assert.Equal(t, "buzzes:\n  1. Bob\n  2. Alice (+45.0ms)", describe(env))

	env, err = gateway.NewEnvelope(buzzer.EventErrorMsg, buzzer.ErrSessionNotFound.Error())
	require.NoError(t, err)
	assert.Equal(t, "error: session not found or closed", describe(env))

	env, err = gateway.NewEnvelope(buzzer.EventTimerReset, nil)
	require.NoError(t, err)
	assert.Equal(t, "round reset", describe(env))
}
