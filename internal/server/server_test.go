package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"monagent/internal/agent"
	"monagent/internal/auth"
	"monagent/internal/config"
	"monagent/pkg/section"
)

const password = "a-very-long-password-that-meets-minimum-length-requirements"

func static(name, body string) *section.Section {
	return section.New(name, section.ProducerFunc(func(w io.Writer) error {
		_, err := io.WriteString(w, body)
		return err
	}), nil)
}

func testAgent() *agent.Agent {
	return agent.New(
		static("uptime", "1234"),
		static("mem", "MemFree: 1 kB\n").WithRealtimeSupport(),
		static("local", "0 Web - <script>alert(1)</script>\n").WithSeparator('|'),
	)
}

func newTestServer(t *testing.T, withPassword bool) (*Server, *httptest.Server) {
	t.Helper()
	stateDir := t.TempDir()
	if withPassword {
		require.NoError(t, auth.AddPassword(stateDir, password))
	}
	srv, err := New(stateDir, testAgent())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.SetupRoutes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func get(t *testing.T, url, bearer string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHandleAgent(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, false)

	resp, body := get(t, ts.URL+"/agent", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	require.Equal(t,
		"<<<uptime>>>\n1234\n<<<mem>>>\nMemFree: 1 kB\n<<<local:sep(124)>>>\n0 Web - <script>alert(1)</script>\n",
		body)
}

func TestHandleSection(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, false)

	resp, body := get(t, ts.URL+"/agent/mem", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<<<mem>>>\nMemFree: 1 kB\n", body)

	resp, _ = get(t, ts.URL+"/agent/nope", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, false)

	resp, body := get(t, ts.URL+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	require.Contains(t, body, "<h2")
	require.Contains(t, body, "uptime")
	require.Contains(t, body, "MemFree: 1 kB")
	require.Contains(t, body, "&lt;script&gt;")
	require.NotContains(t, body, "<script>")
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, true)

	tests := []struct {
		name   string
		bearer string
		status int
	}{
		{name: "no credentials", status: http.StatusUnauthorized},
		{name: "wrong password", bearer: strings.Repeat("x", 40), status: http.StatusUnauthorized},
		{name: "valid password", bearer: password, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := get(t, ts.URL+"/agent", tt.bearer)
			require.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestAuthAppliesToPasswordAddedWhileServing(t *testing.T) {
	t.Parallel()
	srv, ts := newTestServer(t, false)

	resp, _ := get(t, ts.URL+"/agent", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, auth.AddPassword(srv.stateDir, password))

	resp, body := get(t, ts.URL+"/agent", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotContains(t, body, "<<<uptime>>>")

	resp, _ = get(t, ts.URL+"/agent", password)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequiredWhenPasswordsUnreadable(t *testing.T) {
	t.Parallel()
	srv, ts := newTestServer(t, false)

	// A file where the password directory belongs makes the lookup fail.
	require.NoError(t, os.WriteFile(filepath.Join(srv.stateDir, "hashed-passwords"), nil, 0o600))

	resp, _ := get(t, ts.URL+"/agent", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleRealtime(t *testing.T) {
	t.Parallel()
	srv, ts := newTestServer(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx, srv.agent, 10*time.Millisecond)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	messageType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	require.Equal(t, "<<<mem>>>\nMemFree: 1 kB\n", string(payload))
}

func TestHandleRealtimeRejectsForeignOrigin(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, false)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime"
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServeTCP(t *testing.T) {
	t.Parallel()
	srv, err := New(t.TempDir(), testAgent())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.ServeTCP(ln) }()

	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		data, err := io.ReadAll(conn)
		require.NoError(t, err)
		_ = conn.Close()
		require.True(t, strings.HasPrefix(string(data), "<<<uptime>>>\n1234\n"))
	}

	require.NoError(t, ln.Close())
	require.NoError(t, <-done)
}

func TestRun(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	cfg.Listen = "127.0.0.1:0"
	cfg.HTTPListen = ""

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, testAgent()) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunWithoutListeners(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	cfg.Listen = ""
	cfg.HTTPListen = ""

	require.Error(t, Run(context.Background(), cfg, testAgent()))
}

func TestGetStateDir(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	missing := filepath.Join(base, "state")

	_, err := GetStateDir(missing, false)
	require.Error(t, err)

	dir, err := GetStateDir(missing, true)
	require.NoError(t, err)
	require.Equal(t, missing, dir)

	info, err := os.Stat(missing)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
