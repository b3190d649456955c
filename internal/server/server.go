// Package server exposes the agent output over a raw TCP port and over HTTP.
package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"monagent/internal/agent"
	"monagent/internal/auth"
	"monagent/internal/config"
	"monagent/internal/realtime"
	"monagent/pkg/markdown"
	"monagent/pkg/section"
)

// writeTimeout bounds a single agent output to one client.
const writeTimeout = 60 * time.Second

var statusTemplate = template.Must(template.New("status.html").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
{{.Body}}
</body>
</html>
`))

type Server struct {
	stateDir string
	agent    *agent.Agent
	hub      *realtime.Hub
	hostname string
}

func New(stateDir string, a *agent.Agent) (*Server, error) {
	if _, err := auth.HasPasswords(stateDir); err != nil {
		return nil, err
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return &Server{
		stateDir: stateDir,
		agent:    a,
		hub:      realtime.NewHub(),
		hostname: hostname,
	}, nil
}

// httpError is returned by handlers to answer with a specific status code.
type httpError struct {
	StatusCode int
	Message    string
}

func (e *httpError) Error() string {
	return e.Message
}

// contentTypeError carries a successful response with a content type other than the default.
type contentTypeError struct {
	contentType string
	data        []byte
}

func (e *contentTypeError) Error() string {
	return "content type: " + e.contentType
}

type handlerFunc func(context.Context, *http.Request) ([]byte, error)

// wrapHandler adapts a handlerFunc to http.HandlerFunc
func (s *Server) wrapHandler(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := h(r.Context(), r)
		if err != nil {
			var cte *contentTypeError
			if errors.As(err, &cte) {
				w.Header().Set("Content-Type", cte.contentType)
				_, _ = w.Write(cte.data)
				return
			}
			status := http.StatusInternalServerError
			var he *httpError
			if errors.As(err, &he) {
				status = he.StatusCode
			}
			slog.Error("HTTP handler error",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"error", err.Error())
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if len(data) > 0 {
			_, _ = w.Write(data)
		}
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker to support WebSocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
}

// requireAuth reports whether a password is configured. It is checked on every request
// so passwords added while serving take effect at once.
func (s *Server) requireAuth() bool {
	hasPasswords, err := auth.HasPasswords(s.stateDir)
	if err != nil {
		slog.Error("Failed to check for passwords, requiring auth", "error", err)
		return true
	}
	return hasPasswords
}

// authMiddleware accepts "Authorization: Bearer <password>". Without configured
// passwords every request is let through.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.requireAuth() {
			password, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !auth.CheckPassword(s.stateDir, password) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="monagent"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /agent", s.authMiddleware(s.wrapHandler(s.handleAgent)))
	mux.HandleFunc("GET /agent/{section}", s.authMiddleware(s.wrapHandler(s.handleSection)))
	mux.HandleFunc("GET /status", s.authMiddleware(s.wrapHandler(s.handleStatus)))
	mux.HandleFunc("GET /realtime", s.authMiddleware(s.handleRealtime))

	return s.loggingMiddleware(mux)
}

func (s *Server) handleAgent(ctx context.Context, r *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.agent.Produce(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) handleSection(ctx context.Context, r *http.Request) ([]byte, error) {
	name := r.PathValue("section")
	if _, ok := s.agent.Lookup(name); !ok {
		return nil, &httpError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("unknown section %q", name)}
	}

	var buf bytes.Buffer
	if err := s.agent.ProduceSection(&buf, name); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) handleStatus(ctx context.Context, r *http.Request) ([]byte, error) {
	var out bytes.Buffer
	if err := s.agent.Produce(&out); err != nil {
		return nil, err
	}

	blocks := section.NewReader(&out).All()
	body := markdown.RenderToHTML(markdown.SectionsToMarkdown(s.hostname, blocks))

	var page bytes.Buffer
	err := statusTemplate.Execute(&page, map[string]interface{}{
		"Title": s.hostname,
		"Body":  template.HTML(body),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}
	return nil, &contentTypeError{contentType: "text/html; charset=utf-8", data: page.Bytes()}
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin: func(r *http.Request) bool {
		// Allow requests without Origin header (e.g., from native clients)
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		if origin == "http://"+host || origin == "https://"+host {
			return true
		}
		slog.Warn("Rejected WebSocket connection from unauthorized origin", "origin", origin, "host", host)
		return false
	},
}

// handleRealtime streams the realtime sections as one text message per round.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("Failed to close WebSocket connection", "error", err)
		}
	}()

	client := realtime.NewClient(10)
	s.hub.RegisterClient(client)
	defer s.hub.UnregisterClient(client.ID)
	defer close(client.Done)

	// The reader only notices the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case payload := <-client.EventChan:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Debug("Failed to write WebSocket message", "error", err)
				return
			}
		}
	}
}

// ServeTCP writes one full agent output to every accepted connection and closes it,
// until the listener is closed.
func (s *Server) ServeTCP(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	w := bufio.NewWriter(conn)
	if err := s.agent.Produce(w); err != nil {
		slog.Warn("Failed to send agent output", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	if err := w.Flush(); err != nil {
		slog.Warn("Failed to send agent output", "remote", conn.RemoteAddr().String(), "error", err)
	}
}

// GetStateDir returns the state directory, using the provided value,
// or falling back to $STATE_DIRECTORY environment variable, or .monagent.
// If createIfMissing is true, it will create the directory if it doesn't exist.
func GetStateDir(stateDir string, createIfMissing bool) (string, error) {
	if stateDir == "" {
		stateDir = os.Getenv("STATE_DIRECTORY")
		if stateDir == "" {
			stateDir = ".monagent"
		}
	}

	_, err := os.Stat(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			if createIfMissing {
				if err := os.MkdirAll(stateDir, 0o700); err != nil {
					return "", fmt.Errorf("failed to create state directory: %w", err)
				}
				return stateDir, nil
			}
			return "", fmt.Errorf("STATE_DIRECTORY not set, and %q does not exist. Provide either the env variable or the directory: %w", stateDir, err)
		}
		return "", fmt.Errorf("STATE_DIRECTORY=%s: %w", stateDir, err)
	}

	return stateDir, nil
}

// Run serves the agent on the TCP and HTTP addresses of cfg until ctx is done.
// An empty address disables that listener.
func Run(ctx context.Context, cfg *config.Config, a *agent.Agent) error {
	srv, err := New(cfg.StateDir, a)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if cfg.HTTPListen != "" && !srv.requireAuth() {
		slog.Warn("No passwords configured, HTTP endpoints are open. Add one with: monagent add-password")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 2)
	running := 0

	go srv.hub.Run(ctx, a, cfg.RealtimeInterval)

	if cfg.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
		}
		slog.Info("Serving agent output", "addr", ln.Addr().String())
		go func() { <-ctx.Done(); _ = ln.Close() }()
		running++
		go func() { errs <- srv.ServeTCP(ln) }()
	}

	if cfg.HTTPListen != "" {
		httpServer := &http.Server{
			Addr:              cfg.HTTPListen,
			Handler:           srv.SetupRoutes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
		slog.Info("Starting HTTP server", "addr", cfg.HTTPListen)
		running++
		go func() {
			err := httpServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			errs <- err
		}()
	}

	if running == 0 {
		return fmt.Errorf("neither listen nor http_listen is configured")
	}

	var firstErr error
	for i := 0; i < running; i++ {
		// One listener stopping stops the other.
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
	}
	return firstErr
}
