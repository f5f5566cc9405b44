// Package server exposes the orchestrator over HTTP and a WebSocket chat endpoint.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/normanking/notionqa/internal/history"
	"github.com/normanking/notionqa/internal/logging"
	"github.com/normanking/notionqa/internal/metrics"
	"github.com/normanking/notionqa/internal/orchestrator"
)

const maxBodySize = 1 << 20

// Service is the part of the orchestrator the server depends on.
type Service interface {
	Answer(ctx context.Context, question string, useRemote bool) orchestrator.Envelope
	Status(ctx context.Context) orchestrator.Status
	History() []history.Turn
	ClearHistory()
}

// Options configures a Server.
type Options struct {
	Version string
	Logger  *logging.Logger
}

// Server handles the REST API and WebSocket connections.
type Server struct {
	svc      Service
	version  string
	log      *logging.Logger
	upgrader websocket.Upgrader
	handler  http.Handler

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// AnswerRequest is the body of POST /api/v1/answer.
type AnswerRequest struct {
	Question  string `json:"question"`
	UseRemote bool   `json:"use_remote"`
}

// HistoryResponse is the body of GET /api/v1/history.
type HistoryResponse struct {
	Turns []history.Turn `json:"turns"`
}

// WSMessage is exchanged over /ws in both directions.
type WSMessage struct {
	Type      string                 `json:"type"`
	Content   string                 `json:"content,omitempty"`
	UseRemote bool                   `json:"use_remote,omitempty"`
	Envelope  *orchestrator.Envelope `json:"envelope,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// New creates a server for svc.
func New(svc Service, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.Global()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		svc:     svc,
		version: version,
		log:     log.WithComponent("server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/answer", s.handleAnswer)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("DELETE /api/v1/history", s.handleClearHistory)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	s.handler = metricsMiddleware(mux)
	return s
}

// Handler returns the root handler, including request metrics.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:     s.handler,
		ReadTimeout: 30 * time.Second,
		// Remote executions and local pipeline runs can take minutes.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Info("HTTP server listening on %s", ln.Addr())

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeConns()
		err := httpServer.Shutdown(shutdownCtx)
		<-errChan
		s.log.Info("HTTP server stopped")
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	env := s.svc.Answer(r.Context(), req.Question, req.UseRemote)
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status(r.Context()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	turns := s.svc.History()
	if turns == nil {
		turns = []history.Turn{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Turns: turns})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.svc.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxBodySize)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	metrics.ActiveConnections.Inc()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		metrics.ActiveConnections.Dec()
		conn.Close()
	}()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read error: %v", err)
			}
			return
		}

		reply := s.handleWSMessage(r.Context(), msg)
		if err := conn.WriteJSON(reply); err != nil {
			s.log.Debug("websocket write error: %v", err)
			return
		}
	}
}

func (s *Server) handleWSMessage(ctx context.Context, msg WSMessage) WSMessage {
	switch msg.Type {
	case "question":
		if strings.TrimSpace(msg.Content) == "" {
			return WSMessage{Type: "error", Error: "question is required"}
		}
		env := s.svc.Answer(ctx, msg.Content, msg.UseRemote)
		return WSMessage{Type: "answer", Envelope: &env}
	case "clear":
		s.svc.ClearHistory()
		return WSMessage{Type: "cleared"}
	default:
		return WSMessage{Type: "error", Error: "unknown message type: " + msg.Type}
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		} else if i := strings.IndexByte(route, ' '); i >= 0 {
			route = route[i+1:]
		}
		metrics.RequestCount.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
