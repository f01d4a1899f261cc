// Package health exposes the bot's local HTTP surface: liveness, status,
// metrics and a small authenticated command endpoint.
package health

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"contactbot/internal/bot"
	"contactbot/internal/metrics"
)

const maxBodySize = 1 << 16

// BotController is the subset of the bot surface the HTTP layer drives.
type BotController interface {
	Status() bot.Status
	Online() bool
	SendText(ctx context.Context, recipientID, text string) error
	Restart(ctx context.Context) error
}

// Server is the local health endpoint.
type Server struct {
	host    string
	port    int
	token   string
	version string
	bot     BotController
	logger  *slog.Logger
	server  *http.Server
	started time.Time
}

type Config struct {
	Host    string
	Port    int
	Token   string // empty disables POST /command entirely
	Version string
	Bot     BotController
	Logger  *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		host:    cfg.Host,
		port:    cfg.Port,
		token:   cfg.Token,
		version: cfg.Version,
		bot:     cfg.Bot,
		logger:  cfg.Logger,
	}
}

// Start serves until ctx is canceled. It blocks, so callers run it on its
// own goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", metrics.Collector.Handler())
	mux.HandleFunc("POST /command", s.requireToken(s.handleCommand))

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("health server started", "addr", "http://"+addr, "commands", s.token != "")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	st := s.bot.Status()
	phase := "logged_out"
	switch {
	case st.Running:
		phase = "running"
	case st.LoggedIn:
		phase = "logged_in"
	}

	writeJSON(rw, http.StatusOK, map[string]any{
		"status":  "ok",
		"phase":   phase,
		"online":  s.bot.Online(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"version": s.version,
	})
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.bot.Status())
}

// requireToken gates command execution behind the configured bearer token.
// An unset token disables the endpoint rather than leaving it open.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			http.Error(rw, "commands are disabled", http.StatusForbidden)
			return
		}
		auth := r.Header.Get("Authorization")
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			http.Error(rw, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(rw, r)
	}
}

type commandRequest struct {
	Action    string `json:"action"`
	Recipient string `json:"recipient,omitempty"`
	Text      string `json:"text,omitempty"`
}

func (s *Server) handleCommand(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(rw, "can't read body", http.StatusBadRequest)
		return
	}
	var cmd commandRequest
	if err := json.Unmarshal(body, &cmd); err != nil {
		http.Error(rw, "invalid JSON body", http.StatusBadRequest)
		return
	}

	s.logger.Info("command received", "action", cmd.Action)

	switch cmd.Action {
	case "sendMessage":
		if cmd.Recipient == "" || cmd.Text == "" {
			http.Error(rw, "sendMessage needs recipient and text", http.StatusBadRequest)
			return
		}
		if err := s.bot.SendText(r.Context(), cmd.Recipient, cmd.Text); err != nil {
			writeJSON(rw, http.StatusBadGateway, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"result": "sent"})

	case "restart":
		if err := s.bot.Restart(r.Context()); err != nil {
			writeJSON(rw, http.StatusBadGateway, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"result": "restarted"})

	default:
		http.Error(rw, "unknown action: "+cmd.Action, http.StatusBadRequest)
	}
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(v)
}
