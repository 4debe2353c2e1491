// Package httpapi exposes the webhook surface that feeds the reminder
// pipelines.
package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"remindd/internal/event"
	"remindd/internal/recorder"
	"remindd/pkg/logx"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Chat-Signature"

const maxBodySize = 1 << 20

type Config struct {
	Address string `json:"address"`
	// SignatureKey is the shared secret the chat platform signs webhook
	// bodies with.
	SignatureKey string `json:"signature_key"`
	// BypassSignature skips verification. Test environments only.
	BypassSignature bool `json:"bypass_signature"`
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = "127.0.0.1:8080"
	}
}

// Server hosts the chat and consultation webhook endpoints.
type Server struct {
	cfg     Config
	chat    *recorder.ChatRecorder
	consult *recorder.ConsultationRecorder
	log     logx.Logger

	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, chat *recorder.ChatRecorder, consult *recorder.ConsultationRecorder, log logx.Logger) *Server {
	cfg.normalize()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, chat: chat, consult: consult, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Post("/webhooks/chat", s.handleChat)
	r.Post("/webhooks/consultation", s.handleConsultation)

	s.srv = &http.Server{
		Addr:              cfg.Address,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Addr reports the bound listen address once Start has succeeded.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Address
	}
	return s.ln.Addr().String()
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("webhook server stopped", logx.Err(err))
		}
	}()
	s.log.Info("webhook server listening", logx.String("addr", s.Addr()))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if !s.verifySignature(w, r, body) {
		return
	}

	var head event.Header
	if err := json.Unmarshal(body, &head); err != nil {
		s.log.Warn("chat webhook payload undecodable", logx.Err(err))
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	switch head.Category {
	case event.CategoryMessageSend:
		var ev event.MessageSendEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			s.log.Warn("message_send payload undecodable", logx.Err(err))
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		if err := s.chat.MessageSent(r.Context(), ev, body); err != nil {
			s.log.Error("message_send staging failed",
				logx.String("channel", ev.Channel.ChannelURL),
				logx.Err(err))
			http.Error(w, "staging failed", http.StatusInternalServerError)
			return
		}
	case event.CategoryMessageRead:
		var ev event.MessageReadEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			s.log.Warn("message_read payload undecodable", logx.Err(err))
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		removed, err := s.chat.MessageRead(r.Context(), ev)
		if err != nil {
			s.log.Error("message_read cancellation failed",
				logx.String("channel", ev.Channel.ChannelURL),
				logx.Err(err))
			http.Error(w, "cancellation failed", http.StatusInternalServerError)
			return
		}
		s.log.Debug("message_read processed",
			logx.String("channel", ev.Channel.ChannelURL),
			logx.Int("cancelled", removed))
	default:
		s.log.Warn("unsupported chat event category", logx.String("category", head.Category))
		http.Error(w, "event category not supported", http.StatusNotAcceptable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleConsultation(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var con event.Consultation
	if err := json.Unmarshal(body, &con); err != nil {
		s.log.Warn("consultation payload undecodable", logx.Err(err))
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(con.ID) == "" {
		http.Error(w, "consultation id is required", http.StatusBadRequest)
		return
	}

	if err := s.consult.Updated(r.Context(), con, body); err != nil {
		s.log.Error("consultation staging failed",
			logx.String("consultation", con.ID),
			logx.Err(err))
		http.Error(w, "staging failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return nil, false
	}
	if len(body) == 0 {
		http.Error(w, "empty payload", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (s *Server) verifySignature(w http.ResponseWriter, r *http.Request, body []byte) bool {
	if s.cfg.BypassSignature {
		return true
	}
	if strings.TrimSpace(s.cfg.SignatureKey) == "" {
		s.log.Error("webhook signature key is not configured")
		http.Error(w, "server misconfigured", http.StatusInternalServerError)
		return false
	}
	got := strings.TrimSpace(r.Header.Get(SignatureHeader))
	if got == "" {
		http.Error(w, "missing signature", http.StatusUnauthorized)
		return false
	}
	want := Sign(s.cfg.SignatureKey, body)
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		s.log.Warn("webhook signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return false
	}
	return true
}

// Sign computes the hex HMAC-SHA256 webhook signature for a body.
func Sign(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
