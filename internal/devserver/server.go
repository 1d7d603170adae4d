// Package devserver is a stand-in inference server for local development. It
// speaks the same protocol as the real one: a JSON body with a message and a
// base64 screenshot, answered by a plain-text stream with one token per line.
package devserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"screenrelay/internal/domain"
)

const maxBodyBytes = 64 << 20

// Replier produces the reply tokens for one request.
type Replier func(message string, img image.Config, format string) []string

// EchoReplier describes the image and repeats the message, one word per token.
func EchoReplier(message string, img image.Config, format string) []string {
	reply := fmt.Sprintf("I see a %dx%d %s screenshot. You asked: %s", img.Width, img.Height, format, message)
	return strings.Fields(reply)
}

type Server struct {
	addr   string
	delay  time.Duration
	reply  Replier
	server *http.Server
	logger *slog.Logger
}

type Config struct {
	Addr    string
	Delay   time.Duration // between streamed tokens
	Replier Replier
	Logger  *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:5000"
	}
	if cfg.Replier == nil {
		cfg.Replier = EchoReplier
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		addr:   cfg.Addr,
		delay:  cfg.Delay,
		reply:  cfg.Replier,
		logger: cfg.Logger,
	}
}

// Handler serves the inference endpoint at "/".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleMessage)
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("dev inference server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("dev inference server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("dev inference server: %w", err)
	}
}

func (s *Server) handleMessage(rw http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}

	var req domain.OutgoingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.logger.Warn("invalid request body", "err", err)
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	s.logger.Info("received request", "message_len", len(req.Message), "image_len", len(req.Image))

	if req.Image == "" {
		s.logger.Warn("no image provided")
		http.Error(rw, "No image provided", http.StatusBadRequest)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		s.logger.Error("failed to decode image", "err", err)
		http.Error(rw, "Invalid image data", http.StatusBadRequest)
		return
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		s.logger.Error("failed to decode image", "err", err)
		http.Error(rw, "Invalid image data", http.StatusBadRequest)
		return
	}

	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	flusher, _ := rw.(http.Flusher)
	for i, token := range s.reply(req.Message, cfg, format) {
		if i > 0 && s.delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.delay):
			}
		}
		if _, err := io.WriteString(rw, token+"\n"); err != nil {
			s.logger.Debug("client went away", "err", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
