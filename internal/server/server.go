// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"embed"
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/ottodev/internal/chat"
	"github.com/jeranaias/ottodev/internal/ollama"
	"github.com/jeranaias/ottodev/internal/transcript"
	"github.com/jeranaias/ottodev/internal/upload"
)

//go:embed web
var webFS embed.FS

const (
	// maxMessageBody bounds a POST /api/messages body.
	maxMessageBody = 64 << 10

	// multipartOverhead is allowed on top of the upload size limit for
	// multipart boundaries and headers.
	multipartOverhead = 1 << 20

	// uploadListLimit bounds GET /api/uploads.
	uploadListLimit = 100
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Addr is the listen address (e.g. "127.0.0.1:8080").
	Addr string

	// AllowedOrigins lists origins allowed for CORS and WebSocket upgrades,
	// beyond same-origin.
	AllowedOrigins []string

	// RateLimitPerMinute is the per-IP request budget; zero disables limiting.
	RateLimitPerMinute int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ModelLister reports Ollama status and its local models.
type ModelLister interface {
	CheckRunning(ctx context.Context) error
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// UploadLister lists stored uploads.
type UploadLister interface {
	List(ctx context.Context, limit int) ([]upload.Record, error)
	MaxBytes() int64
}

// =============================================================================
// SERVER
// =============================================================================

// Server is the HTTP server for the browser UI.
type Server struct {
	cfg      Config
	session  *chat.Session
	uploads  UploadLister
	models   ModelLister
	log      zerolog.Logger
	router   *http.ServeMux
	handler  http.Handler
	pool     *ConnectionPool
	upgrader websocket.Upgrader
	cors     *CORSConfig

	httpServer *http.Server

	stopBroadcast  context.CancelFunc
	broadcastDone  chan struct{}
	shutdownOnce   sync.Once
	shutdownResult error
}

// New creates a server for session. uploads and models may be nil, in which
// case the matching endpoints report the feature as unavailable.
func New(cfg Config, session *chat.Session, uploads UploadLister, models ModelLister, logger zerolog.Logger) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}

	logger = logger.With().Str("component", "server").Logger()
	s := &Server{
		cfg:           cfg,
		session:       session,
		uploads:       uploads,
		models:        models,
		log:           logger,
		router:        http.NewServeMux(),
		pool:          NewConnectionPool(logger),
		cors:          NewCORSConfig(cfg.AllowedOrigins),
		broadcastDone: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(logger),
		CORSMiddleware(s.cors),
	}
	if cfg.RateLimitPerMinute > 0 {
		middlewares = append(middlewares, RateLimitMiddleware(NewRateLimiter(cfg.RateLimitPerMinute), logger))
	}
	s.handler = Chain(middlewares...)(s.router)
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		// Zero keeps WebSocket connections from being cut mid-stream.
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopBroadcast = cancel
	go s.broadcast(ctx)

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	static, err := fs.Sub(webFS, "web")
	if err != nil {
		panic(err)
	}
	s.router.Handle("GET /{$}", s.serveIndex(static))
	s.router.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /api/transcript", s.handleTranscript)
	s.router.HandleFunc("POST /api/messages", s.handleSendMessage)
	s.router.HandleFunc("POST /api/transcript/reset", s.handleReset)
	s.router.HandleFunc("POST /api/uploads", s.handleUpload)
	s.router.HandleFunc("GET /api/uploads", s.handleListUploads)
	s.router.HandleFunc("GET /api/models", s.handleListModels)
	s.router.HandleFunc("GET /ws", s.handleWebSocket)
}

// Handler returns the HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and blocks until the server is
// shut down. It returns nil after a clean Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server failed")
	}
	return nil
}

// Shutdown stops the broadcaster, closes WebSocket clients and gracefully
// stops the HTTP server. It does not close the chat session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.stopBroadcast()
		<-s.broadcastDone
		s.pool.CloseAll()
		s.shutdownResult = s.httpServer.Shutdown(ctx)
	})
	return s.shutdownResult
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) serveIndex(static fs.FS) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(static, "index.html")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "UI not available")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(data)
	})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Ollama string `json:"ollama"`
	Model  string `json:"model"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Ollama: "unknown", Model: s.session.Model()}
	if s.models != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.models.CheckRunning(ctx); err != nil {
			resp.Ollama = "unreachable"
		} else {
			resp.Ollama = "running"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSnapshotResponse(s.session.Snapshot()))
}

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	snap, err := s.session.Send(r.Context(), req.Content)
	if err != nil {
		writeErrorWithSnapshot(w, statusFor(err), errorMessage(err), snap)
		return
	}
	writeJSON(w, http.StatusAccepted, newSnapshotResponse(snap))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Reset(); err != nil {
		writeErrorWithSnapshot(w, statusFor(err), errorMessage(err), s.session.Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotResponse(s.session.Snapshot()))
}

// UploadResponse is the body of POST /api/uploads.
type UploadResponse struct {
	Upload   *upload.Record   `json:"upload,omitempty"`
	Snapshot snapshotResponse `json:"snapshot"`
	Error    string           `json:"error,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		writeError(w, http.StatusNotImplemented, errorMessage(chat.ErrNoUploader))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.uploads.MaxBytes()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Expected multipart/form-data")
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			writeError(w, http.StatusBadRequest, "Missing file field")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "Malformed multipart body")
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		snap, rec, err := s.session.Upload(r.Context(), part.FileName(), part)
		_ = part.Close()

		resp := UploadResponse{Upload: rec, Snapshot: newSnapshotResponse(snap)}
		if err != nil {
			resp.Error = errorMessage(err)
			writeJSON(w, statusFor(err), resp)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
		return
	}
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		writeJSON(w, http.StatusOK, map[string]any{"uploads": []upload.Record{}})
		return
	}
	records, err := s.uploads.List(r.Context(), uploadListLimit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list uploads")
		writeError(w, http.StatusInternalServerError, "Failed to list uploads")
		return
	}
	if records == nil {
		records = []upload.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": records})
}

// ModelResponse describes one model in GET /api/models.
type ModelResponse struct {
	Name       string    `json:"name"`
	Size       string    `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Current    bool      `json:"current"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		writeError(w, http.StatusNotImplemented, "Model listing is not available")
		return
	}
	models, err := s.models.ListModels(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to list models")
		writeError(w, http.StatusBadGateway, "Could not reach Ollama")
		return
	}

	current := s.session.Model()
	out := make([]ModelResponse, 0, len(models))
	for _, m := range models {
		out = append(out, ModelResponse{
			Name:       m.Name,
			Size:       m.FormatSize(),
			ModifiedAt: m.ModifiedAt,
			Current:    m.Name == current,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

// =============================================================================
// RESPONSES
// =============================================================================

// messageResponse is a transcript message as the browser renders it.
type messageResponse struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	DisplayName string    `json:"display_name"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Time        string    `json:"time"`
}

// snapshotResponse is the JSON form of a transcript snapshot.
type snapshotResponse struct {
	Messages []messageResponse `json:"messages"`
	InFlight bool              `json:"in_flight"`
	Started  bool              `json:"started"`
	Version  uint64            `json:"version"`
	Status   string            `json:"status"`
}

func newSnapshotResponse(snap transcript.Snapshot) snapshotResponse {
	msgs := make([]messageResponse, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		msgs = append(msgs, messageResponse{
			ID:          m.ID,
			Role:        m.Role.String(),
			DisplayName: m.Role.DisplayName(),
			Content:     m.Content,
			Timestamp:   m.Timestamp,
			Time:        m.Clock(),
		})
	}
	return snapshotResponse{
		Messages: msgs,
		InFlight: snap.InFlight,
		Started:  snap.Started,
		Version:  snap.Version,
		Status:   snap.Status(),
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error    string            `json:"error"`
	Snapshot *snapshotResponse `json:"snapshot,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeErrorWithSnapshot(w http.ResponseWriter, status int, message string, snap transcript.Snapshot) {
	resp := newSnapshotResponse(snap)
	writeJSON(w, status, ErrorResponse{Error: message, Snapshot: &resp})
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, transcript.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, transcript.ErrTurnInFlight):
		return http.StatusConflict
	case errors.Is(err, upload.ErrTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrTypeNotAllowed):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, upload.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNoUploader):
		return http.StatusNotImplemented
	case errors.Is(err, chat.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage returns the client-facing text for err.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, transcript.ErrEmptyInput):
		return "Message is empty"
	case errors.Is(err, transcript.ErrTurnInFlight):
		return "A reply is still streaming"
	case errors.Is(err, chat.ErrNoUploader):
		return "Uploads are not enabled"
	case errors.Is(err, chat.ErrClosed):
		return "Server is shutting down"
	}
	var upErr *upload.Error
	if errors.As(err, &upErr) && upErr.Kind != upload.KindStorage {
		return upErr.Error()
	}
	return "Internal server error"
}
