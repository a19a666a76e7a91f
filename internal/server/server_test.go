// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ottodev/internal/chat"
	"github.com/jeranaias/ottodev/internal/ollama"
	"github.com/jeranaias/ottodev/internal/transcript"
	"github.com/jeranaias/ottodev/internal/upload"
)

// =============================================================================
// FIXTURES
// =============================================================================

// fakeStreamer replies with fixed chunks. With a gate, each chunk waits for
// a value on gate.
type fakeStreamer struct {
	chunks []string
	gate   chan struct{}
}

func (f *fakeStreamer) ChatStreamChan(ctx context.Context, _ string, _ []ollama.Message) <-chan ollama.StreamChunk {
	ch := make(chan ollama.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range f.chunks {
			if f.gate != nil {
				select {
				case <-f.gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- ollama.StreamChunk{Content: c}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- ollama.StreamChunk{Done: true, DoneReason: "stop"}:
		case <-ctx.Done():
		}
	}()
	return ch
}

type fakeModels struct {
	err error
}

func (f *fakeModels) CheckRunning(context.Context) error { return f.err }

func (f *fakeModels) ListModels(context.Context) ([]ollama.ModelInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []ollama.ModelInfo{
		{Name: "llama3.2", Size: 2 << 30},
		{Name: "qwen2.5-coder:14b", Size: 9 << 30},
	}, nil
}

type fixture struct {
	srv      *Server
	session  *chat.Session
	streamer *fakeStreamer
	uploads  *upload.Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	uploads, err := upload.Open(upload.Config{
		Dir:               t.TempDir(),
		MaxBytes:          64,
		AllowedExtensions: []string{".txt", ".go"},
	}, zerolog.Nop())
	require.NoError(t, err)

	streamer := &fakeStreamer{chunks: []string{"Hi", " there"}}
	session := chat.NewSession(streamer, chat.Options{
		Model:    "llama3.2",
		Uploader: uploads,
		Logger:   zerolog.Nop(),
	})
	srv := New(cfg, session, uploads, &fakeModels{}, zerolog.Nop())

	t.Cleanup(func() {
		if streamer.gate != nil {
			close(streamer.gate)
		}
		_ = srv.Shutdown(context.Background())
		_ = session.Close()
		_ = uploads.Close()
	})
	return &fixture{srv: srv, session: session, streamer: streamer, uploads: uploads}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) post(t *testing.T, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(SendMessageRequest{Content: content})
	require.NoError(t, err)
	return f.do(t, http.MethodPost, "/api/messages", body, "application/json")
}

func multipartFile(t *testing.T, name, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

// =============================================================================
// HANDLER TESTS
// =============================================================================

func TestIndex_ServesUIWithSecurityHeaders(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(t, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Create a React component")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'self'")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = f.do(t, http.MethodGet, "/static/app.js", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "running", resp.Ollama)
	assert.Equal(t, "llama3.2", resp.Model)

	f.srv.models = &fakeModels{err: ollama.ErrNotRunning}
	w = f.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, "unreachable", decode[HealthResponse](t, w).Ollama)
}

func TestSendMessage_StreamsInBackground(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.post(t, "  Hello  ")
	require.Equal(t, http.StatusAccepted, w.Code)
	snap := decode[snapshotResponse](t, w)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "Hello", snap.Messages[0].Content)
	assert.Equal(t, "You", snap.Messages[0].DisplayName)
	assert.Equal(t, "AI Assistant", snap.Messages[1].DisplayName)
	assert.True(t, snap.Started)

	require.NoError(t, f.session.Wait())

	w = f.do(t, http.MethodGet, "/api/transcript", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	snap = decode[snapshotResponse](t, w)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "Hi there", snap.Messages[1].Content)
	assert.False(t, snap.InFlight)
	assert.Equal(t, "Ready to help", snap.Status)
	assert.Len(t, snap.Messages[1].Time, 5)
}

func TestSendMessage_Rejections(t *testing.T) {
	f := newFixture(t, Config{})
	f.streamer.gate = make(chan struct{})

	w := f.do(t, http.MethodPost, "/api/messages", []byte("{not json"), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.post(t, "   ")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "Message is empty", resp.Error)
	require.NotNil(t, resp.Snapshot)
	assert.Empty(t, resp.Snapshot.Messages)

	require.Equal(t, http.StatusAccepted, f.post(t, "first").Code)

	w = f.post(t, "second")
	assert.Equal(t, http.StatusConflict, w.Code)
	resp = decode[ErrorResponse](t, w)
	require.NotNil(t, resp.Snapshot)
	assert.Len(t, resp.Snapshot.Messages, 2)
	assert.True(t, resp.Snapshot.InFlight)
	assert.Equal(t, "Thinking...", resp.Snapshot.Status)

	w = f.do(t, http.MethodPost, "/api/transcript/reset", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReset(t *testing.T) {
	f := newFixture(t, Config{})
	require.Equal(t, http.StatusAccepted, f.post(t, "Hello").Code)
	require.NoError(t, f.session.Wait())

	w := f.do(t, http.MethodPost, "/api/transcript/reset", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[snapshotResponse](t, w)
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.Started)
}

func TestUpload(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		content    string
		wantStatus int
		wantNotice string
	}{
		{"accepted", "main.go", "package main", http.StatusCreated, "📎 File uploaded successfully: main.go"},
		{"disallowed type", "evil.exe", "MZ", http.StatusUnsupportedMediaType, transcript.UploadFailureText},
		{"too large", "big.txt", strings.Repeat("x", 65), http.StatusRequestEntityTooLarge, transcript.UploadFailureText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			body, ct := multipartFile(t, tt.filename, tt.content)

			w := f.do(t, http.MethodPost, "/api/uploads", body, ct)
			require.Equal(t, tt.wantStatus, w.Code)

			resp := decode[UploadResponse](t, w)
			require.Len(t, resp.Snapshot.Messages, 1)
			assert.Equal(t, tt.wantNotice, resp.Snapshot.Messages[0].Content)
			assert.Equal(t, "assistant", resp.Snapshot.Messages[0].Role)

			if tt.wantStatus == http.StatusCreated {
				require.NotNil(t, resp.Upload)
				assert.Equal(t, int64(len(tt.content)), resp.Upload.Size)
				assert.Empty(t, resp.Error)
			} else {
				assert.Nil(t, resp.Upload)
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
}

func TestUpload_BadRequests(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(t, http.MethodPost, "/api/uploads", []byte("plain"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no file here"))
	require.NoError(t, mw.Close())
	w = f.do(t, http.MethodPost, "/api/uploads", buf.Bytes(), mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.session.Snapshot().Messages)
}

func TestUpload_RejectedWhileStreaming(t *testing.T) {
	f := newFixture(t, Config{})
	f.streamer.gate = make(chan struct{})
	require.Equal(t, http.StatusAccepted, f.post(t, "Hello").Code)

	body, ct := multipartFile(t, "notes.txt", "hi")
	w := f.do(t, http.MethodPost, "/api/uploads", body, ct)
	assert.Equal(t, http.StatusConflict, w.Code)

	records, err := f.uploads.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestListUploads(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(t, http.MethodGet, "/api/uploads", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"uploads":[]}`, w.Body.String())

	body, ct := multipartFile(t, "notes.txt", "hello")
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/uploads", body, ct).Code)

	w = f.do(t, http.MethodGet, "/api/uploads", nil, "")
	resp := decode[map[string][]upload.Record](t, w)
	require.Len(t, resp["uploads"], 1)
	assert.Equal(t, "notes.txt", resp["uploads"][0].Name)
}

func TestListModels(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(t, http.MethodGet, "/api/models", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string][]ModelResponse](t, w)
	require.Len(t, resp["models"], 2)
	assert.True(t, resp["models"][0].Current)
	assert.False(t, resp["models"][1].Current)

	f.srv.models = &fakeModels{err: ollama.ErrNotRunning}
	w = f.do(t, http.MethodGet, "/api/models", nil, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/transcript", nil, "").Code)
	}
	w := f.do(t, http.MethodGet, "/api/transcript", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestCORS(t *testing.T) {
	f := newFixture(t, Config{AllowedOrigins: []string{"http://localhost:5173", "*.example.com"}})

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:5173", true},
		{"https://app.example.com", true},
		{"http://evil.test", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
		req.Header.Set("Origin", tt.origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		w := httptest.NewRecorder()
		f.srv.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code, tt.origin)
		if tt.allowed {
			assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
		} else {
			assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct", "203.0.113.5:1234", "", "203.0.113.5"},
		{"untrusted proxy ignored", "203.0.113.5:1234", "1.2.3.4", "203.0.113.5"},
		{"trusted proxy honored", "127.0.0.1:1234", "1.2.3.4, 10.0.0.1", "1.2.3.4"},
		{"invalid forwarded value", "127.0.0.1:1234", "garbage", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{transcript.ErrEmptyInput, http.StatusBadRequest},
		{transcript.ErrTurnInFlight, http.StatusConflict},
		{upload.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{upload.ErrTypeNotAllowed, http.StatusUnsupportedMediaType},
		{upload.ErrInvalidName, http.StatusBadRequest},
		{chat.ErrNoUploader, http.StatusNotImplemented},
		{chat.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

// =============================================================================
// WEBSOCKET TESTS
// =============================================================================

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev wsEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWebSocket_PushesSnapshots(t *testing.T) {
	f := newFixture(t, Config{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readEvent(t, conn)
	assert.Equal(t, "snapshot", first.Type)
	assert.Empty(t, first.Snapshot.Messages)

	resp, err := http.Post(ts.URL+"/api/messages", "application/json", strings.NewReader(`{"content":"Hello"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Snapshots are coalesced; read until the turn settles.
	var last wsEvent
	for {
		last = readEvent(t, conn)
		if last.Snapshot.Started && !last.Snapshot.InFlight {
			break
		}
	}
	require.Len(t, last.Snapshot.Messages, 2)
	assert.Equal(t, "Hi there", last.Snapshot.Messages[1].Content)
	assert.Equal(t, "Ready to help", last.Snapshot.Status)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	f := newFixture(t, Config{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
