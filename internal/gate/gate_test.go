package gate_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/jamox/tmc-sandbox/internal/gate"
	"github.com/jamox/tmc-sandbox/internal/metrics"
	"github.com/jamox/tmc-sandbox/internal/notify"
	"github.com/jamox/tmc-sandbox/internal/runner"
)

type fakeStarter struct {
	err      error
	archives []string
	notifier notify.Notifier
}

func (f *fakeStarter) Start(archivePath string, notifier notify.Notifier) error {
	if f.err != nil {
		return f.err
	}
	f.archives = append(f.archives, archivePath)
	f.notifier = notifier
	return nil
}

func newTestGate(t *testing.T, starter gate.RunStarter) http.Handler {
	t.Helper()
	lockPath := filepath.Join(t.TempDir(), "sandbox.lock")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return gate.New(starter, lockPath, log, metrics.New()).Router()
}

func multipartBody(t *testing.T, fields map[string]string, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if fileContent != nil {
		fw, err := mw.CreateFormFile("file", "submission.tar")
		require.NoError(t, err)
		_, err = fw.Write(fileContent)
		require.NoError(t, err)
	}
	for key, val := range fields {
		require.NoError(t, mw.WriteField(key, val))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["status"]
}

func TestSubmitOk(t *testing.T) {
	starter := &fakeStarter{}
	handler := newTestGate(t, starter)

	body, contentType := multipartBody(t, nil, []byte("archive bytes"))
	req := httptest.NewRequest("POST", "/tasks.json", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "ok", decodeStatus(t, rec))

	require.Len(t, starter.archives, 1)
	spooled, err := os.ReadFile(starter.archives[0])
	require.NoError(t, err)
	require.Equal(t, "archive bytes", string(spooled))
	require.Nil(t, starter.notifier)
}

func TestSubmitWithNotifyBuildsWebhook(t *testing.T) {
	starter := &fakeStarter{}
	handler := newTestGate(t, starter)

	body, contentType := multipartBody(t, map[string]string{
		"notify": "http://example.com/cb",
		"token":  "tok",
	}, []byte("x"))
	req := httptest.NewRequest("POST", "/tasks.json", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.NotNil(t, starter.notifier)
	require.IsType(t, &notify.Webhook{}, starter.notifier)
}

func TestSubmitBusy(t *testing.T) {
	starter := &fakeStarter{err: runner.ErrBusy}
	handler := newTestGate(t, starter)

	body, contentType := multipartBody(t, nil, []byte("x"))
	req := httptest.NewRequest("POST", "/tasks.json", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, 500, rec.Code)
	require.Equal(t, "busy", decodeStatus(t, rec))
}

func TestSubmitWithoutFile(t *testing.T) {
	starter := &fakeStarter{}
	handler := newTestGate(t, starter)

	body, contentType := multipartBody(t, map[string]string{"notify": "http://x"}, nil)
	req := httptest.NewRequest("POST", "/tasks.json", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, 500, rec.Code)
	require.Equal(t, "bad_request", decodeStatus(t, rec))
	require.Empty(t, starter.archives)
}

func TestSubmitNotMultipart(t *testing.T) {
	handler := newTestGate(t, &fakeStarter{})

	req := httptest.NewRequest("POST", "/tasks.json", bytes.NewBufferString("plain"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, 500, rec.Code)
	require.Equal(t, "bad_request", decodeStatus(t, rec))
}

func TestNonPostNotFound(t *testing.T) {
	handler := newTestGate(t, &fakeStarter{})

	req := httptest.NewRequest("GET", "/tasks.json", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, 404, rec.Code)
	require.Equal(t, "not_found", decodeStatus(t, rec))
}

func TestUnknownPathNotFound(t *testing.T) {
	handler := newTestGate(t, &fakeStarter{})

	req := httptest.NewRequest("POST", "/elsewhere", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, 404, rec.Code)
	require.Equal(t, "not_found", decodeStatus(t, rec))
}

func TestStarterErrorMapsToError(t *testing.T) {
	starter := &fakeStarter{err: os.ErrPermission}
	handler := newTestGate(t, starter)

	body, contentType := multipartBody(t, nil, []byte("x"))
	req := httptest.NewRequest("POST", "/tasks.json", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, 500, rec.Code)
	require.Equal(t, "error", decodeStatus(t, rec))
}

func TestZstdUploadDecompressed(t *testing.T) {
	starter := &fakeStarter{}
	handler := newTestGate(t, starter)

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = enc.Write([]byte("tar payload"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	body, contentType := multipartBody(t, nil, compressed.Bytes())
	req := httptest.NewRequest("POST", "/tasks.json", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Len(t, starter.archives, 1)
	spooled, err := os.ReadFile(starter.archives[0])
	require.NoError(t, err)
	require.Equal(t, "tar payload", string(spooled))
}

func TestSequentialSubmissionsOnlyOneOk(t *testing.T) {
	// second submission while the first run is in flight
	starter := &fakeStarter{}
	handler := newTestGate(t, starter)

	body, contentType := multipartBody(t, nil, []byte("x"))
	req := httptest.NewRequest("POST", "/tasks.json", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	starter.err = runner.ErrBusy
	body, contentType = multipartBody(t, nil, []byte("y"))
	req = httptest.NewRequest("POST", "/tasks.json", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, 500, rec.Code)
	require.Equal(t, "busy", decodeStatus(t, rec))
}
