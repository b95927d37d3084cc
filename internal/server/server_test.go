package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/B3VERAGE/Epub-translate/internal/config"
	"github.com/B3VERAGE/Epub-translate/internal/translation"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Server Book</dc:title>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
  </spine>
</package>`

const testChapter = `<html xmlns="http://www.w3.org/1999/xhtml"><body><p>Good morning.</p><p>Good night.</p></body></html>`

func buildEPUB(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := []struct{ name, body string }{
		{"mimetype", "application/epub+zip"},
		{"META-INF/container.xml", `<?xml version="1.0"?><container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container"><rootfiles><rootfile full-path="content.opf" media-type="application/oebps-package+xml"/></rootfiles></container>`},
		{"content.opf", testOPF},
		{"ch1.xhtml", testChapter},
	}
	for _, f := range files {
		method := zip.Deflate
		if f.name == "mimetype" {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.name, Method: method})
		require.NoError(t, err)
		_, err = w.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type upperTranslator struct{}

func (upperTranslator) Translate(_ context.Context, req translation.Request) ([]string, error) {
	out := make([]string, len(req.Texts))
	for i, text := range req.Texts {
		out[i] = strings.ToUpper(text)
	}
	return out, nil
}

func (upperTranslator) DetectLanguage(context.Context, string) (string, error) {
	return "en", nil
}

func (upperTranslator) Name() string {
	return "upper"
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.New()
	cfg.App.TempDir = filepath.Join(t.TempDir(), "tmp")
	cfg.App.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.Translation.RateLimit = 0

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s := New(cfg, logger, upperTranslator{})
	t.Cleanup(s.Close)
	return s
}

func uploadRequest(t *testing.T, target, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("epub", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	rec := serve(s, httptest.NewRequest(http.MethodOptions, "/api/jobs", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateJobValidation(t *testing.T) {
	book := buildEPUB(t)

	tests := []struct {
		name     string
		filename string
		data     []byte
		fields   map[string]string
		maxSize  int64
		want     int
	}{
		{"no file", "", nil, nil, 0, http.StatusBadRequest},
		{"wrong extension", "book.pdf", book, nil, 0, http.StatusBadRequest},
		{"too large", "book.epub", bytes.Repeat([]byte("x"), 4096), nil, 1024, http.StatusRequestEntityTooLarge},
		{"unsupported language", "book.epub", book, map[string]string{"target_lang": "tlh"}, 0, http.StatusBadRequest},
		{"same language", "book.epub", book, map[string]string{"source_lang": "it", "target_lang": "it"}, 0, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			if tt.maxSize > 0 {
				s.config.Server.MaxUploadSize = tt.maxSize
			}
			rec := serve(s, uploadRequest(t, "/api/jobs", tt.filename, tt.data, tt.fields))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestJobLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, uploadRequest(t, "/api/jobs", "My Book.epub", buildEPUB(t), map[string]string{
		"source_lang": "en",
		"target_lang": "it",
	}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id, _ := decode(t, rec)["id"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id, nil))
		return rec.Code == http.StatusOK && decode(t, rec)["status"] == string(translation.StatusCompleted)
	}, 5*time.Second, 20*time.Millisecond)

	status := decode(t, serve(s, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id, nil)))
	assert.Equal(t, "/api/jobs/"+id+"/download", status["download_url"])
	assert.Equal(t, "My Book.epub", status["filename"])

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "My_Book_it_")

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.NotEmpty(t, zr.File)
	assert.Equal(t, "mimetype", zr.File[0].Name)
	for _, f := range zr.File {
		if f.Name != "ch1.xhtml" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, `<html xmlns="http://www.w3.org/1999/xhtml"><body><p>GOOD MORNING.</p><p>GOOD NIGHT.</p></body></html>`, buf.String())
	}

	list := decode(t, serve(s, httptest.NewRequest(http.MethodGet, "/api/jobs", nil)))
	assert.Equal(t, float64(1), list["total"])

	rec = serve(s, httptest.NewRequest(http.MethodDelete, "/api/jobs/"+id, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = serve(s, httptest.NewRequest(http.MethodDelete, "/api/jobs/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadUnknownJob(t *testing.T) {
	s := newTestServer(t)
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/jobs/nope/download", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyze(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, uploadRequest(t, "/api/analyze", "book.epub", buildEPUB(t), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "book.epub", body["path"])
	assert.Equal(t, "Server Book", body["title"])
	assert.Equal(t, float64(3), body["segments"])
	assert.Equal(t, float64(1), body["estimated_requests"])

	rec = serve(s, uploadRequest(t, "/api/analyze", "broken.epub", []byte("not a zip"), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLanguages(t *testing.T) {
	s := newTestServer(t)
	body := decode(t, serve(s, httptest.NewRequest(http.MethodGet, "/api/languages", nil)))
	langs, ok := body["languages"].([]interface{})
	require.True(t, ok)
	assert.Len(t, langs, len(s.config.Translation.SupportedLangs))
}

func TestWebSocketBroadcast(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.wsHub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.wsHub.BroadcastLog("info", "hello", "test")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type MessageType `json:"type"`
		Data LogMessage  `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageTypeLog, msg.Type)
	assert.Equal(t, "hello", msg.Data.Message)
	assert.Equal(t, "test", msg.Data.Module)
}

func TestWebSocketJobFilter(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?job=wanted", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.wsHub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.wsHub.BroadcastMessage(string(MessageTypeTranslationProgress), map[string]interface{}{"job_id": "other"})
	s.wsHub.BroadcastMessage(string(MessageTypeTranslationProgress), map[string]interface{}{"job_id": "wanted"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.NewDecoder(strings.NewReader(string(data))).Decode(&ev))
	assert.Equal(t, MessageTypeTranslationProgress, ev.Type)
	assert.Equal(t, "wanted", ev.JobID)
}

func TestHubStopDropsSubscribers(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	hub := NewHub(logger)

	before := &subscriber{queue: make(chan Event, 1), hub: hub, logger: logger}
	require.True(t, hub.add(before))

	exited := make(chan struct{})
	go func() {
		hub.Run()
		close(exited)
	}()
	hub.Stop()
	<-exited

	_, open := <-before.queue
	assert.False(t, open, "queue of an existing subscriber is closed")

	after := &subscriber{queue: make(chan Event, 1), hub: hub, logger: logger}
	assert.False(t, hub.add(after))
	assert.Zero(t, hub.GetClientCount())
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "My_Book-1", sanitizeFilename("My Book-1"))
	assert.Equal(t, "translated_book", sanitizeFilename("***"))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", formatFileSize(512))
	assert.Equal(t, "1.5 KB", formatFileSize(1536))
	assert.Equal(t, "50.0 MB", formatFileSize(50<<20))
}
