package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmux/antigravity-relay/internal/config"
)

func newMultipartRequest(t *testing.T, filename string, content []byte, includeFile bool) (*http.Request, error) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if includeFile {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}

func newAudioTestEngine(h *AudioHandler) *gin.Engine {
	engine := gin.New()
	engine.POST("/v1/audio/transcriptions", h.Transcriptions)
	return engine
}

func TestTranscriptionsRejectsMissingFile(t *testing.T) {
	h := NewAudioHandler(config.Default(), nil, nil, nil, nil, nil)
	engine := newAudioTestEngine(h)

	req, err := newMultipartRequest(t, "", nil, false)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranscriptionsRejectsUnsupportedExtension(t *testing.T) {
	h := NewAudioHandler(config.Default(), nil, nil, nil, nil, nil)
	engine := newAudioTestEngine(h)

	req, err := newMultipartRequest(t, "clip.mov", []byte("fake"), true)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranscriptionsRejectsOversizedUpload(t *testing.T) {
	h := NewAudioHandler(config.Default(), nil, nil, nil, nil, nil)
	engine := newAudioTestEngine(h)

	oversized := make([]byte, 16*1024*1024)
	req, err := newMultipartRequest(t, "clip.mp3", oversized, true)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
