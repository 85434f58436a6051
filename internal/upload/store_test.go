package upload

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/genai-relay/internal/metrics"
)

type formFile struct {
	field       string
	filename    string
	contentType string // empty omits the header
	data        []byte
}

func multipartRequest(t *testing.T, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r := httptest.NewRequest(http.MethodPost, "/upload", &body)
	r.Header.Set("Content-Type", w.FormDataContentType())
	return r
}

func newTestStore(t *testing.T) (*Store, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	s, err := NewStore(filepath.Join(t.TempDir(), "uploads"), nil, m)
	require.NoError(t, err)
	return s, m
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestReceiveImage(t *testing.T) {
	s, m := newTestStore(t)
	png := []byte("\x89PNG fake image")

	r := multipartRequest(t, map[string]string{"prompt": "What is this?"},
		formFile{field: "image", filename: "cat.png", contentType: "image/png", data: png})

	up, err := s.Receive(r, ImagePolicy(1024))
	require.NoError(t, err)

	assert.Equal(t, "What is this?", up.Fields["prompt"])
	assert.Equal(t, "cat.png", up.File.Filename)
	assert.Equal(t, "image/png", up.File.MIMEType)
	assert.Equal(t, int64(len(png)), up.File.Size)
	assert.Equal(t, s.Dir(), filepath.Dir(up.File.Path))
	assert.Equal(t, 1, dirEntries(t, s.Dir()))

	data, err := up.File.ReadAndRemove()
	require.NoError(t, err)
	assert.Equal(t, png, data)
	assert.Equal(t, 0, dirEntries(t, s.Dir()), "temp file must be removed after reading")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.UploadsReceived.WithLabelValues("image")))
}

func TestReceiveRejections(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		files    []formFile
		expected error
		reason   string
	}{
		{
			name:     "missing file",
			policy:   ImagePolicy(1024),
			expected: ErrMissingFile,
			reason:   "missing",
		},
		{
			name:     "file in the wrong field",
			policy:   ImagePolicy(1024),
			files:    []formFile{{field: "photo", filename: "a.png", contentType: "image/png", data: []byte("x")}},
			expected: ErrMissingFile,
			reason:   "missing",
		},
		{
			name:     "non-image for image route",
			policy:   ImagePolicy(1024),
			files:    []formFile{{field: "image", filename: "a.pdf", contentType: "application/pdf", data: []byte("x")}},
			expected: ErrUnsupportedType,
			reason:   "unsupported_type",
		},
		{
			name:     "image without content type",
			policy:   ImagePolicy(1024),
			files:    []formFile{{field: "image", filename: "a.png", data: []byte("x")}},
			expected: ErrUnsupportedType,
			reason:   "unsupported_type",
		},
		{
			name:     "image over the limit",
			policy:   ImagePolicy(8),
			files:    []formFile{{field: "image", filename: "a.png", contentType: "image/png", data: bytes.Repeat([]byte("x"), 9)}},
			expected: ErrFileTooLarge,
			reason:   "too_large",
		},
		{
			name:     "text for audio route",
			policy:   AudioPolicy(1024),
			files:    []formFile{{field: "audio", filename: "a.txt", contentType: "text/plain", data: []byte("x")}},
			expected: ErrUnsupportedType,
			reason:   "unsupported_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, m := newTestStore(t)
			r := multipartRequest(t, nil, tt.files...)

			up, err := s.Receive(r, tt.policy)
			assert.Nil(t, up)
			assert.ErrorIs(t, err, tt.expected)
			assert.Equal(t, 0, dirEntries(t, s.Dir()), "rejected uploads must not leave files behind")
			assert.Equal(t, float64(1), testutil.ToFloat64(m.UploadsRejected.WithLabelValues(tt.policy.Kind, tt.reason)))
		})
	}
}

func TestReceiveExactlyAtLimit(t *testing.T) {
	s, _ := newTestStore(t)
	r := multipartRequest(t, nil,
		formFile{field: "image", filename: "a.png", contentType: "image/png", data: bytes.Repeat([]byte("x"), 8)})

	up, err := s.Receive(r, ImagePolicy(8))
	require.NoError(t, err)
	assert.Equal(t, int64(8), up.File.Size)
	up.File.Remove()
}

func TestReceiveAudioTypes(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		expected    string
	}{
		{"wav", "audio/wav", "audio/wav"},
		{"mpeg", "audio/mpeg", "audio/mpeg"},
		{"browser webm", "video/webm", "video/webm"},
		{"parameters are kept", "audio/webm;codecs=opus", "audio/webm;codecs=opus"},
		{"missing type defaults to wav", "", "audio/wav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			r := multipartRequest(t, nil,
				formFile{field: "audio", filename: "rec", contentType: tt.contentType, data: []byte("RIFF")})

			up, err := s.Receive(r, AudioPolicy(1024))
			require.NoError(t, err)
			defer up.File.Remove()
			assert.Equal(t, tt.expected, up.File.MIMEType)
		})
	}
}

func TestReceiveNotMultipart(t *testing.T) {
	s, _ := newTestStore(t)
	r := httptest.NewRequest(http.MethodPost, "/stt", strings.NewReader(`{"audio":"x"}`))
	r.Header.Set("Content-Type", "application/json")

	_, err := s.Receive(r, AudioPolicy(1024))
	assert.ErrorIs(t, err, ErrMissingFile)
}

func TestReceiveBodyLimit(t *testing.T) {
	s, _ := newTestStore(t)
	r := multipartRequest(t, nil,
		formFile{field: "audio", filename: "a.wav", contentType: "audio/wav", data: bytes.Repeat([]byte("x"), 4096)})
	r.Body = http.MaxBytesReader(httptest.NewRecorder(), r.Body, 1024)

	_, err := s.Receive(r, AudioPolicy(1<<20))
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, 0, dirEntries(t, s.Dir()))
}

func TestReceiveKeepsFirstFile(t *testing.T) {
	s, _ := newTestStore(t)
	r := multipartRequest(t, nil,
		formFile{field: "image", filename: "first.png", contentType: "image/png", data: []byte("one")},
		formFile{field: "image", filename: "second.png", contentType: "image/png", data: []byte("two")})

	up, err := s.Receive(r, ImagePolicy(1024))
	require.NoError(t, err)

	data, err := up.File.ReadAndRemove()
	require.NoError(t, err)
	assert.Equal(t, "first.png", up.File.Filename)
	assert.Equal(t, []byte("one"), data)
	assert.Equal(t, 0, dirEntries(t, s.Dir()))
}

func TestReadAndRemoveMissingFile(t *testing.T) {
	f := &File{Path: filepath.Join(t.TempDir(), "gone")}
	_, err := f.ReadAndRemove()
	assert.Error(t, err)
}
