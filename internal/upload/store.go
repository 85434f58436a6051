package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/skypro1111/genai-relay/internal/metrics"
)

var (
	// ErrMissingFile is returned when the request carries no file in the expected field.
	ErrMissingFile = errors.New("missing file")

	// ErrFileTooLarge is returned when the file exceeds the policy limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnsupportedType is returned when the file's MIME type is not accepted.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// maxFieldBytes caps each non-file form field.
const maxFieldBytes = 1 << 20

// Policy describes what a route accepts in its file field.
type Policy struct {
	Kind     string // metrics label
	Field    string
	MaxBytes int64
	// Accept reports whether a bare media type (no parameters) is allowed.
	Accept func(mediaType string) bool
	// DefaultMIMEType is used when the part has no Content-Type.
	DefaultMIMEType string
}

// ImagePolicy accepts image/* in the "image" field.
func ImagePolicy(maxBytes int64) Policy {
	return Policy{
		Kind:     "image",
		Field:    "image",
		MaxBytes: maxBytes,
		Accept: func(mt string) bool {
			return strings.HasPrefix(mt, "image/")
		},
	}
}

// AudioPolicy accepts audio/* and video/webm in the "audio" field.
// Browsers record to webm, which some report as video.
func AudioPolicy(maxBytes int64) Policy {
	return Policy{
		Kind:     "audio",
		Field:    "audio",
		MaxBytes: maxBytes,
		Accept: func(mt string) bool {
			return strings.HasPrefix(mt, "audio/") || mt == "video/webm"
		},
		DefaultMIMEType: "audio/wav",
	}
}

// File is an upload spooled to disk.
type File struct {
	Path     string
	Filename string
	MIMEType string
	Size     int64
}

// ReadAndRemove returns the file contents and deletes it. A failed removal is
// ignored; the contents are what matters to the caller.
func (f *File) ReadAndRemove() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	f.Remove()
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

// Remove deletes the file.
func (f *File) Remove() {
	_ = os.Remove(f.Path)
}

// Upload is a parsed multipart request.
type Upload struct {
	File   *File
	Fields map[string]string
}

// Store spools multipart uploads into a directory.
type Store struct {
	dir     string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewStore creates dir if needed. m may be nil.
func NewStore(dir string, logger *slog.Logger, m *metrics.Metrics) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", dir, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		dir:     dir,
		logger:  logger.With(slog.String("component", "upload")),
		metrics: m,
	}, nil
}

// Dir returns the spool directory.
func (s *Store) Dir() string {
	return s.dir
}

// Receive reads a multipart request, writing the policy's file field to a
// uniquely named file and collecting the other fields. The caller owns the
// returned file and must remove it.
func (s *Store) Receive(r *http.Request, p Policy) (*Upload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		s.reject(p, "not_multipart")
		return nil, fmt.Errorf("%w: expected multipart form with field %q", ErrMissingFile, p.Field)
	}

	up := &Upload{Fields: make(map[string]string)}

	fail := func(reason string, err error) (*Upload, error) {
		if up.File != nil {
			up.File.Remove()
		}
		s.reject(p, reason)
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return fail("too_large", fmt.Errorf("%w: request body exceeds %d bytes", ErrFileTooLarge, tooLarge.Limit))
			}
			return fail("malformed", fmt.Errorf("%w: malformed multipart body: %v", ErrMissingFile, err))
		}

		name := part.FormName()
		switch {
		case name == p.Field && up.File == nil:
			f, err := s.spool(part, p)
			part.Close()
			if err != nil {
				switch {
				case errors.Is(err, ErrFileTooLarge):
					return fail("too_large", err)
				case errors.Is(err, ErrUnsupportedType):
					return fail("unsupported_type", err)
				default:
					return fail("io", err)
				}
			}
			up.File = f

		case part.FileName() == "" && name != "":
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
			part.Close()
			if err != nil {
				return fail("malformed", fmt.Errorf("failed to read field %q: %w", name, err))
			}
			if len(value) > maxFieldBytes {
				return fail("too_large", fmt.Errorf("%w: field %q exceeds %d bytes", ErrFileTooLarge, name, maxFieldBytes))
			}
			up.Fields[name] = string(value)

		default:
			// Unexpected files and duplicates are drained and dropped.
			io.Copy(io.Discard, part)
			part.Close()
		}
	}

	if up.File == nil {
		s.reject(p, "missing")
		return nil, fmt.Errorf("%w: field %q", ErrMissingFile, p.Field)
	}

	if s.metrics != nil {
		s.metrics.RecordUpload(p.Kind, up.File.Size)
	}

	s.logger.Debug("Upload received",
		slog.String("kind", p.Kind),
		slog.String("filename", up.File.Filename),
		slog.String("mime_type", up.File.MIMEType),
		slog.Int64("size", up.File.Size),
	)

	return up, nil
}

// spool checks the type of the part and copies at most MaxBytes of it to disk.
func (s *Store) spool(part *multipart.Part, p Policy) (*File, error) {
	mimeType := part.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = p.DefaultMIMEType
	}

	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil || p.Accept == nil || !p.Accept(mediaType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}

	path := filepath.Join(s.dir, uuid.NewString())
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}

	n, err := io.Copy(out, io.LimitReader(part, p.MaxBytes+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: request body exceeds %d bytes", ErrFileTooLarge, tooLarge.Limit)
		}
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	if n > p.MaxBytes {
		os.Remove(path)
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, p.MaxBytes)
	}

	return &File{
		Path:     path,
		Filename: part.FileName(),
		MIMEType: mimeType,
		Size:     n,
	}, nil
}

func (s *Store) reject(p Policy, reason string) {
	if s.metrics != nil {
		s.metrics.RecordUploadRejected(p.Kind, reason)
	}
	s.logger.Debug("Upload rejected", slog.String("kind", p.Kind), slog.String("reason", reason))
}
