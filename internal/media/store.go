// Package media keeps event images on local disk under generated names.
package media

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-booking/internal/domain"
)

const sniffLen = 512

var allowedExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

type Store struct {
	dir      string
	maxBytes int64
	client   *http.Client
}

// NewStore creates dir when missing. Images larger than maxBytes are
// rejected; fetchTimeout bounds remote downloads.
func NewStore(dir string, maxBytes int64, fetchTimeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create media dir %s", dir)
	}
	return &Store{
		dir:      dir,
		maxBytes: maxBytes,
		client:   &http.Client{Timeout: fetchTimeout},
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save stores an uploaded image and returns its id. The extension of
// filename is kept when it is a known image type.
func (s *Store) Save(r io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != "" && !allowedExt[ext] {
		return "", errors.Wrapf(domain.ErrInvalidInput, "unsupported image type %q", ext)
	}
	return s.write(r, ext)
}

// Fetch downloads rawURL and stores it like an upload.
func (s *Store) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.Wrapf(domain.ErrInvalidInput, "invalid image url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "build image request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "fetch %s", u.Redacted())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("fetch %s: unexpected status %d", u.Redacted(), resp.StatusCode)
	}
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ct != "" && !strings.HasPrefix(ct, "image/") {
		return "", errors.Wrapf(domain.ErrInvalidInput, "%s is %s, not an image", u.Redacted(), ct)
	}

	ext := strings.ToLower(filepath.Ext(u.Path))
	if !allowedExt[ext] {
		ext = extForType(ct)
	}
	return s.write(resp.Body, ext)
}

func extForType(ct string) string {
	switch ct {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ""
}

func (s *Store) write(r io.Reader, ext string) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", errors.Wrap(err, "read image")
	}
	head = head[:n]
	if n == 0 {
		return "", errors.Wrap(domain.ErrInvalidInput, "image is empty")
	}
	if ct := http.DetectContentType(head); !strings.HasPrefix(ct, "image/") {
		return "", errors.Wrapf(domain.ErrInvalidInput, "upload is %s, not an image", ct)
	}

	id := uuid.NewString() + ext
	path := filepath.Join(s.dir, id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", path)
	}

	body := io.MultiReader(bytes.NewReader(head), r)
	written, err := io.Copy(f, io.LimitReader(body, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > s.maxBytes {
		err = errors.Wrapf(domain.ErrInvalidInput, "image exceeds %d bytes", s.maxBytes)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return id, nil
}

// IsLocal reports whether id has the shape of a name generated by Save or
// Fetch: a UUID followed by an optional known image extension.
func IsLocal(id string) bool {
	ext := filepath.Ext(id)
	if ext != "" && !allowedExt[ext] {
		return false
	}
	base := strings.TrimSuffix(id, ext)
	u, err := uuid.Parse(base)
	return err == nil && u.String() == base
}

func (s *Store) Path(id string) (string, error) {
	if !IsLocal(id) {
		return "", errors.Wrapf(domain.ErrInvalidInput, "invalid image id %q", id)
	}
	return filepath.Join(s.dir, id), nil
}

// Remove deletes a stored image. Remote URLs and missing files are ignored.
func (s *Store) Remove(id string) error {
	if !IsLocal(id) {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
