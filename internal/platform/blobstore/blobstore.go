// Package blobstore keeps binary objects (medical images) in named buckets on
// an afero filesystem and hands out time-limited signed URLs for them.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrInvalidPath        = errors.New("invalid object path")
)

// MaxImageSize is the largest accepted medical image (5 MB).
const MaxImageSize = 5 * 1024 * 1024

// ImageTypes maps the accepted image MIME types to file extensions.
var ImageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

var typeByExt = map[string]string{
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket      string    `json:"bucket"`
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256,omitempty"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// ObjectStore is the object storage capability used by the records service.
type ObjectStore interface {
	Put(ctx context.Context, bucket, objectPath string, content io.Reader) (*ObjectInfo, error)
	Open(ctx context.Context, bucket, objectPath string) (io.ReadCloser, *ObjectInfo, error)
	Delete(ctx context.Context, bucket, objectPath string) error
	SignedURL(bucket, objectPath string, ttl time.Duration) (string, time.Time, error)
}

// FSStore implements ObjectStore on an afero.Fs. Buckets are top-level
// directories.
type FSStore struct {
	fs      afero.Fs
	signer  *URLSigner
	maxSize int64
	types   map[string]string
}

// NewMemoryStore returns a store backed by afero.MemMapFs.
func NewMemoryStore(signer *URLSigner) *FSStore {
	return &FSStore{fs: afero.NewMemMapFs(), signer: signer, maxSize: MaxImageSize, types: ImageTypes}
}

// NewDiskStore returns a store rooted at root on the local disk.
func NewDiskStore(root string, signer *URLSigner) (*FSStore, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSStore{fs: afero.NewBasePathFs(osFs, root), signer: signer, maxSize: MaxImageSize, types: ImageTypes}, nil
}

// New picks the backend named by driver ("memory" or "disk").
func New(driver, root string, signer *URLSigner) (*FSStore, error) {
	switch driver {
	case "memory", "":
		return NewMemoryStore(signer), nil
	case "disk":
		return NewDiskStore(root, signer)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// SniffImage reports the MIME type and extension of an accepted image.
func SniffImage(head []byte) (contentType, ext string, err error) {
	contentType = http.DetectContentType(head)
	ext, ok := ImageTypes[contentType]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}
	return contentType, ext, nil
}

func objectKey(bucket, objectPath string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", ErrInvalidPath
	}
	if objectPath == "" || strings.HasPrefix(objectPath, "/") || strings.Contains(objectPath, `\`) {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(objectPath, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrInvalidPath
		}
	}
	return path.Join(bucket, objectPath), nil
}

// Put validates size and content type, then writes the object. The content
// type is sniffed from the bytes; the extension in objectPath is not trusted.
func (s *FSStore) Put(_ context.Context, bucket, objectPath string, content io.Reader) (*ObjectInfo, error) {
	key, err := objectKey(bucket, objectPath)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(content, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, ErrFileTooLarge
	}
	contentType := http.DetectContentType(data)
	if _, ok := s.types[contentType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}

	if err := s.fs.MkdirAll(path.Dir(key), 0o750); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	if err := afero.WriteReader(s.fs, key, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("write object: %w", err)
	}

	sum := sha256.Sum256(data)
	return &ObjectInfo{
		Bucket:      bucket,
		Path:        objectPath,
		ContentType: contentType,
		Size:        int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		ModifiedAt:  time.Now().UTC(),
	}, nil
}

func (s *FSStore) Open(_ context.Context, bucket, objectPath string) (io.ReadCloser, *ObjectInfo, error) {
	key, err := objectKey(bucket, objectPath)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.fs.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("open object: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat object: %w", err)
	}
	if st.IsDir() {
		f.Close()
		return nil, nil, ErrObjectNotFound
	}

	contentType := typeByExt[strings.TrimPrefix(path.Ext(objectPath), ".")]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, &ObjectInfo{
		Bucket:      bucket,
		Path:        objectPath,
		ContentType: contentType,
		Size:        st.Size(),
		ModifiedAt:  st.ModTime(),
	}, nil
}

// Delete removes an object. Deleting a missing object returns ErrObjectNotFound.
func (s *FSStore) Delete(_ context.Context, bucket, objectPath string) error {
	key, err := objectKey(bucket, objectPath)
	if err != nil {
		return err
	}
	if _, err := s.fs.Stat(key); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("stat object: %w", err)
	}
	if err := s.fs.Remove(key); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *FSStore) SignedURL(bucket, objectPath string, ttl time.Duration) (string, time.Time, error) {
	if _, err := objectKey(bucket, objectPath); err != nil {
		return "", time.Time{}, err
	}
	if s.signer == nil {
		return "", time.Time{}, errors.New("blobstore: no url signer configured")
	}
	return s.signer.Sign(bucket, objectPath, ttl)
}
