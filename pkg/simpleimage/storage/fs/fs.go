package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/presigned"
)

// Scheme prefixes object URIs of this backend
const Scheme = "file"

// metaDir holds the sidecar attribute files, outside any container
const metaDir = ".meta"

// Backend is a filesystem implementation of the simpleimage.ObjectStore interface.
// Objects live at {BaseDir}/{container}/{path}; content type and side
// metadata are kept in a JSON sidecar under {BaseDir}/.meta.
type Backend struct {
	mu      sync.RWMutex
	baseDir string
	signer  *presigned.Signer
	sink    simpleimage.EventSink
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string            // Base directory for storing files
	Signer  *presigned.Signer // Optional signer for download URLs
}

type sidecar struct {
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Created     time.Time         `json:"created"`
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{
		baseDir: config.BaseDir,
		signer:  config.Signer,
		sink:    simpleimage.NewNoopEventSink(),
	}, nil
}

// SetEventSink sets the receiver of object notifications
func (b *Backend) SetEventSink(sink simpleimage.EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sink == nil {
		sink = simpleimage.NewNoopEventSink()
	}
	b.sink = sink
}

func (b *Backend) paths(container, path string) (string, string, error) {
	if container == "" || path == "" || container == metaDir || container == ".." ||
		strings.ContainsAny(container, `/\`) {
		return "", "", fmt.Errorf("invalid object reference %q/%q", container, path)
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", "", fmt.Errorf("object path escapes container: %q", path)
	}
	rel := filepath.Join(container, clean)
	return filepath.Join(b.baseDir, rel), filepath.Join(b.baseDir, metaDir, rel+".json"), nil
}

// Put writes the object and its sidecar
func (b *Backend) Put(ctx context.Context, obj simpleimage.PutObject) error {
	if obj.Body == nil {
		return fmt.Errorf("fs: nil body for %s", obj.Path)
	}
	filePath, metaPath, err := b.paths(obj.Container, obj.Path)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(filePath)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("failed to create file: %w", err)
	}
	_, err = io.Copy(file, obj.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("failed to write file: %w", err)
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	side := sidecar{ContentType: contentType, Metadata: obj.Metadata, Created: time.Now().UTC()}
	if prev, err := readSidecar(metaPath); err == nil && !prev.Created.IsZero() {
		side.Created = prev.Created
	}
	err = writeSidecar(metaPath, side)
	sink := b.sink
	b.mu.Unlock()
	if err != nil {
		return err
	}

	attrs, err := b.Stat(ctx, obj.Container, obj.Path)
	if err != nil {
		return err
	}
	sink.ObjectFinalized(ctx, simpleimage.FinalizeEventFromAttrs(*attrs))
	return nil
}

// Get opens the object file
func (b *Backend) Get(ctx context.Context, container, path string) (io.ReadCloser, error) {
	filePath, _, err := b.paths(container, path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, simpleimage.ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Stat combines file info with the sidecar
func (b *Backend) Stat(ctx context.Context, container, path string) (*simpleimage.ObjectAttrs, error) {
	filePath, metaPath, err := b.paths(container, path)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, simpleimage.ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	attrs := &simpleimage.ObjectAttrs{
		Container: container,
		Path:      path,
		Size:      info.Size(),
		Updated:   info.ModTime().UTC(),
		Created:   info.ModTime().UTC(),
	}
	if side, err := readSidecar(metaPath); err == nil {
		attrs.ContentType = side.ContentType
		attrs.Metadata = side.Metadata
		if !side.Created.IsZero() {
			attrs.Created = side.Created
		}
	} else {
		attrs.ContentType = detectContentType(filePath)
	}
	return attrs, nil
}

// Exists reports whether the object file exists
func (b *Backend) Exists(ctx context.Context, container, path string) (bool, error) {
	_, err := b.Stat(ctx, container, path)
	if errors.Is(err, simpleimage.ErrObjectNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes the object file and its sidecar
func (b *Backend) Delete(ctx context.Context, container, path string) error {
	filePath, metaPath, err := b.paths(container, path)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		b.mu.Unlock()
		return simpleimage.ErrObjectNotFound
	}
	if err := os.Remove(filePath); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("failed to delete file: %w", err)
	}
	_ = os.Remove(metaPath)
	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	b.cleanupEmptyDirectories(filepath.Dir(metaPath))
	sink := b.sink
	b.mu.Unlock()

	sink.ObjectDeleted(ctx, simpleimage.DeleteEventFor(container, path))
	return nil
}

// SignedURL returns an HMAC-signed URL for the presigned download route
func (b *Backend) SignedURL(ctx context.Context, container, path string, ttl time.Duration) (string, error) {
	if b.signer == nil || !b.signer.IsEnabled() {
		return "", simpleimage.ErrSigningUnsupported
	}
	exists, err := b.Exists(ctx, container, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", simpleimage.ErrObjectNotFound
	}
	return b.signer.SignURL(http.MethodGet, container, path, ttl)
}

// URI returns file://container/path
func (b *Backend) URI(container, path string) string {
	return Scheme + "://" + container + "/" + path
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir || dir == filepath.Join(b.baseDir, metaDir) || !strings.HasPrefix(dir, b.baseDir) {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}

func readSidecar(path string) (*sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var side sidecar
	if err := json.Unmarshal(data, &side); err != nil {
		return nil, fmt.Errorf("failed to decode sidecar %s: %w", path, err)
	}
	return &side, nil
}

func writeSidecar(path string, side sidecar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	data, err := json.Marshal(side)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return nil
}

func detectContentType(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer file.Close()
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil {
		return "application/octet-stream"
	}
	return http.DetectContentType(buffer[:n])
}
