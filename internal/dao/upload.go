package dao

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-docspace/internal/model"
)

// ── Upload session ───────────────────────────────────────────────

// UploadSession is one chunked upload in progress. Chunks are appended in
// order; BytesUploaded is the offset the next chunk is written at.
type UploadSession[T model.ID] struct {
	ID            string
	File          *model.File[T]
	ContentLength int64
	BytesUploaded int64
	CreatedAt     time.Time

	// ProviderSession is set when the backend runs its own resumable upload
	// instead of buffering chunks on local disk.
	ProviderSession string

	tempPath string
	mu       sync.Mutex
}

// Complete reports whether every declared byte has arrived.
func (s *UploadSession[T]) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ContentLength >= 0 && s.BytesUploaded == s.ContentLength
}

// ── Manager ──────────────────────────────────────────────────────

// Uploads buffers chunked uploads in a temp directory until they are
// finalized into a Dao.
type Uploads[T model.ID] struct {
	tempDir string

	mu       sync.RWMutex
	sessions map[string]*UploadSession[T]
}

func NewUploads[T model.ID](tempDir string) (*Uploads[T], error) {
	if strings.TrimSpace(tempDir) == "" {
		tempDir = filepath.Join(os.TempDir(), "docspace-chunks")
	}

	abs, err := filepath.Abs(tempDir)
	if err != nil {
		return nil, fmt.Errorf("resolve chunk temp dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk temp dir: %w", err)
	}

	return &Uploads[T]{
		tempDir:  abs,
		sessions: make(map[string]*UploadSession[T]),
	}, nil
}

// Create opens a session for file. contentLength must be positive.
func (u *Uploads[T]) Create(file *model.File[T], contentLength int64) (*UploadSession[T], error) {
	if file == nil || strings.TrimSpace(file.Title) == "" {
		return nil, fmt.Errorf("%w: upload needs a file title", model.ErrInvalidInput)
	}
	if contentLength <= 0 {
		return nil, fmt.Errorf("%w: content length must be positive", model.ErrInvalidInput)
	}

	id := uuid.NewString()
	tempPath := filepath.Join(u.tempDir, id+".part")

	f, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	f.Close()

	sess := &UploadSession[T]{
		ID:            id,
		File:          file,
		ContentLength: contentLength,
		CreatedAt:     time.Now(),
		tempPath:      tempPath,
	}

	u.mu.Lock()
	u.sessions[id] = sess
	u.mu.Unlock()

	slog.Info("upload session created", "upload_id", id, "title", file.Title, "content_length", contentLength)
	return sess, nil
}

// CreateRemote registers a session whose bytes go straight to a backend
// upload identified by remoteID; nothing is buffered locally.
func (u *Uploads[T]) CreateRemote(file *model.File[T], contentLength int64, remoteID string) (*UploadSession[T], error) {
	if file == nil || strings.TrimSpace(file.Title) == "" {
		return nil, fmt.Errorf("%w: upload needs a file title", model.ErrInvalidInput)
	}
	if contentLength <= 0 {
		return nil, fmt.Errorf("%w: content length must be positive", model.ErrInvalidInput)
	}

	sess := &UploadSession[T]{
		ID:              uuid.NewString(),
		File:            file,
		ContentLength:   contentLength,
		CreatedAt:       time.Now(),
		ProviderSession: remoteID,
	}

	u.mu.Lock()
	u.sessions[sess.ID] = sess
	u.mu.Unlock()

	slog.Info("remote upload session created", "upload_id", sess.ID, "title", file.Title, "content_length", contentLength)
	return sess, nil
}

// Reserve checks that a chunk of length fits a remote session and returns the
// offset it must be written at. Commit advances the session once the backend
// accepted the chunk.
func (s *UploadSession[T]) Reserve(length int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if length <= 0 || s.BytesUploaded+length > s.ContentLength {
		return 0, fmt.Errorf("%w: chunk of %d bytes at offset %d overflows %d", model.ErrInvalidInput, length, s.BytesUploaded, s.ContentLength)
	}
	return s.BytesUploaded, nil
}

func (s *UploadSession[T]) Commit(length int64) {
	s.mu.Lock()
	s.BytesUploaded += length
	s.mu.Unlock()
}

// Get returns a live session by id.
func (u *Uploads[T]) Get(id string) (*UploadSession[T], bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	sess, ok := u.sessions[id]
	return sess, ok
}

// Append writes chunk at the current offset. length is the declared chunk
// size; a short read fails the chunk without advancing the offset.
func (u *Uploads[T]) Append(sess *UploadSession[T], chunk io.Reader, length int64) error {
	if _, ok := u.Get(sess.ID); !ok {
		return fmt.Errorf("%w: upload session %s not found", model.ErrInvalidInput, sess.ID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if length <= 0 || sess.BytesUploaded+length > sess.ContentLength {
		return fmt.Errorf("%w: chunk of %d bytes at offset %d overflows %d", model.ErrInvalidInput, length, sess.BytesUploaded, sess.ContentLength)
	}

	f, err := os.OpenFile(sess.tempPath, os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file for chunk write: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(sess.BytesUploaded, io.SeekStart); err != nil {
		return fmt.Errorf("seek to chunk offset: %w", err)
	}

	buf := make([]byte, 32*1024)
	n, err := io.CopyBuffer(f, io.LimitReader(chunk, length), buf)
	if err != nil {
		return fmt.Errorf("write chunk data: %w", err)
	}
	if n != length {
		return fmt.Errorf("%w: chunk truncated: got %d of %d bytes", model.ErrInvalidInput, n, length)
	}

	sess.BytesUploaded += n
	return nil
}

// Open returns the assembled content of a complete session.
func (u *Uploads[T]) Open(sess *UploadSession[T]) (io.ReadCloser, error) {
	if !sess.Complete() {
		return nil, fmt.Errorf("%w: upload incomplete: received %d of %d bytes", model.ErrInvalidInput, sess.BytesUploaded, sess.ContentLength)
	}
	f, err := os.Open(sess.tempPath)
	if err != nil {
		return nil, fmt.Errorf("open assembled upload: %w", err)
	}
	return f, nil
}

// Remove drops the session and its temp file.
func (u *Uploads[T]) Remove(sess *UploadSession[T]) {
	u.mu.Lock()
	delete(u.sessions, sess.ID)
	u.mu.Unlock()

	if sess.tempPath != "" {
		os.Remove(sess.tempPath)
	}
}

// CleanupExpired removes sessions older than maxAge and orphan .part files
// left by a previous process.
func (u *Uploads[T]) CleanupExpired(maxAge time.Duration) {
	now := time.Now()

	u.mu.Lock()
	var expired []string
	for id, sess := range u.sessions {
		if now.Sub(sess.CreatedAt) > maxAge {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		os.Remove(u.sessions[id].tempPath)
		delete(u.sessions, id)
	}
	u.mu.Unlock()

	if len(expired) > 0 {
		slog.Info("cleaned up expired upload sessions", "count", len(expired))
	}

	entries, err := os.ReadDir(u.tempDir)
	if err != nil {
		slog.Warn("chunk cleanup: failed to read temp dir", "error", err)
		return
	}

	orphans := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if _, tracked := u.Get(strings.TrimSuffix(entry.Name(), ".part")); tracked {
			continue
		}
		if err := os.Remove(filepath.Join(u.tempDir, entry.Name())); err == nil {
			orphans++
		}
	}

	if orphans > 0 {
		slog.Info("cleaned up orphan chunk files", "count", orphans)
	}
}
