package util

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"
)

// NameSet hands out archive entry names that differ, ignoring case, from
// every name reserved before. Directory names end in "/". It is safe for
// concurrent use.
type NameSet struct {
	mu   sync.Mutex
	used map[string]struct{}
}

func NewNameSet() *NameSet {
	return &NameSet{used: map[string]struct{}{}}
}

// Reserve returns name, or name with a " (n)" suffix before its extension
// when it is taken, and marks the result as used.
func (s *NameSet) Reserve(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = s.unique(name)
	s.used[strings.ToLower(name)] = struct{}{}
	return name
}

// Unique is Reserve without marking the name as used.
func (s *NameSet) Unique(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unique(name)
}

func (s *NameSet) unique(name string) string {
	if _, taken := s.used[strings.ToLower(name)]; !taken {
		return name
	}

	dir, file := path.Split(strings.TrimSuffix(name, "/"))
	trailing := ""
	if strings.HasSuffix(name, "/") {
		trailing = "/"
	}
	ext := path.Ext(file)
	if trailing != "" {
		ext = ""
	}
	stem := strings.TrimSuffix(file, ext)

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s%s (%d)%s%s", dir, stem, n, ext, trailing)
		if _, taken := s.used[strings.ToLower(candidate)]; !taken {
			return candidate
		}
	}
}

// ZipBuilder streams a download archive. Entry names are slash separated
// and made unique within the archive.
type ZipBuilder struct {
	zipWriter *zip.Writer
	names     *NameSet
}

func NewZipBuilder(writer io.Writer) *ZipBuilder {
	return &ZipBuilder{zipWriter: zip.NewWriter(writer), names: NewNameSet()}
}

// UniqueName returns name, or name with a " (n)" suffix before its extension
// when an entry of that name was already added.
func (b *ZipBuilder) UniqueName(name string) string {
	return b.names.Unique(name)
}

// AddDir writes an explicit directory entry so empty folders survive.
func (b *ZipBuilder) AddDir(name string) (string, error) {
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	name = b.names.Reserve(name)
	if _, err := b.zipWriter.Create(name); err != nil {
		return "", err
	}
	return name, nil
}

// AddFile copies source into the archive under a unique variant of name and
// returns the name used.
func (b *ZipBuilder) AddFile(name string, source io.Reader, modified time.Time) (string, int64, error) {
	name = b.names.Reserve(name)
	header := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if !modified.IsZero() {
		header.Modified = modified
	}

	w, err := b.zipWriter.CreateHeader(header)
	if err != nil {
		return "", 0, err
	}

	n, err := io.Copy(w, source)
	return name, n, err
}

func (b *ZipBuilder) Close() error {
	return b.zipWriter.Close()
}

// EntryPath joins an archive directory and a title. A directory longer than
// maxLength is replaced by placeholder; maxLength <= 0 disables the limit.
func EntryPath(dir, title string, maxLength int, placeholder string) string {
	dir = strings.Trim(dir, "/")
	if maxLength > 0 && len([]rune(dir)) > maxLength {
		dir = placeholder
	}
	if dir == "" {
		return title
	}
	return dir + "/" + title
}
