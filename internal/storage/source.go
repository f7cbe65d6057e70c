// Package storage provides access to the real files behind the tag view.
//
// Files live flat in one source directory and are addressed by name. The
// filesystem is a go-billy Filesystem: osfs when mounted, memfs in tests.
package storage

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"tagfs/internal/logging"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/zeebo/blake3"
)

var (
	logger = logging.GetLogger().WithPrefix("storage")
)

// fingerprintWindow is how much of a file's head is hashed into its
// fingerprint. Media files are large; the head plus the size identifies them
// well enough to follow a rename.
const fingerprintWindow = 1 << 20

// Entry is a regular file found in the source directory.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Source is the real-storage provider.
type Source struct {
	root string
	bfs  billy.Filesystem
}

// NewOS returns a source backed by the directory at root.
func NewOS(root string) *Source {
	return New(root, osfs.New(root))
}

// NewMemory returns an empty in-memory source.
func NewMemory() *Source {
	return New("/", memfs.New())
}

// New wraps an existing billy filesystem.
func New(root string, bfs billy.Filesystem) *Source {
	return &Source{root: root, bfs: bfs}
}

// Root returns the directory the source was created for.
func (s *Source) Root() string {
	return s.root
}

// Unwrap returns the underlying billy filesystem.
func (s *Source) Unwrap() billy.Filesystem {
	return s.bfs
}

// validName rejects anything that is not a single path element.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return fmt.Errorf("invalid file name %q: %w", name, os.ErrInvalid)
	}
	return nil
}

// Hidden reports whether a name is skipped by Enumerate. Dot files hold the
// state file and its backups when they live inside the source directory.
func Hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Enumerate lists the regular, non-hidden files of the source directory,
// sorted by name.
func (s *Source) Enumerate() ([]Entry, error) {
	infos, err := s.bfs.ReadDir("/")
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory %s: %w", s.root, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if Hidden(info.Name()) || !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, Entry{
			Name:    info.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	logger.Debug("Enumerated %d files in %s", len(entries), s.root)
	return entries, nil
}

// Stat returns the metadata of a file.
func (s *Source) Stat(name string) (os.FileInfo, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	return s.bfs.Stat(path.Join("/", name))
}

// OpenFile opens a file with os.OpenFile flags. Creating files is not
// possible through the tag view, so O_CREATE is stripped.
func (s *Source) OpenFile(name string, flag int) (billy.File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	return s.bfs.OpenFile(path.Join("/", name), flag&^os.O_CREATE, 0)
}

// Truncate changes the size of a file.
func (s *Source) Truncate(name string, size int64) error {
	f, err := s.OpenFile(name, os.O_WRONLY)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Chmod changes permission bits when the filesystem supports it.
func (s *Source) Chmod(name string, mode os.FileMode) error {
	if err := validName(name); err != nil {
		return err
	}
	change, ok := s.bfs.(billy.Change)
	if !ok {
		return fmt.Errorf("chmod %s: %w", name, billy.ErrNotSupported)
	}
	return change.Chmod(path.Join("/", name), mode)
}

// Chtimes changes access and modification times when the filesystem supports it.
func (s *Source) Chtimes(name string, atime, mtime time.Time) error {
	if err := validName(name); err != nil {
		return err
	}
	change, ok := s.bfs.(billy.Change)
	if !ok {
		return fmt.Errorf("chtimes %s: %w", name, billy.ErrNotSupported)
	}
	return change.Chtimes(path.Join("/", name), atime, mtime)
}

// Fingerprint hashes the size and the first MiB of a file with BLAKE3.
func (s *Source) Fingerprint(name string) (string, error) {
	info, err := s.Stat(name)
	if err != nil {
		return "", err
	}

	f, err := s.OpenFile(name, os.O_RDONLY)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	fmt.Fprintf(h, "%d\x00", info.Size())
	if _, err := io.CopyN(h, f, fingerprintWindow); err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to hash %s: %w", name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
