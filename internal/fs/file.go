package fs

import (
	"context"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"syscall"

	"tagfs/internal/index"
	"tagfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/go-git/go-billy/v5"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// TagsXattr exposes a file's tags as a comma-separated list.
const TagsXattr = "user.tagfs.tags"

// File is a real file seen through a filter directory. Content operations go
// straight to storage without touching the tag lock.
type File struct {
	fs    *TagFS
	id    index.FileID
	name  string   // Name at lookup time
	dir   []string // Path of the directory it was found in
	inode uint64
}

func (f *File) String() string {
	return "/" + path.Join(append(append([]string{}, f.dir...), f.name)...)
}

// current returns the file's present name. A reconcile may have renamed or
// removed it since lookup.
func (f *File) current() (string, error) {
	var name string
	err := f.fs.store.View(func(idx *index.Index) error {
		file, ok := idx.File(f.id)
		if !ok {
			return index.NewError(index.OpLookup, f.String(), index.ErrNotFound)
		}
		name = file.Name
		return nil
	})
	return name, err
}

// Attr implements the Node interface, returning the real file's attributes.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for file: %q", f.String())

	name, err := f.current()
	if err != nil {
		return fail(OpGetattr, f.String(), err)
	}

	info, err := f.fs.source.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			fileLogger.Warn("Source file not found: %q", name)
		}
		return fail(OpGetattr, name, err)
	}

	a.Inode = f.inode
	a.Valid = f.fs.opts.AttrValid
	a.Mode = info.Mode()
	a.Size = safeInt64ToUint64(info.Size())
	a.Mtime = info.ModTime()
	a.Atime = info.ModTime() // We don't track access time
	a.Ctime = info.ModTime() // We don't track creation time
	a.Nlink = 1
	a.Uid = f.fs.uid
	a.Gid = f.fs.gid
	a.BlockSize = 4096
	a.Blocks = safeInt64ToUint64((info.Size() + 511) / 512)

	fileLogger.Trace("File attributes: mode=%v, size=%d, mtime=%v", a.Mode, a.Size, a.Mtime)
	return nil
}

// openFlags keeps the access mode and truncation of an open request.
// Creation flags never reach storage.
func openFlags(flags fuse.OpenFlags) int {
	var out int
	switch {
	case flags&fuse.OpenAccessModeMask == fuse.OpenWriteOnly:
		out = os.O_WRONLY
	case flags&fuse.OpenAccessModeMask == fuse.OpenReadWrite:
		out = os.O_RDWR
	default:
		out = os.O_RDONLY
	}
	if flags&fuse.OpenTruncate != 0 && out != os.O_RDONLY {
		out |= os.O_TRUNC
	}
	return out
}

// Open implements the NodeOpener interface, opening the underlying source file.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	name, err := f.current()
	if err != nil {
		return nil, fail(OpOpen, f.String(), err)
	}

	flags := openFlags(req.Flags)
	fileLogger.Debug("Opening file %q with flags %v", name, req.Flags)

	file, err := f.fs.source.OpenFile(name, flags)
	if err != nil {
		fileLogger.Error("Failed to open file: %v", err)
		return nil, fail(OpOpen, name, err)
	}

	// Enable direct IO for better performance
	resp.Flags |= fuse.OpenDirectIO

	fileLogger.Debug("Successfully opened file %q", name)
	return &FileHandle{file: file, name: name}, nil
}

// Setattr implements the NodeSetattrer interface for size, mode and times.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	name, err := f.current()
	if err != nil {
		return fail(OpSetattr, f.String(), err)
	}
	fileLogger.Debug("Setting attributes on %q (valid: %v)", name, req.Valid)

	if req.Valid.Size() {
		if err := f.fs.source.Truncate(name, safeUint64ToInt64(req.Size)); err != nil {
			return fail(OpSetattr, name, err)
		}
	}

	if req.Valid.Mode() {
		if err := f.fs.source.Chmod(name, req.Mode.Perm()); err != nil {
			return fail(OpSetattr, name, err)
		}
	}

	if req.Valid.Mtime() || req.Valid.Atime() {
		info, err := f.fs.source.Stat(name)
		if err != nil {
			return fail(OpSetattr, name, err)
		}
		atime, mtime := info.ModTime(), info.ModTime()
		if req.Valid.Atime() {
			atime = req.Atime
		}
		if req.Valid.Mtime() {
			mtime = req.Mtime
		}
		if err := f.fs.source.Chtimes(name, atime, mtime); err != nil {
			return fail(OpSetattr, name, err)
		}
	}

	return f.Attr(ctx, &resp.Attr)
}

// Fsync implements the NodeFsyncer interface. Writes go straight to the
// source file, so only storage that buffers needs flushing.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	name, err := f.current()
	if err != nil {
		return fail(OpFsync, f.String(), err)
	}
	fileLogger.Trace("Fsync on %q", name)

	file, err := f.fs.source.OpenFile(name, os.O_RDONLY)
	if err != nil {
		return fail(OpFsync, name, err)
	}
	defer file.Close()

	if syncer, ok := file.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return fail(OpFsync, name, err)
		}
	}
	return nil
}

// Getxattr implements the NodeGetxattrer interface. Only the tag list is
// exposed.
func (f *File) Getxattr(_ context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	fileLogger.Debug("Getting xattr %q for file %q", req.Name, f.String())

	if req.Name != TagsXattr {
		return fuse.ErrNoXattr
	}

	tags, err := f.tags()
	if err != nil {
		return fail(OpXattr, f.String(), err)
	}
	if len(tags) == 0 {
		fileLogger.Trace("No tags on %q", f.String())
		return fuse.ErrNoXattr
	}

	resp.Xattr = []byte(strings.Join(tags, ","))
	fileLogger.Trace("Retrieved xattr %q: %d bytes", req.Name, len(resp.Xattr))
	return nil
}

// Listxattr implements the NodeListxattrer interface.
func (f *File) Listxattr(_ context.Context, _ *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	fileLogger.Debug("Listing xattrs for file %q", f.String())

	tags, err := f.tags()
	if err != nil {
		return fail(OpXattr, f.String(), err)
	}
	if len(tags) > 0 {
		resp.Append(TagsXattr)
	}
	return nil
}

// Setxattr implements the NodeSetxattrer interface, replacing the file's
// tags with the comma-separated list in the value.
func (f *File) Setxattr(_ context.Context, req *fuse.SetxattrRequest) error {
	fileLogger.Debug("Setting xattr %q for file %q (size: %d bytes)", req.Name, f.String(), len(req.Xattr))

	if req.Name != TagsXattr {
		return syscall.ENOTSUP
	}

	tags := ParseTagList(string(req.Xattr))
	if err := f.fs.translator.SetTagsByID(f.id, tags); err != nil {
		return fail(OpXattr, f.String(), err)
	}

	fileLogger.Trace("Tags of %q set to %v", f.String(), tags)
	return nil
}

// Removexattr implements the NodeRemovexattrer interface, clearing the tags.
func (f *File) Removexattr(_ context.Context, req *fuse.RemovexattrRequest) error {
	fileLogger.Debug("Removing xattr %q for file %q", req.Name, f.String())

	if req.Name != TagsXattr {
		return fuse.ErrNoXattr
	}

	if err := f.fs.translator.SetTagsByID(f.id, nil); err != nil {
		return fail(OpXattr, f.String(), err)
	}
	return nil
}

func (f *File) tags() ([]string, error) {
	var tags []string
	err := f.fs.store.View(func(idx *index.Index) error {
		if _, ok := idx.File(f.id); !ok {
			return index.NewError(index.OpLookup, f.String(), index.ErrNotFound)
		}
		tags = idx.TagsOn(f.id)
		return nil
	})
	return tags, err
}

// ParseTagList splits a comma-separated tag list, dropping blanks and
// duplicates.
func ParseTagList(value string) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, part := range strings.Split(value, ",") {
		tag := strings.TrimSpace(part)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// FileHandle represents an open file handle.
// It manages access to an open file from the source directory.
type FileHandle struct {
	file billy.File
	name string // For logging purposes
	mu   sync.RWMutex
}

// Read implements the HandleReader interface, reading data from the file.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.mu.RLock()
	defer fh.mu.RUnlock()

	fileLogger.Trace("Reading %d bytes from file %q at offset %d", req.Size, fh.name, req.Offset)

	resp.Data = make([]byte, req.Size)
	n, err := fh.file.ReadAt(resp.Data, req.Offset)
	if err != nil && err != io.EOF {
		fileLogger.Error("Failed to read from file: %v", err)
		return fail(OpRead, fh.name, err)
	}

	resp.Data = resp.Data[:n]
	fileLogger.Trace("Successfully read %d bytes", n)
	return nil
}

// Write implements the HandleWriter interface, writing data at the
// requested offset.
func (fh *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Trace("Writing %d bytes to file %q at offset %d", len(req.Data), fh.name, req.Offset)

	var n int
	var err error
	if wa, ok := fh.file.(io.WriterAt); ok {
		n, err = wa.WriteAt(req.Data, req.Offset)
	} else if _, err = fh.file.Seek(req.Offset, io.SeekStart); err == nil {
		n, err = fh.file.Write(req.Data)
	}
	if err != nil {
		fileLogger.Error("Failed to write to file: %v", err)
		return fail(OpWrite, fh.name, err)
	}

	resp.Size = n
	return nil
}

// Release implements the HandleReleaser interface, closing the file handle.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Debug("Closing file %q", fh.name)
	if err := fh.file.Close(); err != nil {
		return fail(OpRelease, fh.name, err)
	}
	return nil
}
