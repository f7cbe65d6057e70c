package fs

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"tagfs/internal/facet"
	"tagfs/internal/index"
	"tagfs/internal/logging"
	"tagfs/internal/mutate"
	"tagfs/internal/storage"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// rootInode is the inode FUSE reserves for the mount root.
const rootInode = 1

// Options controls how the filesystem is mounted.
type Options struct {
	// FSName is shown as the mount source, e.g. in /proc/mounts.
	FSName string
	// AllowOther lets users other than the mounting one access the tree.
	AllowOther bool
	// AttrValid is how long the kernel may cache attributes and entries.
	AttrValid time.Duration
}

// DefaultOptions returns the mount options used by the command.
func DefaultOptions() Options {
	return Options{
		FSName:    "tagfs",
		AttrValid: time.Second,
	}
}

// TagFS serves the tag view of a source directory over FUSE.
type TagFS struct {
	source     *storage.Source    // Real files
	store      *index.Store       // Tag relation and its lock
	resolver   *facet.Resolver    // Path evaluation
	translator *mutate.Translator // Mutations and persistence
	opts       Options
	conn       *fuse.Conn // FUSE connection
	uid        uint32     // User ID reported for every node
	gid        uint32     // Group ID reported for every node
	started    time.Time  // Timestamp reported for directories

	serveOnce sync.Once
	done      chan struct{}
	serveErr  error
}

// NewTagFS creates a filesystem over the given components.
func NewTagFS(source *storage.Source, store *index.Store, resolver *facet.Resolver, translator *mutate.Translator, opts Options) (*TagFS, error) {
	if source == nil || store == nil || resolver == nil || translator == nil {
		return nil, fmt.Errorf("tagfs: source, store, resolver and translator are required")
	}

	vfsLogger.Info("Creating tag filesystem")
	vfsLogger.Debug("Source directory: %s", source.Root())

	// Get UID/GID from environment if set
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			vfsLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			vfsLogger.Debug("Using PGID from environment: %d", gid)
		}
	}

	if opts.FSName == "" {
		opts.FSName = "tagfs"
	}

	return &TagFS{
		source:     source,
		store:      store,
		resolver:   resolver,
		translator: translator,
		opts:       opts,
		uid:        uid,
		gid:        gid,
		started:    time.Now(),
		done:       make(chan struct{}),
	}, nil
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (tfs *TagFS) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return tfs.newDir(rootInode, nil), nil
}

func (tfs *TagFS) newDir(inode uint64, path []string) *Dir {
	return &Dir{fs: tfs, path: path, inode: inode}
}

func (tfs *TagFS) newFile(dir []string, f index.File) *File {
	return &File{fs: tfs, id: f.ID, name: f.Name, dir: dir, inode: fileInode(f.ID)}
}

// fileInode gives a file the same inode in every directory it shows up in.
func fileInode(id index.FileID) uint64 {
	return fusefs.GenerateDynamicInode(rootInode, "\x00file:"+strconv.FormatUint(uint64(id), 10))
}

func waitForMount(mountpoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountpoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts the filesystem and starts serving it in the background. Use
// Wait to block until the server stops.
func (tfs *TagFS) Mount(mountPoint string) error {
	vfsLogger.Info("Mounting tag filesystem")
	vfsLogger.Debug("Mount point: %s", mountPoint)
	vfsLogger.Debug("Source directory: %s", tfs.source.Root())
	vfsLogger.Debug("UID: %d, GID: %d", tfs.uid, tfs.gid)

	// Check if source directory is readable
	if _, err := tfs.source.Enumerate(); err != nil {
		vfsLogger.Error("Cannot read source directory: %v", err)
		return fmt.Errorf("source directory not readable: %w", err)
	}

	mountOpts := []fuse.MountOption{
		fuse.FSName(tfs.opts.FSName),
		fuse.Subtype("tagfs"),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
		fuse.AllowNonEmptyMount(),
	}
	if tfs.opts.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	tfs.conn = c

	go func() {
		defer close(tfs.done)
		if err := fusefs.Serve(c, tfs); err != nil {
			vfsLogger.Error("FUSE server error: %v", err)
			tfs.serveErr = err
		}
		vfsLogger.Debug("FUSE server stopped")
	}()

	// Wait for mount to be ready
	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		vfsLogger.Error("Mount point not ready: %v", err)
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	vfsLogger.Info("Filesystem mounted successfully")
	return nil
}

// Wait blocks until the FUSE server stops and closes the connection.
func (tfs *TagFS) Wait() error {
	if tfs.conn == nil {
		return nil
	}
	<-tfs.done
	tfs.serveOnce.Do(func() {
		if err := tfs.conn.Close(); err != nil {
			vfsLogger.Warn("Failed to close FUSE connection: %v", err)
		}
	})
	return tfs.serveErr
}

// Unmount cleanly unmounts the filesystem.
func (tfs *TagFS) Unmount(mountPoint string) error {
	vfsLogger.Info("Unmounting filesystem from: %s", mountPoint)
	if tfs.conn != nil {
		err := fuse.Unmount(mountPoint)
		if err != nil {
			vfsLogger.Error("Unmount failed: %v", err)
		} else {
			vfsLogger.Info("Unmount completed successfully")
		}
		return err
	}
	return nil
}
