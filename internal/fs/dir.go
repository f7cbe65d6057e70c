package fs

import (
	"context"
	"os"
	"path"
	"syscall"

	"tagfs/internal/facet"
	"tagfs/internal/index"
	"tagfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir is a filter directory: the root, the root alias, the untagged view, or
// any chain of tags below them. It holds only the names that lead to it;
// every callback resolves them again.
type Dir struct {
	fs    *TagFS
	path  []string
	inode uint64
}

func (d *Dir) String() string {
	return "/" + path.Join(d.path...)
}

func (d *Dir) child(name string) []string {
	out := make([]string, len(d.path), len(d.path)+1)
	copy(out, d.path)
	return append(out, name)
}

// resolve evaluates p under the index read lock.
func (d *Dir) resolve(p []string) (facet.Result, error) {
	var res facet.Result
	err := d.fs.store.View(func(idx *index.Index) error {
		res = d.fs.resolver.Resolve(idx, p)
		return nil
	})
	return res, err
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.String())

	a.Inode = d.inode
	a.Valid = d.fs.opts.AttrValid
	a.Mode = os.ModeDir | 0755
	a.Nlink = 2
	a.Uid = d.fs.uid
	a.Gid = d.fs.gid
	a.Atime = d.fs.started
	a.Mtime = d.fs.started
	a.Ctime = d.fs.started
	a.BlockSize = 4096
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q in directory %q", name, d.String())

	childPath := d.child(name)
	res, err := d.resolve(childPath)
	if err != nil {
		return nil, fail(OpLookup, path.Join(d.String(), name), err)
	}

	switch res.Kind {
	case facet.Directory:
		dirLogger.Trace("Found filter directory %q with tags %v", name, res.Active)
		return d.fs.newDir(fusefs.GenerateDynamicInode(d.inode, name), childPath), nil
	case facet.FileEntry:
		dirLogger.Trace("Found file %q (id %d)", name, res.File.ID)
		return d.fs.newFile(d.path, res.File), nil
	default:
		dirLogger.Trace("Path not found: %q", path.Join(childPath...))
		return nil, syscall.ENOENT
	}
}

// ReadDirAll implements the HandleReadDirAller interface, listing the matched
// files and the facets of this directory.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.String())

	var listing []facet.Entry
	err := d.fs.store.View(func(idx *index.Index) error {
		res := d.fs.resolver.Resolve(idx, d.path)
		if !res.IsDir() {
			return index.NewError(index.OpReadDir, d.String(), index.ErrNotFound)
		}
		listing = d.fs.resolver.List(idx, res)
		return nil
	})
	if err != nil {
		dirLogger.Debug("Directory %q no longer resolves", d.String())
		return nil, fail(OpReadDir, d.String(), err)
	}

	entries := make([]fuse.Dirent, 0, len(listing)+2)
	entries = append(entries, fuse.Dirent{Inode: d.inode, Name: ".", Type: fuse.DT_Dir})
	entries = append(entries, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})

	for _, e := range listing {
		if e.IsDir() {
			entries = append(entries, fuse.Dirent{
				Inode: fusefs.GenerateDynamicInode(d.inode, e.Name),
				Name:  e.Name,
				Type:  fuse.DT_Dir,
			})
			continue
		}
		entries = append(entries, fuse.Dirent{
			Inode: fileInode(e.File.ID),
			Name:  e.Name,
			Type:  fuse.DT_File,
		})
	}

	dirLogger.Debug("Directory %q contains %d entries", d.String(), len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, creating an empty tag.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	dirLogger.Info("Creating tag %q in %q", req.Name, d.String())

	tag, err := d.fs.translator.Mkdir(d.path, req.Name)
	if err != nil {
		return nil, fail(OpMkdir, path.Join(d.String(), req.Name), err)
	}

	dirLogger.Info("Successfully created tag %q", tag)
	return d.fs.newDir(fusefs.GenerateDynamicInode(d.inode, req.Name), d.child(req.Name)), nil
}

// Remove implements the NodeRemover interface. Removing a file takes this
// directory's tags off it; removing a directory deletes an empty tag.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	dirLogger.Info("Removing %q from directory %q (isDir=%v)", req.Name, d.String(), req.Dir)

	var err error
	if req.Dir {
		err = d.fs.translator.Rmdir(d.path, req.Name)
	} else {
		err = d.fs.translator.Unlink(d.path, req.Name)
	}
	if err != nil {
		return fail(OpRemove, path.Join(d.String(), req.Name), err)
	}

	dirLogger.Info("Successfully removed %q from %q", req.Name, d.String())
	return nil
}

// Rename implements the NodeRenamer interface. Moving a file between filter
// directories edits its tags; renaming a single-tag directory renames the tag.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Error("Target is not a valid directory type")
		return syscall.EINVAL
	}

	dirLogger.Info("Renaming %q in %q to %q in %q", req.OldName, d.String(), req.NewName, target.String())

	if err := d.fs.translator.Move(d.path, req.OldName, target.path, req.NewName); err != nil {
		return fail(OpRename, path.Join(d.String(), req.OldName), err)
	}

	dirLogger.Info("Successfully completed rename operation")
	return nil
}
