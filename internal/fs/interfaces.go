// internal/fs/interfaces.go

package fs

import (
	"bazil.org/fuse/fs"
)

// Directory represents a filter directory in the tag view
type Directory interface {
	fs.Node
	fs.NodeStringLookuper
	fs.HandleReadDirAller
	fs.NodeMkdirer
	fs.NodeRemover
	fs.NodeRenamer
}

// FileInterface represents a real file seen through the tag view
type FileInterface interface {
	fs.Node
	fs.NodeSetattrer
	fs.NodeOpener
	fs.NodeFsyncer
	fs.NodeGetxattrer
	fs.NodeListxattrer
	fs.NodeSetxattrer
	fs.NodeRemovexattrer
}

// FileHandleInterface represents an open file handle
type FileHandleInterface interface {
	fs.Handle
	fs.HandleReader
	fs.HandleWriter
	fs.HandleReleaser
}

var (
	_ fs.FS               = (*TagFS)(nil)
	_ Directory           = (*Dir)(nil)
	_ FileInterface       = (*File)(nil)
	_ FileHandleInterface = (*FileHandle)(nil)
)
