// Package fs provides the FUSE filesystem implementation.
//
// This file contains error translation utilities.
package fs

import (
	"errors"
	"os"
	"syscall"

	"tagfs/internal/index"
	"tagfs/internal/logging"

	"github.com/go-git/go-billy/v5"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")
)

// Common operation names for consistent logging and error reporting
const (
	OpOpen    = "open"    // Opening a file
	OpRead    = "read"    // Reading from a file
	OpWrite   = "write"   // Writing to a file
	OpSetattr = "setattr" // Setting file attributes
	OpGetattr = "getattr" // Getting file attributes
	OpXattr   = "xattr"   // Reading or editing extended attributes
	OpFsync   = "fsync"   // Flushing a file
	OpReadDir = "readdir" // Reading directory contents
	OpRename  = "rename"  // Moving a file or tag directory
	OpRemove  = "remove"  // Unlinking a file or removing a tag directory
	OpMkdir   = "mkdir"   // Creating a tag directory
	OpLookup  = "lookup"  // Looking up a name
	OpRelease = "release" // Closing a handle
)

// ToFuseError converts tag and storage errors to the errno FUSE expects.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	var tagErr *index.Error
	if errors.As(err, &tagErr) {
		errLogger.Trace("Converting tag error to FUSE error: %v", tagErr)
	}

	var errno syscall.Errno
	switch {
	case errors.Is(err, index.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, index.ErrNameConflict):
		return syscall.EEXIST
	case errors.Is(err, index.ErrInvalidOperation):
		return syscall.EINVAL
	case errors.Is(err, index.ErrNotSupported):
		return syscall.ENOTSUP
	case errors.Is(err, index.ErrPersistence):
		return syscall.EIO
	case errors.As(err, &errno):
		return errno
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, os.ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, billy.ErrNotSupported):
		return syscall.ENOTSUP
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return syscall.EIO
	}
}

// IsTemporary returns true if the error is likely temporary and the
// operation could succeed if retried.
func IsTemporary(err error) bool {
	var tagErr *index.Error
	if errors.As(err, &tagErr) {
		errLogger.Trace("Checking if tag error is temporary: %v", tagErr)
		return false // Resolution and translation errors reflect user intent
	}

	switch {
	case errors.Is(err, syscall.EAGAIN):
		return true
	case errors.Is(err, syscall.EBUSY):
		return true
	case errors.Is(err, syscall.ETIMEDOUT):
		return true
	default:
		return false
	}
}

// fail logs a failed callback and returns the errno handed to the kernel.
func fail(op, target string, err error) error {
	errno := ToFuseError(err)
	if IsTemporary(err) {
		errLogger.Warn("%s %s failed temporarily: %v", op, target, err)
	} else {
		errLogger.Debug("%s %s failed: %v (%v)", op, target, err, errno)
	}
	return errno
}
