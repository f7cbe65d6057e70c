// Package mutate turns directory operations on the tag view into tag index
// edits.
//
// Every operation takes the store's write lock, resolves its paths again
// inside it, validates, and only then edits. The resulting snapshot is saved
// after the lock is released.
package mutate

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"tagfs/internal/facet"
	"tagfs/internal/index"
	"tagfs/internal/logging"
	"tagfs/internal/state"
)

var (
	logger = logging.GetLogger().WithPrefix("mutate")

	// trashPattern matches the directories desktop environments try to
	// create on every mount.
	trashPattern = regexp.MustCompile(`^\.Trash(-\d+)?$`)
)

// Saver persists index snapshots.
type Saver interface {
	SaveSnapshot(snap *state.Snapshot) error
}

// Policy controls how conflicting edits are handled.
type Policy struct {
	// AllowMerge lets a tag rename merge into an existing tag.
	AllowMerge bool
}

// DefaultPolicy allows merging on rename.
func DefaultPolicy() Policy {
	return Policy{AllowMerge: true}
}

// Translator applies filesystem mutations to the tag index.
type Translator struct {
	store    *index.Store
	resolver *facet.Resolver
	saver    Saver
	policy   Policy
}

// New creates a translator. saver may be nil, in which case edits are kept
// in memory only.
func New(store *index.Store, resolver *facet.Resolver, saver Saver, policy Policy) *Translator {
	return &Translator{
		store:    store,
		resolver: resolver,
		saver:    saver,
		policy:   policy,
	}
}

func display(p []string, name ...string) string {
	return "/" + path.Join(append(append([]string{}, p...), name...)...)
}

func child(p []string, name string) []string {
	out := make([]string, len(p), len(p)+1)
	copy(out, p)
	return append(out, name)
}

// commit applies fn under the write lock and persists the outcome. A save
// failure leaves the edit in place and is reported as ErrPersistence.
func (t *Translator) commit(op, target string, fn func(idx *index.Index) error) error {
	snap, err := t.store.Update(fn)
	if err != nil {
		logger.Debug("%s %s rejected: %v", op, target, err)
		return err
	}
	if snap == nil {
		logger.Trace("%s %s changed nothing", op, target)
		return nil
	}
	logger.Debug("%s %s committed (generation %d)", op, target, snap.Generation)

	if t.saver == nil {
		return nil
	}
	if saveErr := t.saver.SaveSnapshot(snap); saveErr != nil {
		logger.Error("Failed to save state after %s %s: %v", op, target, saveErr)
		return index.NewError(op, target, fmt.Errorf("%w: %v", index.ErrPersistence, saveErr))
	}
	return nil
}

// Save persists the current index regardless of changes, as done on unmount.
func (t *Translator) Save() error {
	if t.saver == nil {
		return nil
	}
	if err := t.saver.SaveSnapshot(t.store.Snapshot()); err != nil {
		return index.NewError(index.OpSave, "", fmt.Errorf("%w: %v", index.ErrPersistence, err))
	}
	return nil
}

// Move handles rename(srcDir/name -> dstDir/newName).
//
// A file moved into a filter directory gains that directory's tags. A file
// moved to a directory whose filter is a strict subset of its source filter
// loses the dropped tags; the root is the empty filter. A file moved into the
// untagged view loses every tag. A single-tag directory moved to the root
// under a new name renames the tag.
func (t *Translator) Move(srcDir []string, name string, dstDir []string, newName string) error {
	target := display(srcDir, name) + " -> " + display(dstDir, newName)

	return t.commit(index.OpMove, target, func(idx *index.Index) error {
		src := t.resolver.Resolve(idx, child(srcDir, name))
		switch src.Kind {
		case facet.FileEntry:
			return t.moveFile(idx, src, dstDir, newName, target)
		case facet.Directory:
			return t.moveDir(idx, src, dstDir, newName, target)
		default:
			return index.NewError(index.OpMove, display(srcDir, name), index.ErrNotFound)
		}
	})
}

func (t *Translator) moveFile(idx *index.Index, src facet.Result, dstDir []string, newName, target string) error {
	if newName != src.File.Name {
		return index.NewError(index.OpMove, target, index.ErrNotSupported)
	}

	dst := t.resolver.Resolve(idx, dstDir)
	if !dst.IsDir() {
		return index.NewError(index.OpMove, display(dstDir), index.ErrNotFound)
	}

	id := src.File.ID
	switch {
	case dst.Untagged:
		for _, tag := range idx.TagsOn(id) {
			idx.RemoveTag(id, tag)
		}
	case isStrictSubset(dst.Active, src.Active):
		for _, tag := range difference(src.Active, dst.Active) {
			idx.RemoveTag(id, tag)
		}
	default:
		for _, tag := range dst.Active {
			if err := idx.AddTag(id, tag); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Translator) moveDir(idx *index.Index, src facet.Result, dstDir []string, newName, target string) error {
	if src.Root || src.Untagged || len(src.Active) == 0 {
		return index.NewError(index.OpRenameTag, target, index.ErrInvalidOperation)
	}
	if len(src.Active) != 1 {
		return index.NewError(index.OpRenameTag, target, index.ErrInvalidOperation)
	}

	dst := t.resolver.Resolve(idx, dstDir)
	if !dst.IsDir() {
		return index.NewError(index.OpRenameTag, display(dstDir), index.ErrNotFound)
	}
	if dst.Untagged || len(dst.Active) != 0 {
		return index.NewError(index.OpRenameTag, target, index.ErrInvalidOperation)
	}

	newTag := t.resolver.TagName(newName)
	if err := t.checkTagName(idx, newTag, nil); err != nil {
		if !(errors.Is(err, index.ErrNameConflict) && idx.HasTag(newTag)) {
			return err
		}
	}
	return idx.RenameTag(src.Active[0], newTag, t.policy.AllowMerge)
}

// checkTagName validates a name for a new or renamed tag. Names that would
// be shadowed by a root entry or by a file in the given filter conflict.
func (t *Translator) checkTagName(idx *index.Index, tag string, active []string) error {
	if tag == "" || tag == "." || tag == ".." || strings.ContainsRune(tag, '/') {
		return index.NewError(index.OpCreateTag, tag, index.ErrInvalidOperation)
	}
	if t.resolver.Reserved(tag) {
		return index.NewError(index.OpCreateTag, tag, index.ErrNameConflict)
	}
	if idx.HasTag(tag) {
		return index.NewError(index.OpCreateTag, tag, index.ErrNameConflict)
	}
	if f, ok := idx.FileByName(tag); ok && idx.HasAll(f.ID, active) {
		return index.NewError(index.OpCreateTag, tag, index.ErrNameConflict)
	}
	return nil
}

// Unlink removes the tags of dir's filter from the named file. The real file
// is never deleted, so unlinking outside a filter is not supported.
func (t *Translator) Unlink(dir []string, name string) error {
	target := display(dir, name)

	return t.commit(index.OpUnlink, target, func(idx *index.Index) error {
		res := t.resolver.Resolve(idx, child(dir, name))
		switch {
		case res.Kind == facet.NotFound:
			return index.NewError(index.OpUnlink, target, index.ErrNotFound)
		case res.Kind != facet.FileEntry:
			return index.NewError(index.OpUnlink, target, index.ErrInvalidOperation)
		case res.Untagged || len(res.Active) == 0:
			return index.NewError(index.OpUnlink, target, index.ErrNotSupported)
		}

		for _, tag := range res.Active {
			idx.RemoveTag(res.File.ID, tag)
		}
		return nil
	})
}

// Mkdir creates an empty tag named by name inside dir and returns the tag.
func (t *Translator) Mkdir(dir []string, name string) (string, error) {
	target := display(dir, name)
	if trashPattern.MatchString(name) {
		return "", index.NewError(index.OpMkdir, target, index.ErrNotSupported)
	}

	tag := t.resolver.TagName(name)
	err := t.commit(index.OpMkdir, target, func(idx *index.Index) error {
		parent := t.resolver.Resolve(idx, dir)
		if !parent.IsDir() {
			return index.NewError(index.OpMkdir, display(dir), index.ErrNotFound)
		}
		if parent.Untagged {
			return index.NewError(index.OpMkdir, target, index.ErrNotSupported)
		}
		if err := t.checkTagName(idx, tag, parent.Active); err != nil {
			return err
		}
		return idx.CreateTag(tag)
	})
	if err != nil {
		return "", err
	}
	return tag, nil
}

// Rmdir deletes the last tag of the named directory if no file carries it.
// Removing a tag that still has files is not supported.
func (t *Translator) Rmdir(dir []string, name string) error {
	target := display(dir, name)

	return t.commit(index.OpRmdir, target, func(idx *index.Index) error {
		res := t.resolver.Resolve(idx, child(dir, name))
		switch {
		case res.Kind == facet.NotFound:
			return index.NewError(index.OpRmdir, target, index.ErrNotFound)
		case res.Kind != facet.Directory:
			return index.NewError(index.OpRmdir, target, index.ErrInvalidOperation)
		case res.Untagged || len(res.Active) == 0:
			return index.NewError(index.OpRmdir, target, index.ErrNotSupported)
		}

		tag := res.Active[len(res.Active)-1]
		if idx.TagSize(tag) > 0 {
			return index.NewError(index.OpRmdir, target, index.ErrNotSupported)
		}
		return idx.DeleteTag(tag)
	})
}

// SetTags replaces the tag set of the file at dir/name.
func (t *Translator) SetTags(dir []string, name string, tags []string) error {
	target := display(dir, name)

	return t.commit(index.OpSetTags, target, func(idx *index.Index) error {
		res := t.resolver.Resolve(idx, child(dir, name))
		if res.Kind != facet.FileEntry {
			return index.NewError(index.OpSetTags, target, index.ErrNotFound)
		}
		return t.replaceTags(idx, res.File.ID, tags)
	})
}

// SetTagsByID replaces the tag set of a file wherever it is currently seen.
// Open nodes use it, since their lookup path may no longer lead to the file.
func (t *Translator) SetTagsByID(id index.FileID, tags []string) error {
	target := fmt.Sprintf("file %d", id)

	return t.commit(index.OpSetTags, target, func(idx *index.Index) error {
		if _, ok := idx.File(id); !ok {
			return index.NewError(index.OpSetTags, target, index.ErrNotFound)
		}
		return t.replaceTags(idx, id, tags)
	})
}

// replaceTags validates every tag before editing anything.
func (t *Translator) replaceTags(idx *index.Index, id index.FileID, tags []string) error {
	want := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag == "" || strings.ContainsRune(tag, '/') || t.resolver.Reserved(tag) {
			return index.NewError(index.OpSetTags, tag, index.ErrInvalidOperation)
		}
		want[tag] = struct{}{}
	}

	for _, tag := range idx.TagsOn(id) {
		if _, keep := want[tag]; !keep {
			idx.RemoveTag(id, tag)
		}
	}
	for tag := range want {
		if err := idx.AddTag(id, tag); err != nil {
			return err
		}
	}
	return nil
}

// Tags returns the tags of the file at dir/name.
func (t *Translator) Tags(dir []string, name string) ([]string, error) {
	var tags []string
	err := t.store.View(func(idx *index.Index) error {
		res := t.resolver.Resolve(idx, child(dir, name))
		if res.Kind != facet.FileEntry {
			return index.NewError(index.OpLookup, display(dir, name), index.ErrNotFound)
		}
		tags = idx.TagsOn(res.File.ID)
		return nil
	})
	return tags, err
}

func isStrictSubset(sub, super []string) bool {
	if len(sub) >= len(super) {
		return false
	}
	set := make(map[string]struct{}, len(super))
	for _, tag := range super {
		set[tag] = struct{}{}
	}
	for _, tag := range sub {
		if _, ok := set[tag]; !ok {
			return false
		}
	}
	return true
}

func difference(a, b []string) []string {
	drop := make(map[string]struct{}, len(b))
	for _, tag := range b {
		drop[tag] = struct{}{}
	}
	var out []string
	for _, tag := range a {
		if _, ok := drop[tag]; !ok {
			out = append(out, tag)
		}
	}
	return out
}
