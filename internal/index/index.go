// Package index holds the bidirectional relation between files and tags.
//
// An Index is not safe for concurrent use; it is owned by a Store which
// serializes writers against readers.
package index

import (
	"sort"

	"tagfs/internal/state"
)

// FileID identifies a real file independently of its tags. IDs are assigned
// once and never reused.
type FileID uint64

// File is a real file known to the index.
type File struct {
	ID          FileID
	Name        string
	Size        int64
	Fingerprint string
}

type fileSet map[FileID]struct{}

type tagSet map[string]struct{}

// Index is the tag relation: files_by_tag and tags_by_file, kept mutually
// consistent by every method.
type Index struct {
	files      map[FileID]*File
	byName     map[string]FileID
	filesByTag map[string]fileSet
	tagsByFile map[FileID]tagSet

	nextID     FileID
	generation uint64
	pruneEmpty bool
}

// Option configures an Index.
type Option func(*Index)

// KeepEmptyTags disables removal of tags whose last file was untagged.
func KeepEmptyTags() Option {
	return func(idx *Index) {
		idx.pruneEmpty = false
	}
}

// New returns an empty index.
func New(opts ...Option) *Index {
	idx := &Index{
		files:      make(map[FileID]*File),
		byName:     make(map[string]FileID),
		filesByTag: make(map[string]fileSet),
		tagsByFile: make(map[FileID]tagSet),
		nextID:     1,
		pruneEmpty: true,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Generation increases with every mutation.
func (idx *Index) Generation() uint64 {
	return idx.generation
}

func (idx *Index) touch() {
	idx.generation++
}

// AddFile registers a real file and returns its ID. A file already known by
// that name keeps its ID; its size and fingerprint are refreshed.
func (idx *Index) AddFile(name string, size int64, fingerprint string) FileID {
	if id, ok := idx.byName[name]; ok {
		f := idx.files[id]
		if f.Size != size || f.Fingerprint != fingerprint {
			f.Size = size
			f.Fingerprint = fingerprint
			idx.touch()
		}
		return id
	}

	id := idx.nextID
	idx.nextID++
	idx.files[id] = &File{ID: id, Name: name, Size: size, Fingerprint: fingerprint}
	idx.byName[name] = id
	idx.tagsByFile[id] = make(tagSet)
	idx.touch()
	return id
}

// RemoveFile forgets a file and all its tag associations.
func (idx *Index) RemoveFile(id FileID) {
	f, ok := idx.files[id]
	if !ok {
		return
	}
	for tag := range idx.tagsByFile[id] {
		idx.unlink(id, tag)
	}
	delete(idx.tagsByFile, id)
	delete(idx.byName, f.Name)
	delete(idx.files, id)
	idx.touch()
}

// RenameFile changes the name a file is known by, keeping its ID and tags.
func (idx *Index) RenameFile(id FileID, name string) error {
	f, ok := idx.files[id]
	if !ok {
		return NewError(OpMove, name, ErrNotFound)
	}
	if f.Name == name {
		return nil
	}
	if _, taken := idx.byName[name]; taken {
		return NewError(OpMove, name, ErrNameConflict)
	}
	delete(idx.byName, f.Name)
	f.Name = name
	idx.byName[name] = id
	idx.touch()
	return nil
}

// File returns the file with the given ID.
func (idx *Index) File(id FileID) (File, bool) {
	f, ok := idx.files[id]
	if !ok {
		return File{}, false
	}
	return *f, true
}

// FileByName returns the file known by name.
func (idx *Index) FileByName(name string) (File, bool) {
	id, ok := idx.byName[name]
	if !ok {
		return File{}, false
	}
	return *idx.files[id], true
}

// Files returns every known file sorted by name. This is the universal set.
func (idx *Index) Files() []File {
	out := make([]File, 0, len(idx.files))
	for _, f := range idx.files {
		out = append(out, *f)
	}
	sortFiles(out)
	return out
}

// FileCount returns the number of known files.
func (idx *Index) FileCount() int {
	return len(idx.files)
}

// AddTag tags a file, creating the tag if needed. Adding a tag the file
// already carries is a no-op.
func (idx *Index) AddTag(id FileID, tag string) error {
	if _, ok := idx.files[id]; !ok {
		return NewError(OpAddTag, tag, ErrNotFound)
	}
	if tag == "" {
		return NewError(OpAddTag, tag, ErrInvalidOperation)
	}
	if _, ok := idx.tagsByFile[id][tag]; ok {
		return nil
	}
	set, ok := idx.filesByTag[tag]
	if !ok {
		set = make(fileSet)
		idx.filesByTag[tag] = set
	}
	set[id] = struct{}{}
	idx.tagsByFile[id][tag] = struct{}{}
	idx.touch()
	return nil
}

// RemoveTag untags a file. Removing an absent tag is a no-op. A tag left
// without files is dropped unless the index keeps empty tags.
func (idx *Index) RemoveTag(id FileID, tag string) {
	if _, ok := idx.tagsByFile[id][tag]; !ok {
		return
	}
	idx.unlink(id, tag)
	idx.touch()
}

func (idx *Index) unlink(id FileID, tag string) {
	delete(idx.tagsByFile[id], tag)
	set := idx.filesByTag[tag]
	delete(set, id)
	if len(set) == 0 && idx.pruneEmpty {
		delete(idx.filesByTag, tag)
	}
}

// CreateTag adds a tag with no files.
func (idx *Index) CreateTag(tag string) error {
	if tag == "" {
		return NewError(OpCreateTag, tag, ErrInvalidOperation)
	}
	if _, ok := idx.filesByTag[tag]; ok {
		return NewError(OpCreateTag, tag, ErrNameConflict)
	}
	idx.filesByTag[tag] = make(fileSet)
	idx.touch()
	return nil
}

// DeleteTag removes a tag and every association it has.
func (idx *Index) DeleteTag(tag string) error {
	set, ok := idx.filesByTag[tag]
	if !ok {
		return NewError(OpDeleteTag, tag, ErrNotFound)
	}
	for id := range set {
		delete(idx.tagsByFile[id], tag)
	}
	delete(idx.filesByTag, tag)
	idx.touch()
	return nil
}

// RenameTag renames old to new. When new already exists the two file sets
// are merged, unless allowMerge is false.
func (idx *Index) RenameTag(oldTag, newTag string, allowMerge bool) error {
	oldSet, ok := idx.filesByTag[oldTag]
	if !ok {
		return NewError(OpRenameTag, oldTag, ErrNotFound)
	}
	if newTag == "" {
		return NewError(OpRenameTag, newTag, ErrInvalidOperation)
	}
	if oldTag == newTag {
		return nil
	}

	newSet, exists := idx.filesByTag[newTag]
	if exists && !allowMerge {
		return NewError(OpRenameTag, newTag, ErrNameConflict)
	}
	if !exists {
		newSet = make(fileSet, len(oldSet))
		idx.filesByTag[newTag] = newSet
	}

	for id := range oldSet {
		newSet[id] = struct{}{}
		tags := idx.tagsByFile[id]
		delete(tags, oldTag)
		tags[newTag] = struct{}{}
	}
	delete(idx.filesByTag, oldTag)
	idx.touch()
	return nil
}

// HasTag reports whether tag exists, with or without files.
func (idx *Index) HasTag(tag string) bool {
	_, ok := idx.filesByTag[tag]
	return ok
}

// TagSize returns the number of files carrying tag.
func (idx *Index) TagSize(tag string) int {
	return len(idx.filesByTag[tag])
}

// Tags returns every tag sorted by name.
func (idx *Index) Tags() []string {
	out := make([]string, 0, len(idx.filesByTag))
	for tag := range idx.filesByTag {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// TagsOn returns the tags carried by a file, sorted by name.
func (idx *Index) TagsOn(id FileID) []string {
	tags := idx.tagsByFile[id]
	out := make([]string, 0, len(tags))
	for tag := range tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// HasAll reports whether a file carries every one of tags.
func (idx *Index) HasAll(id FileID, tags []string) bool {
	own, ok := idx.tagsByFile[id]
	if !ok {
		return false
	}
	for _, tag := range tags {
		if _, ok := own[tag]; !ok {
			return false
		}
	}
	return true
}

// FilesWithAll returns the files carrying every one of tags, sorted by name.
// With no tags it returns the universal set.
func (idx *Index) FilesWithAll(tags ...string) []File {
	if len(tags) == 0 {
		return idx.Files()
	}

	// Intersect starting from the smallest set.
	smallest := -1
	for i, tag := range tags {
		set, ok := idx.filesByTag[tag]
		if !ok || len(set) == 0 {
			return []File{}
		}
		if smallest < 0 || len(set) < len(idx.filesByTag[tags[smallest]]) {
			smallest = i
		}
	}

	out := []File{}
	for id := range idx.filesByTag[tags[smallest]] {
		if idx.HasAll(id, tags) {
			out = append(out, *idx.files[id])
		}
	}
	sortFiles(out)
	return out
}

// CountWithAll returns len(FilesWithAll(tags...)) without building the slice.
func (idx *Index) CountWithAll(tags ...string) int {
	if len(tags) == 0 {
		return len(idx.files)
	}
	n := 0
	first := idx.filesByTag[tags[0]]
	for id := range first {
		if idx.HasAll(id, tags) {
			n++
		}
	}
	return n
}

// Untagged returns the files carrying no tag, sorted by name.
func (idx *Index) Untagged() []File {
	out := []File{}
	for id, tags := range idx.tagsByFile {
		if len(tags) == 0 {
			out = append(out, *idx.files[id])
		}
	}
	sortFiles(out)
	return out
}

func sortFiles(files []File) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
}

// Snapshot captures the index for persistence. Files and tags are sorted so
// equal indexes produce equal snapshots.
func (idx *Index) Snapshot() *state.Snapshot {
	snap := state.NewSnapshot()
	snap.Generation = idx.generation
	snap.NextID = uint64(idx.nextID)

	for _, f := range idx.Files() {
		snap.Files = append(snap.Files, state.FileRecord{
			ID:          uint64(f.ID),
			Name:        f.Name,
			Size:        f.Size,
			Fingerprint: f.Fingerprint,
		})
	}

	for _, tag := range idx.Tags() {
		ids := make([]uint64, 0, len(idx.filesByTag[tag]))
		for id := range idx.filesByTag[tag] {
			ids = append(ids, uint64(id))
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		snap.Tags = append(snap.Tags, state.TagRecord{Name: tag, Files: ids})
	}
	return snap
}

// Restore builds an index from a snapshot. Tag entries naming unknown files
// are dropped; duplicate file names keep the first record.
func Restore(snap *state.Snapshot, opts ...Option) *Index {
	idx := New(opts...)
	if snap == nil {
		return idx
	}

	var maxID FileID
	for _, rec := range snap.Files {
		id := FileID(rec.ID)
		if id == 0 {
			continue
		}
		if _, dup := idx.byName[rec.Name]; dup {
			continue
		}
		if _, dup := idx.files[id]; dup {
			continue
		}
		idx.files[id] = &File{ID: id, Name: rec.Name, Size: rec.Size, Fingerprint: rec.Fingerprint}
		idx.byName[rec.Name] = id
		idx.tagsByFile[id] = make(tagSet)
		if id > maxID {
			maxID = id
		}
	}

	for _, rec := range snap.Tags {
		if rec.Name == "" {
			continue
		}
		set, ok := idx.filesByTag[rec.Name]
		if !ok {
			set = make(fileSet, len(rec.Files))
			idx.filesByTag[rec.Name] = set
		}
		for _, raw := range rec.Files {
			id := FileID(raw)
			if _, known := idx.files[id]; !known {
				continue
			}
			set[id] = struct{}{}
			idx.tagsByFile[id][rec.Name] = struct{}{}
		}
	}

	idx.nextID = FileID(snap.NextID)
	if idx.nextID <= maxID {
		idx.nextID = maxID + 1
	}
	idx.generation = snap.Generation
	return idx
}
