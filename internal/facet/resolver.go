// Package facet resolves virtual paths against the tag index.
//
// A path is a list of names as handed over by the kernel. Each tag name
// narrows the active filter; the result is either a filter directory, a file
// entry inside one, or nothing. Nothing is cached: every call evaluates the
// index as it is, which keeps listings consistent with the relation.
package facet

import (
	"sort"
	"strings"

	"tagfs/internal/index"
)

// Decoration wraps tag names in listings so they cannot be mistaken for files.
type Decoration struct {
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`
}

// Enabled reports whether tags are rendered differently from their names.
func (d Decoration) Enabled() bool {
	return d.Prefix != "" || d.Suffix != ""
}

// Wrap renders a tag name for a listing.
func (d Decoration) Wrap(tag string) string {
	return d.Prefix + tag + d.Suffix
}

// Unwrap extracts the tag from a rendered name.
func (d Decoration) Unwrap(name string) (string, bool) {
	if !d.Enabled() || len(name) <= len(d.Prefix)+len(d.Suffix) {
		return "", false
	}
	if !strings.HasPrefix(name, d.Prefix) || !strings.HasSuffix(name, d.Suffix) {
		return "", false
	}
	return name[len(d.Prefix) : len(name)-len(d.Suffix)], true
}

// Options controls naming and visibility.
type Options struct {
	Decoration Decoration
	// RootAlias names the "no filter" entry at the root. Empty disables it.
	RootAlias string
	// UntaggedDir names the root entry listing files without tags. Empty
	// disables it.
	UntaggedDir string
	// ShowEmptyTags offers tags without files as facets in every directory,
	// not only at the root.
	ShowEmptyTags bool
}

// DefaultOptions returns the standard naming: __tag__ facets, _ALL and
// _UNTAGGED at the root, empty tags hidden below the root.
func DefaultOptions() Options {
	return Options{
		Decoration:  Decoration{Prefix: "__", Suffix: "__"},
		RootAlias:   "_ALL",
		UntaggedDir: "_UNTAGGED",
	}
}

// Kind is the variant of a resolution result.
type Kind int

const (
	// NotFound means the path does not resolve.
	NotFound Kind = iota
	// Directory is a filter directory.
	Directory
	// FileEntry is a real file seen through a filter directory.
	FileEntry
)

func (k Kind) String() string {
	switch k {
	case Directory:
		return "directory"
	case FileEntry:
		return "file"
	default:
		return "not-found"
	}
}

// Result is what a path shows.
type Result struct {
	Kind Kind
	// Root is set for the mount root only, not for its alias.
	Root bool
	// Untagged is set for the untagged view and files inside it.
	Untagged bool
	// Active holds the filter tags in path order. For a FileEntry it is the
	// filter of the containing directory.
	Active []string
	// File is the resolved file of a FileEntry.
	File index.File
}

// IsDir reports whether the result is a directory.
func (r Result) IsDir() bool {
	return r.Kind == Directory
}

// Found reports whether the path resolved.
func (r Result) Found() bool {
	return r.Kind != NotFound
}

// EntryKind distinguishes listing entries.
type EntryKind int

const (
	// EntryFile is a matched file.
	EntryFile EntryKind = iota
	// EntryFacet is a tag offered for refinement.
	EntryFacet
	// EntrySpecial is the root alias or the untagged view.
	EntrySpecial
)

// Entry is one child in a directory listing.
type Entry struct {
	Name string
	Kind EntryKind
	Tag  string
	File index.File
}

// IsDir reports whether the entry is rendered as a directory.
func (e Entry) IsDir() bool {
	return e.Kind != EntryFile
}

// Resolver evaluates paths against an index. It holds no index state and is
// safe for concurrent use; callers provide locking for the index.
type Resolver struct {
	opts Options
}

// New creates a resolver.
func New(opts Options) *Resolver {
	return &Resolver{opts: opts}
}

// Reserved reports whether name is used by a root special entry.
func (r *Resolver) Reserved(name string) bool {
	return (r.opts.RootAlias != "" && name == r.opts.RootAlias) ||
		(r.opts.UntaggedDir != "" && name == r.opts.UntaggedDir)
}

// TagName returns the tag a directory name refers to: decorated names are
// unwrapped, anything else is taken literally.
func (r *Resolver) TagName(name string) string {
	if tag, ok := r.opts.Decoration.Unwrap(name); ok {
		return tag
	}
	return name
}

// Resolve walks path left to right starting from the empty filter.
func (r *Resolver) Resolve(idx *index.Index, path []string) Result {
	res := Result{Kind: Directory, Root: len(path) == 0, Active: []string{}}

	for i, c := range path {
		last := i == len(path)-1

		if res.Untagged {
			f, ok := idx.FileByName(c)
			if ok && last && len(idx.TagsOn(f.ID)) == 0 {
				return Result{Kind: FileEntry, Untagged: true, Active: []string{}, File: f}
			}
			return Result{Kind: NotFound}
		}

		if i == 0 && r.Reserved(c) {
			res.Untagged = c == r.opts.UntaggedDir
			continue
		}

		if tag, ok := r.rendered(c); ok && idx.HasTag(tag) {
			if !r.extend(idx, &res, tag) {
				return Result{Kind: NotFound}
			}
			continue
		}

		if f, ok := idx.FileByName(c); ok && idx.HasAll(f.ID, res.Active) {
			if !last {
				return Result{Kind: NotFound}
			}
			return Result{Kind: FileEntry, Active: res.Active, File: f}
		}

		if idx.HasTag(c) && r.extend(idx, &res, c) {
			continue
		}
		return Result{Kind: NotFound}
	}

	return res
}

// rendered returns the tag named by a listing entry. Without decoration every
// name is taken as a tag first.
func (r *Resolver) rendered(name string) (string, bool) {
	if !r.opts.Decoration.Enabled() {
		return name, true
	}
	return r.opts.Decoration.Unwrap(name)
}

// extend adds tag to the active filter. A tag already active never resolves,
// which keeps the tree finite. A tag is entered when some matched file
// carries it, or when it has no files at all yet.
func (r *Resolver) extend(idx *index.Index, res *Result, tag string) bool {
	for _, active := range res.Active {
		if active == tag {
			return false
		}
	}

	next := make([]string, len(res.Active), len(res.Active)+1)
	copy(next, res.Active)
	next = append(next, tag)

	if idx.TagSize(tag) > 0 && idx.CountWithAll(next...) == 0 {
		return false
	}
	res.Active = next
	return true
}

// Files returns the files matched by a directory result, sorted by name.
func (r *Resolver) Files(idx *index.Index, res Result) []index.File {
	if res.Kind != Directory {
		return nil
	}
	if res.Untagged {
		return idx.Untagged()
	}
	return idx.FilesWithAll(res.Active...)
}

// Facets returns the tags offered for refinement in a directory result,
// sorted by name. Without a filter every tag is offered; otherwise the tags
// present on matched files that are not yet active.
func (r *Resolver) Facets(idx *index.Index, res Result) []string {
	if res.Kind != Directory || res.Untagged {
		return nil
	}
	if len(res.Active) == 0 {
		return idx.Tags()
	}

	active := make(map[string]struct{}, len(res.Active))
	for _, tag := range res.Active {
		active[tag] = struct{}{}
	}

	seen := make(map[string]struct{})
	for _, f := range idx.FilesWithAll(res.Active...) {
		for _, tag := range idx.TagsOn(f.ID) {
			if _, skip := active[tag]; !skip {
				seen[tag] = struct{}{}
			}
		}
	}
	if r.opts.ShowEmptyTags {
		for _, tag := range idx.Tags() {
			if _, skip := active[tag]; !skip && idx.TagSize(tag) == 0 {
				seen[tag] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// List renders a directory result: root specials, matched files, then
// decorated facets. A file whose name equals a rendered directory entry is
// left out, since lookup would reach the directory.
func (r *Resolver) List(idx *index.Index, res Result) []Entry {
	if res.Kind != Directory {
		return nil
	}

	var entries []Entry
	dirs := make(map[string]struct{})

	if res.Root {
		for _, name := range []string{r.opts.RootAlias, r.opts.UntaggedDir} {
			if name != "" {
				entries = append(entries, Entry{Name: name, Kind: EntrySpecial})
				dirs[name] = struct{}{}
			}
		}
	}

	facets := r.Facets(idx, res)
	rendered := make([]Entry, 0, len(facets))
	for _, tag := range facets {
		name := r.opts.Decoration.Wrap(tag)
		rendered = append(rendered, Entry{Name: name, Kind: EntryFacet, Tag: tag})
		dirs[name] = struct{}{}
	}

	for _, f := range r.Files(idx, res) {
		if _, shadowed := dirs[f.Name]; shadowed {
			continue
		}
		entries = append(entries, Entry{Name: f.Name, Kind: EntryFile, File: f})
	}

	return append(entries, rendered...)
}
