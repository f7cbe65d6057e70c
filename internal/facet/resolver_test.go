package facet

import (
	"testing"

	"tagfs/internal/index"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenario builds clip.mp4{movie,funny}, clip2.mp4{movie}, notes.txt{}.
func scenario(t *testing.T, opts ...index.Option) *index.Index {
	t.Helper()
	idx := index.New(opts...)
	clip := idx.AddFile("clip.mp4", 10, "")
	clip2 := idx.AddFile("clip2.mp4", 20, "")
	idx.AddFile("notes.txt", 5, "")
	require.NoError(t, idx.AddTag(clip, "movie"))
	require.NoError(t, idx.AddTag(clip, "funny"))
	require.NoError(t, idx.AddTag(clip2, "movie"))
	return idx
}

func entryNames(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func list(r *Resolver, idx *index.Index, path ...string) []string {
	return entryNames(r.List(idx, r.Resolve(idx, path)))
}

func TestResolve(t *testing.T) {
	idx := scenario(t)
	r := New(DefaultOptions())

	tests := []struct {
		name     string
		path     []string
		kind     Kind
		active   []string
		file     string
		untagged bool
	}{
		{"root", nil, Directory, []string{}, "", false},
		{"single tag", []string{"__movie__"}, Directory, []string{"movie"}, "", false},
		{"two tags", []string{"__movie__", "__funny__"}, Directory, []string{"movie", "funny"}, "", false},
		{"two tags reversed", []string{"__funny__", "__movie__"}, Directory, []string{"funny", "movie"}, "", false},
		{"bare tag name", []string{"movie"}, Directory, []string{"movie"}, "", false},
		{"repeated tag", []string{"__movie__", "__movie__"}, NotFound, nil, "", false},
		{"unknown tag", []string{"__drama__"}, NotFound, nil, "", false},
		{"file at root", []string{"notes.txt"}, FileEntry, []string{}, "notes.txt", false},
		{"file in filter", []string{"__movie__", "clip2.mp4"}, FileEntry, []string{"movie"}, "clip2.mp4", false},
		{"file outside filter", []string{"__movie__", "notes.txt"}, NotFound, nil, "", false},
		{"file below file", []string{"clip.mp4", "x"}, NotFound, nil, "", false},
		{"alias", []string{"_ALL"}, Directory, []string{}, "", false},
		{"alias with tag", []string{"_ALL", "__funny__"}, Directory, []string{"funny"}, "", false},
		{"alias below root", []string{"__movie__", "_ALL"}, NotFound, nil, "", false},
		{"untagged view", []string{"_UNTAGGED"}, Directory, []string{}, "", true},
		{"untagged file", []string{"_UNTAGGED", "notes.txt"}, FileEntry, []string{}, "notes.txt", true},
		{"tagged file in untagged view", []string{"_UNTAGGED", "clip.mp4"}, NotFound, nil, "", false},
		{"tag in untagged view", []string{"_UNTAGGED", "__movie__"}, NotFound, nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(idx, tt.path)
			assert.Equal(t, tt.kind, res.Kind, "kind of %v", tt.path)
			if tt.kind == NotFound {
				assert.False(t, res.Found())
				return
			}
			assert.Equal(t, tt.active, res.Active)
			assert.Equal(t, tt.file, res.File.Name)
			assert.Equal(t, tt.untagged, res.Untagged)
			assert.Equal(t, len(tt.path) == 0, res.Root)
		})
	}
}

func TestList(t *testing.T) {
	idx := scenario(t)
	r := New(DefaultOptions())

	assert.Equal(t,
		[]string{"_ALL", "_UNTAGGED", "clip.mp4", "clip2.mp4", "notes.txt", "__funny__", "__movie__"},
		list(r, idx))
	assert.Equal(t, []string{"clip.mp4", "clip2.mp4", "__funny__"}, list(r, idx, "__movie__"))
	assert.Equal(t, []string{"clip.mp4", "__movie__"}, list(r, idx, "__funny__"))
	assert.Equal(t, []string{"clip.mp4"}, list(r, idx, "__movie__", "__funny__"))
	assert.Equal(t, []string{"clip.mp4"}, list(r, idx, "__funny__", "__movie__"))
	assert.Equal(t, []string{"notes.txt"}, list(r, idx, "_UNTAGGED"))
	assert.Equal(t,
		[]string{"clip.mp4", "clip2.mp4", "notes.txt", "__funny__", "__movie__"},
		list(r, idx, "_ALL"))

	assert.Nil(t, r.List(idx, r.Resolve(idx, []string{"notes.txt"})))
	assert.Nil(t, r.List(idx, r.Resolve(idx, []string{"missing"})))

	entries := r.List(idx, r.Resolve(idx, []string{"__movie__"}))
	require.Len(t, entries, 3)
	assert.False(t, entries[0].IsDir())
	assert.True(t, entries[2].IsDir())
	assert.Equal(t, "funny", entries[2].Tag)
}

func TestListIsStable(t *testing.T) {
	idx := scenario(t)
	r := New(DefaultOptions())

	first := list(r, idx, "__movie__")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, list(r, idx, "__movie__"))
	}
}

// Every listed entry resolves to what the listing claims, and walking the
// tree terminates because no tag can be entered twice.
func TestListingsResolve(t *testing.T) {
	idx := scenario(t)
	r := New(DefaultOptions())

	var walk func(path []string, depth int)
	walk = func(path []string, depth int) {
		require.LessOrEqual(t, depth, len(idx.Tags())+1, "walk too deep at %v", path)

		dir := r.Resolve(idx, path)
		require.True(t, dir.IsDir(), "%v is not a directory", path)

		for _, e := range r.List(idx, dir) {
			child := append(append([]string{}, path...), e.Name)
			res := r.Resolve(idx, child)
			switch e.Kind {
			case EntryFile:
				require.Equal(t, FileEntry, res.Kind, "%v", child)
				assert.Equal(t, e.File.ID, res.File.ID)
			case EntryFacet:
				require.Equal(t, Directory, res.Kind, "%v", child)
				assert.NotEmpty(t, r.Files(idx, res), "facet %v leads to an empty directory", child)
				walk(child, depth+1)
			case EntrySpecial:
				require.Equal(t, Directory, res.Kind, "%v", child)
				walk(child, depth+1)
			}
		}
	}
	walk(nil, 0)
}

func TestFacetsAreNarrowing(t *testing.T) {
	idx := scenario(t)
	r := New(DefaultOptions())

	dir := r.Resolve(idx, []string{"__movie__"})
	for _, tag := range r.Facets(idx, dir) {
		assert.NotContains(t, dir.Active, tag)
		assert.Positive(t, idx.CountWithAll(append(dir.Active, tag)...))
	}
	assert.Nil(t, r.Facets(idx, r.Resolve(idx, []string{"_UNTAGGED"})))
}

func TestEmptyTags(t *testing.T) {
	idx := scenario(t, index.KeepEmptyTags())
	require.NoError(t, idx.CreateTag("empty"))

	r := New(DefaultOptions())
	assert.Contains(t, list(r, idx), "__empty__")
	assert.NotContains(t, list(r, idx, "__movie__"), "__empty__")

	res := r.Resolve(idx, []string{"__movie__", "__empty__"})
	require.True(t, res.IsDir(), "empty tags stay resolvable")
	assert.Equal(t, []string{"movie", "empty"}, res.Active)
	assert.Empty(t, r.Files(idx, res))

	opts := DefaultOptions()
	opts.ShowEmptyTags = true
	shown := New(opts)
	assert.Equal(t, []string{"clip.mp4", "clip2.mp4", "__empty__", "__funny__"}, list(shown, idx, "__movie__"))
}

func TestUndecoratedNames(t *testing.T) {
	idx := scenario(t)
	idx.AddFile("movie", 1, "")

	r := New(Options{RootAlias: "_ALL", UntaggedDir: "_UNTAGGED"})

	// The file named like a tag is shadowed by the tag directory.
	assert.Equal(t,
		[]string{"_ALL", "_UNTAGGED", "clip.mp4", "clip2.mp4", "notes.txt", "funny", "movie"},
		list(r, idx))
	assert.Equal(t, Directory, r.Resolve(idx, []string{"movie"}).Kind)
	assert.Equal(t, []string{"clip.mp4", "clip2.mp4", "funny"}, list(r, idx, "movie"))

	// Still visible where no tag takes its name.
	assert.Contains(t, list(r, idx, "_UNTAGGED"), "movie")
}

func TestDecoratedTagBeatsFile(t *testing.T) {
	idx := scenario(t)
	idx.AddFile("__movie__", 1, "")
	r := New(DefaultOptions())

	assert.Equal(t, Directory, r.Resolve(idx, []string{"__movie__"}).Kind)
	names := list(r, idx)
	count := 0
	for _, n := range names {
		if n == "__movie__" {
			count++
		}
	}
	assert.Equal(t, 1, count, "a shadowed file must not duplicate the facet")
}

func TestSpecialsDisabled(t *testing.T) {
	idx := scenario(t)
	r := New(Options{Decoration: Decoration{Prefix: "[", Suffix: "]"}})

	assert.Equal(t, []string{"clip.mp4", "clip2.mp4", "notes.txt", "[funny]", "[movie]"}, list(r, idx))
	assert.False(t, r.Reserved(""))
	assert.False(t, r.Reserved("_ALL"))
	assert.Equal(t, NotFound, r.Resolve(idx, []string{"_UNTAGGED"}).Kind)
}

func TestDecoration(t *testing.T) {
	d := Decoration{Prefix: "__", Suffix: "__"}
	assert.True(t, d.Enabled())
	assert.Equal(t, "__a__", d.Wrap("a"))

	tag, ok := d.Unwrap("__a__")
	assert.True(t, ok)
	assert.Equal(t, "a", tag)

	_, ok = d.Unwrap("____")
	assert.False(t, ok)
	_, ok = d.Unwrap("a__")
	assert.False(t, ok)
	_, ok = Decoration{}.Unwrap("a")
	assert.False(t, ok)

	r := New(DefaultOptions())
	assert.Equal(t, "movie", r.TagName("__movie__"))
	assert.Equal(t, "movie", r.TagName("movie"))
	assert.True(t, r.Reserved("_ALL"))
	assert.True(t, r.Reserved("_UNTAGGED"))
	assert.Equal(t, "directory", Directory.String())
	assert.Equal(t, "not-found", NotFound.String())
}

func TestFileNamedLikeItsTag(t *testing.T) {
	idx := index.New()
	a := idx.AddFile("a", 1, "")
	require.NoError(t, idx.AddTag(a, "a"))
	r := New(DefaultOptions())

	// Inside its own tag the name reaches the file, since the tag is
	// already active and cannot be entered twice.
	res := r.Resolve(idx, []string{"__a__", "a"})
	assert.Equal(t, FileEntry, res.Kind)
	assert.Equal(t, a, res.File.ID)
	assert.Equal(t, []string{"a"}, list(r, idx, "__a__"))

	// At the root the bare name is the file, so nothing can follow it.
	assert.Equal(t, FileEntry, r.Resolve(idx, []string{"a"}).Kind)
	assert.Equal(t, NotFound, r.Resolve(idx, []string{"a", "a"}).Kind)
}
