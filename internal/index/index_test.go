package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(files []File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

// sample builds clip.mp4{movie,funny}, clip2.mp4{movie}, notes.txt{}.
func sample(t *testing.T, opts ...Option) (*Index, FileID, FileID, FileID) {
	t.Helper()
	idx := New(opts...)
	clip := idx.AddFile("clip.mp4", 10, "fp-clip")
	clip2 := idx.AddFile("clip2.mp4", 20, "fp-clip2")
	notes := idx.AddFile("notes.txt", 5, "fp-notes")
	require.NoError(t, idx.AddTag(clip, "movie"))
	require.NoError(t, idx.AddTag(clip, "funny"))
	require.NoError(t, idx.AddTag(clip2, "movie"))
	return idx, clip, clip2, notes
}

func TestAddFileKeepsID(t *testing.T) {
	idx := New()
	id := idx.AddFile("a.txt", 1, "x")
	gen := idx.Generation()

	assert.Equal(t, id, idx.AddFile("a.txt", 1, "x"))
	assert.Equal(t, gen, idx.Generation(), "unchanged file should not bump generation")

	assert.Equal(t, id, idx.AddFile("a.txt", 2, "y"))
	assert.Greater(t, idx.Generation(), gen)
	f, ok := idx.File(id)
	require.True(t, ok)
	assert.Equal(t, int64(2), f.Size)
	assert.Equal(t, "y", f.Fingerprint)

	other := idx.AddFile("b.txt", 1, "z")
	assert.NotEqual(t, id, other)
}

func TestTagIdempotence(t *testing.T) {
	idx, clip, _, _ := sample(t)
	gen := idx.Generation()

	require.NoError(t, idx.AddTag(clip, "movie"))
	assert.Equal(t, gen, idx.Generation())
	assert.Equal(t, []string{"funny", "movie"}, idx.TagsOn(clip))

	idx.RemoveTag(clip, "absent")
	assert.Equal(t, gen, idx.Generation())
}

func TestAddTagErrors(t *testing.T) {
	idx := New()
	assert.ErrorIs(t, idx.AddTag(99, "movie"), ErrNotFound)

	id := idx.AddFile("a.txt", 1, "")
	assert.ErrorIs(t, idx.AddTag(id, ""), ErrInvalidOperation)
}

func TestFilesWithAll(t *testing.T) {
	idx, clip, clip2, notes := sample(t)

	assert.Equal(t, []string{"clip.mp4", "clip2.mp4", "notes.txt"}, names(idx.FilesWithAll()))
	assert.Equal(t, []string{"clip.mp4", "clip2.mp4"}, names(idx.FilesWithAll("movie")))
	assert.Equal(t, []string{"clip.mp4"}, names(idx.FilesWithAll("movie", "funny")))
	assert.Equal(t, []string{"clip.mp4"}, names(idx.FilesWithAll("funny", "movie")))
	assert.Empty(t, idx.FilesWithAll("movie", "missing"))
	assert.Equal(t, 1, idx.CountWithAll("funny", "movie"))
	assert.Equal(t, 3, idx.CountWithAll())
	assert.Equal(t, 0, idx.CountWithAll("missing"))

	// Every file returned carries every tag, and every file carrying
	// every tag is returned.
	for _, tags := range [][]string{{"movie"}, {"funny"}, {"movie", "funny"}} {
		got := map[FileID]bool{}
		for _, f := range idx.FilesWithAll(tags...) {
			got[f.ID] = true
			assert.True(t, idx.HasAll(f.ID, tags))
		}
		for _, id := range []FileID{clip, clip2, notes} {
			assert.Equal(t, idx.HasAll(id, tags), got[id], "file %d tags %v", id, tags)
		}
	}

	assert.Equal(t, []string{"notes.txt"}, names(idx.Untagged()))
}

func TestRemoveTagPrunes(t *testing.T) {
	idx, clip, _, _ := sample(t)

	idx.RemoveTag(clip, "funny")
	assert.False(t, idx.HasTag("funny"))
	assert.Equal(t, []string{"movie"}, idx.Tags())

	kept, clip, _, _ := sample(t, KeepEmptyTags())
	kept.RemoveTag(clip, "funny")
	assert.True(t, kept.HasTag("funny"))
	assert.Equal(t, 0, kept.TagSize("funny"))
}

func TestCreateAndDeleteTag(t *testing.T) {
	idx, clip, _, _ := sample(t)

	require.NoError(t, idx.CreateTag("empty"))
	assert.True(t, idx.HasTag("empty"))
	assert.ErrorIs(t, idx.CreateTag("empty"), ErrNameConflict)
	assert.ErrorIs(t, idx.CreateTag(""), ErrInvalidOperation)

	require.NoError(t, idx.DeleteTag("movie"))
	assert.False(t, idx.HasTag("movie"))
	assert.Equal(t, []string{"funny"}, idx.TagsOn(clip))
	assert.ErrorIs(t, idx.DeleteTag("movie"), ErrNotFound)
}

func TestRenameTag(t *testing.T) {
	idx, clip, clip2, _ := sample(t)

	require.NoError(t, idx.RenameTag("movie", "film", false))
	assert.False(t, idx.HasTag("movie"))
	assert.Equal(t, []string{"funny", "film"}, idx.TagsOn(clip))
	assert.Equal(t, []string{"film"}, idx.TagsOn(clip2))

	assert.ErrorIs(t, idx.RenameTag("film", "funny", false), ErrNameConflict)
	assert.True(t, idx.HasTag("film"), "refused merge must leave tags untouched")

	require.NoError(t, idx.RenameTag("film", "funny", true))
	assert.Equal(t, []string{"funny"}, idx.Tags())
	assert.Equal(t, 2, idx.TagSize("funny"))
	assert.Equal(t, []string{"funny"}, idx.TagsOn(clip))

	assert.ErrorIs(t, idx.RenameTag("missing", "x", true), ErrNotFound)
	assert.ErrorIs(t, idx.RenameTag("funny", "", true), ErrInvalidOperation)
	assert.NoError(t, idx.RenameTag("funny", "funny", false))
}

func TestRenameAndRemoveFile(t *testing.T) {
	idx, clip, clip2, _ := sample(t)

	require.NoError(t, idx.RenameFile(clip, "renamed.mp4"))
	f, ok := idx.FileByName("renamed.mp4")
	require.True(t, ok)
	assert.Equal(t, clip, f.ID)
	_, ok = idx.FileByName("clip.mp4")
	assert.False(t, ok)
	assert.Equal(t, []string{"funny", "movie"}, idx.TagsOn(clip))

	assert.ErrorIs(t, idx.RenameFile(clip, "clip2.mp4"), ErrNameConflict)
	assert.ErrorIs(t, idx.RenameFile(99, "x"), ErrNotFound)

	idx.RemoveFile(clip)
	assert.Equal(t, 2, idx.FileCount())
	assert.False(t, idx.HasTag("funny"))
	assert.Equal(t, []string{"clip2.mp4"}, names(idx.FilesWithAll("movie")))
	assert.Equal(t, []string{"movie"}, idx.TagsOn(clip2))
}

func TestSnapshotRestore(t *testing.T) {
	idx, clip, _, _ := sample(t, KeepEmptyTags())
	require.NoError(t, idx.CreateTag("empty"))

	snap := idx.Snapshot()
	assert.Equal(t, idx.Generation(), snap.Generation)
	assert.Equal(t, uint64(4), snap.NextID)

	restored := Restore(snap, KeepEmptyTags())
	assert.Equal(t, idx.Snapshot(), restored.Snapshot())
	assert.Equal(t, []string{"funny", "movie"}, restored.TagsOn(clip))
	assert.True(t, restored.HasTag("empty"))

	// New IDs continue after the restored ones.
	id := restored.AddFile("new.txt", 1, "")
	assert.Equal(t, FileID(4), id)
}

func TestRestoreDropsDanglingEntries(t *testing.T) {
	idx, _, _, _ := sample(t)
	snap := idx.Snapshot()
	snap.NextID = 0
	snap.Tags[0].Files = append(snap.Tags[0].Files, 42)
	snap.Files = append(snap.Files, snap.Files[0])

	restored := Restore(snap)
	assert.Equal(t, 3, restored.FileCount())
	assert.Equal(t, idx.TagSize(snap.Tags[0].Name), restored.TagSize(snap.Tags[0].Name))
	assert.Equal(t, FileID(4), restored.AddFile("new.txt", 1, ""))

	assert.Equal(t, 0, Restore(nil).FileCount())
}

func TestStoreUpdate(t *testing.T) {
	idx, clip, _, _ := sample(t)
	store := NewStore(idx)

	snap, err := store.Update(func(idx *Index) error {
		return idx.AddTag(clip, "movie")
	})
	require.NoError(t, err)
	assert.Nil(t, snap, "no-op update returns no snapshot")

	snap, err = store.Update(func(idx *Index) error {
		return idx.AddTag(clip, "new")
	})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, store.Snapshot(), snap)

	_, err = store.Update(func(idx *Index) error {
		return idx.AddTag(99, "x")
	})
	assert.ErrorIs(t, err, ErrNotFound)

	var tags []string
	require.NoError(t, store.View(func(idx *Index) error {
		tags = idx.Tags()
		return nil
	}))
	assert.Equal(t, []string{"funny", "movie", "new"}, tags)
}

func TestErrorFormat(t *testing.T) {
	err := NewError(OpMkdir, "/movie", ErrNameConflict)
	assert.Equal(t, "operation mkdir on /movie failed: name conflict", err.Error())
	assert.Equal(t, "operation save failed: persistence failure", NewError(OpSave, "", ErrPersistence).Error())
}
