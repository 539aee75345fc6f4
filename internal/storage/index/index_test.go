package index_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/memdb/internal/model"
	"github.com/devrev/memdb/internal/storage/index"
)

func TestIndex_PutAndGet(t *testing.T) {
	ix := index.New()
	now := time.Now()

	entry := ix.Put("users", "a", model.Document{"n": "A"}, true, now)
	require.NotNil(t, entry)
	assert.True(t, entry.Dirty)
	assert.Equal(t, int64(1), entry.Version)

	got := ix.GetEntry("users", "a", now.Add(time.Second))
	require.NotNil(t, got)
	assert.Equal(t, model.Document{"n": "A"}, got.Document)
	assert.Equal(t, now.Add(time.Second), got.LastAccess)

	assert.Nil(t, ix.GetEntry("users", "missing", now))
	assert.Nil(t, ix.GetEntry("other", "a", now))
}

func TestIndex_PutBumpsVersionAndKeepsDirty(t *testing.T) {
	ix := index.New()
	now := time.Now()

	ix.Put("users", "a", model.Document{"n": "A"}, true, now)
	entry := ix.Put("users", "a", model.Document{"n": "B"}, false, now)

	// A clean put over a dirty entry must not hide the pending write.
	assert.True(t, entry.Dirty)
	assert.Equal(t, int64(2), entry.Version)
	assert.Equal(t, model.Document{"n": "B"}, entry.Document)
	assert.Equal(t, 1, ix.DirtyLen())
}

func TestIndex_PutCopiesDocument(t *testing.T) {
	ix := index.New()
	doc := model.Document{"n": "A"}

	ix.Put("users", "a", doc, true, time.Now())
	doc["n"] = "mutated"

	entry := ix.GetEntry("users", "a", time.Now())
	assert.Equal(t, "A", entry.Document["n"])
}

func TestIndex_ClearDirtyIfUnchanged(t *testing.T) {
	ix := index.New()
	now := time.Now()

	entry := ix.Put("users", "a", model.Document{"n": "A"}, true, now)
	observed := entry.Version

	assert.True(t, ix.ClearDirtyIfUnchanged("users", "a", observed, now))
	assert.False(t, entry.Dirty)
	assert.Equal(t, 0, ix.DirtyLen())
}

func TestIndex_ClearDirtySkipsAdvancedVersion(t *testing.T) {
	ix := index.New()
	now := time.Now()

	entry := ix.Put("users", "a", model.Document{"n": "A"}, true, now)
	observed := entry.Version

	// A write lands between snapshot and acknowledgement.
	ix.Put("users", "a", model.Document{"n": "B"}, true, now)

	assert.False(t, ix.ClearDirtyIfUnchanged("users", "a", observed, now))
	assert.True(t, entry.Dirty)
	assert.Equal(t, 1, ix.DirtyLen())
}

func TestIndex_ClearDirtyMissingEntry(t *testing.T) {
	ix := index.New()
	assert.False(t, ix.ClearDirtyIfUnchanged("users", "a", 1, time.Now()))
}

func TestIndex_SnapshotDirty(t *testing.T) {
	ix := index.New()
	now := time.Now()

	ix.Put("users", "a", model.Document{"n": "A"}, true, now)
	ix.Put("users", "b", model.Document{"n": "B"}, false, now)
	ix.Put("calls", "c", model.Document{"n": "C"}, true, now)

	all := ix.SnapshotDirty("")
	assert.Len(t, all, 2)

	users := ix.SnapshotDirty("users")
	require.Len(t, users, 1)
	assert.Equal(t, "a", users[0].Key)
	assert.Equal(t, "users", users[0].Table)
	assert.Equal(t, int64(1), users[0].Version)
}

func TestIndex_SnapshotIsValueNotReference(t *testing.T) {
	ix := index.New()
	now := time.Now()

	ix.Put("users", "a", model.Document{"n": "A"}, true, now)
	snap := ix.SnapshotDirty("users")
	require.Len(t, snap, 1)

	// A write after the snapshot replaces the document; the snapshot keeps
	// the value it captured.
	ix.Put("users", "a", model.Document{"n": "B"}, true, now)
	assert.Equal(t, "A", snap[0].Document["n"])
}

func TestIndex_Drop(t *testing.T) {
	ix := index.New()
	now := time.Now()

	ix.Put("users", "a", model.Document{"n": "A"}, true, now)
	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, 1, ix.DirtyLen())

	assert.True(t, ix.Drop("users", "a"))
	assert.Equal(t, 0, ix.Len())
	assert.Equal(t, 0, ix.DirtyLen())

	assert.False(t, ix.Drop("users", "a"))
}

func TestIndex_RangeAndLen(t *testing.T) {
	ix := index.New()
	now := time.Now()

	ix.Put("users", "a", model.Document{}, false, now)
	ix.Put("users", "b", model.Document{}, true, now)
	ix.Put("calls", "c", model.Document{}, true, now)

	assert.Equal(t, 3, ix.Len())
	assert.Equal(t, 2, ix.DirtyLen())

	seen := 0
	ix.Range(func(table, key string, entry *model.CacheEntry) bool {
		seen++
		return true
	})
	assert.Equal(t, 3, seen)

	// Dropping while ranging is allowed.
	ix.Range(func(table, key string, entry *model.CacheEntry) bool {
		if !entry.Dirty {
			ix.Drop(table, key)
		}
		return true
	})
	assert.Equal(t, 2, ix.Len())
}
