package localindex

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/icloudpd-go/internal/naming"
)

func TestProbe_Missing(t *testing.T) {
	dir := t.TempDir()
	ix := New(nil)

	st, err := ix.Probe([]naming.Path{naming.Path(filepath.Join(dir, "IMG_0001.JPG"))}, 100)
	require.NoError(t, err)
	assert.Equal(t, Missing, st.Kind)
}

func TestProbe_Existing(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "IMG_0001.JPG")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	ix := New(nil)

	st, err := ix.Probe([]naming.Path{naming.Path(target)}, 5)
	require.NoError(t, err)
	assert.Equal(t, Existing, st.Kind)
	assert.EqualValues(t, 5, st.Size)
}

func TestProbe_PartialResumable(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "IMG_0001.JPG")
	require.NoError(t, os.WriteFile(target+".part", []byte("hel"), 0o644))

	ix := New(nil)

	st, err := ix.Probe([]naming.Path{naming.Path(target)}, 5)
	require.NoError(t, err)
	require.Equal(t, Partial, st.Kind)
	assert.EqualValues(t, 3, st.HaveBytes)
}

func TestProbe_PartialTooLargeDiscarded(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "IMG_0001.JPG")
	partialPath := target + ".part"
	require.NoError(t, os.WriteFile(partialPath, []byte("toolong"), 0o644))

	ix := New(nil)

	st, err := ix.Probe([]naming.Path{naming.Path(target)}, 3)
	require.NoError(t, err)
	assert.Equal(t, Missing, st.Kind)

	_, statErr := os.Stat(partialPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProbe_LegacyFallback(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "2025", "01", "02", "IMG_0001.JPG")
	legacy := filepath.Join(dir, "IMG_0001.JPG")
	require.NoError(t, os.WriteFile(legacy, []byte("hello"), 0o644))

	ix := New(nil)

	st, err := ix.Probe([]naming.Path{naming.Path(canonical), naming.Path(legacy)}, 5)
	require.NoError(t, err)
	assert.Equal(t, LegacyAt, st.Kind)
	assert.Equal(t, naming.Path(legacy), st.Path)
}

func TestPreparePartialAndPublish(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "sub", "IMG_0001.JPG"))

	ix := New(nil)

	h, err := ix.PreparePartial(target)
	require.NoError(t, err)

	_, err = h.File().Write([]byte("hello world"))
	require.NoError(t, err)

	published, err := ix.Publish(h)
	require.NoError(t, err)
	assert.Equal(t, target, published)

	data, err := os.ReadFile(string(target))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, statErr := os.Stat(string(target) + ".part")
	assert.True(t, os.IsNotExist(statErr))
}

func TestPublish_ResumedAppend(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "IMG_0001.JPG"))
	require.NoError(t, os.WriteFile(string(target)+".part", []byte("hel"), 0o644))

	ix := New(nil)

	h, err := ix.PreparePartial(target)
	require.NoError(t, err)

	_, err = h.File().Write([]byte("lo"))
	require.NoError(t, err)

	_, err = ix.Publish(h)
	require.NoError(t, err)

	data, err := os.ReadFile(string(target))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestDeleteLocal_RefusesOnSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "IMG_0001.JPG"))
	require.NoError(t, os.WriteFile(string(target), []byte("hello world"), 0o644))

	ix := New(nil)

	ok, err := ix.DeleteLocal(target, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	_, statErr := os.Stat(string(target))
	assert.NoError(t, statErr)
}

func TestDeleteLocal_RemovesOnMatch(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "IMG_0001.JPG"))
	require.NoError(t, os.WriteFile(string(target), []byte("hello"), 0o644))

	ix := New(nil)

	ok, err := ix.DeleteLocal(target, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	_, statErr := os.Stat(string(target))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteLocal_AlreadyAbsent(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "missing.jpg"))

	ix := New(nil)

	ok, err := ix.DeleteLocal(target, 5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetMtime(t *testing.T) {
	dir := t.TempDir()
	target := naming.Path(filepath.Join(dir, "IMG_0001.JPG"))
	require.NoError(t, os.WriteFile(string(target), []byte("hello"), 0o644))

	ix := New(nil)
	want := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	require.NoError(t, ix.SetMtime(target, want))

	info, err := os.Stat(string(target))
	require.NoError(t, err)
	assert.WithinDuration(t, want, info.ModTime(), time.Second)
}

func TestRemoveEmptyDirs(t *testing.T) {
	root := t.TempDir()
	leaf := filepath.Join(root, "2025", "01", "02")
	require.NoError(t, os.MkdirAll(leaf, 0o755))

	ix := New(nil)
	ix.RemoveEmptyDirs(filepath.Join(leaf, "IMG_0001.JPG"), root)

	_, err := os.Stat(filepath.Join(root, "2025"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(root)
	assert.NoError(t, err)
}

func TestRemoveEmptyDirs_StopsAtNonEmpty(t *testing.T) {
	root := t.TempDir()
	leafA := filepath.Join(root, "2025", "01", "02")
	leafB := filepath.Join(root, "2025", "01", "03")
	require.NoError(t, os.MkdirAll(leafA, 0o755))
	require.NoError(t, os.MkdirAll(leafB, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(leafB, "IMG_0002.JPG"), []byte("x"), 0o644))

	ix := New(nil)
	ix.RemoveEmptyDirs(filepath.Join(leafA, "IMG_0001.JPG"), root)

	_, err := os.Stat(filepath.Join(root, "2025", "01"))
	assert.NoError(t, err, "01 survives because 03 is still populated")
	_, err = os.Stat(leafA)
	assert.True(t, os.IsNotExist(err))
}
