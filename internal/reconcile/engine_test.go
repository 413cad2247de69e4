package reconcile

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/icloudpd-go/internal/downloader"
	"github.com/tonimelisma/icloudpd-go/internal/icloud"
	"github.com/tonimelisma/icloudpd-go/internal/localindex"
	"github.com/tonimelisma/icloudpd-go/internal/naming"
	"github.com/tonimelisma/icloudpd-go/internal/plugin"
	"github.com/tonimelisma/icloudpd-go/internal/selector"
)

type fakeTransport struct {
	payload []byte
}

func (f *fakeTransport) Stream(_ context.Context, _ string, offset int64, w io.Writer) (int64, error) {
	if offset >= int64(len(f.payload)) {
		return 0, nil
	}

	n, err := w.Write(f.payload[offset:])

	return int64(n), err
}

func (f *fakeTransport) MoveToRecentlyDeleted(context.Context, string, []string) error { return nil }

// sizedTransport streams exactly the requested rendition's declared
// length each call, regardless of which asset asked — enough to drive
// two independent same-name downloads through one Downloader.
type sizedTransport struct{}

func (sizedTransport) Stream(_ context.Context, signedURL string, offset int64, w io.Writer) (int64, error) {
	length := int64(len(signedURL)) // test helper encodes the wanted length as signedURL

	if offset >= length {
		return 0, nil
	}

	buf := bytes.Repeat([]byte{'x'}, int(length-offset))

	n, err := w.Write(buf)

	return int64(n), err
}

func (sizedTransport) MoveToRecentlyDeleted(context.Context, string, []string) error { return nil }

type recordingHook struct {
	events []plugin.AssetEvent
}

func (r *recordingHook) OnAssetEvent(e plugin.AssetEvent) { r.events = append(r.events, e) }

func newTestEngine(t *testing.T, dir string, cfg Config, payload []byte) (*Engine, *recordingHook) {
	t.Helper()

	idx := localindex.New(nil)
	transport := &fakeTransport{payload: payload}
	dl := downloader.New(transport, idx, nil, nil, nil)
	hook := &recordingHook{}

	namingCfg := &naming.Config{Directory: dir, FolderTemplate: naming.FolderNone, Duplicate: naming.DuplicateSizeSuffix}
	selCfg := selector.Config{Sizes: []icloud.SizeTag{icloud.SizeOriginal}}

	return New(selCfg, namingCfg, cfg, downloader.Options{}, idx, dl, hook, io.Discard, nil), hook
}

func simpleAsset(id string, createdAt time.Time, size int64) *icloud.Asset {
	return &icloud.Asset{
		ID:        id,
		Kind:      icloud.KindPhoto,
		CreatedAt: createdAt,
		HasTZ:     true,
		Renditions: map[icloud.SizeTag]icloud.Rendition{
			icloud.SizeOriginal: {Size: icloud.SizeOriginal, Filename: id + ".jpg", ByteLength: size},
		},
	}
}

func TestProcessAsset_MissingDownloads(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("hello world")
	e, hook := newTestEngine(t, dir, Config{Mode: ModeCopy}, payload)

	asset := simpleAsset("a1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), int64(len(payload)))

	existed, err := e.ProcessAsset(context.Background(), asset, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, existed)

	var kinds []plugin.EventKind
	for _, ev := range hook.events {
		kinds = append(kinds, ev.Kind)
	}

	assert.Contains(t, kinds, plugin.EventDownloaded)
	assert.Contains(t, kinds, plugin.EventAllSizesComplete)

	data, err := os.ReadFile(filepath.Join(dir, "a1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestProcessAsset_ExistingSkipsDownload(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("hello world")
	e, hook := newTestEngine(t, dir, Config{Mode: ModeCopy}, payload)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a1.jpg"), payload, 0o644))

	asset := simpleAsset("a1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), int64(len(payload)))

	existed, err := e.ProcessAsset(context.Background(), asset, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, existed)

	for _, ev := range hook.events {
		assert.NotEqual(t, plugin.EventDownloaded, ev.Kind)
	}
}

func TestProcessAsset_DryRunNoSideEffects(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("hello world")
	e, hook := newTestEngine(t, dir, Config{Mode: ModeCopy, DryRun: true}, payload)

	asset := simpleAsset("a1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), int64(len(payload)))

	existed, err := e.ProcessAsset(context.Background(), asset, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, existed)

	var sawWouldDownload bool

	for _, ev := range hook.events {
		if ev.Kind == plugin.EventWouldDownload {
			sawWouldDownload = true
		}

		assert.NotEqual(t, plugin.EventDownloaded, ev.Kind)
	}

	assert.True(t, sawWouldDownload)

	_, statErr := os.Stat(filepath.Join(dir, "a1.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessAsset_OnlyPrintFilenames(t *testing.T) {
	dir := t.TempDir()
	idx := localindex.New(nil)
	transport := &fakeTransport{payload: []byte("x")}
	dl := downloader.New(transport, idx, nil, nil, nil)

	var buf bytes.Buffer

	namingCfg := &naming.Config{Directory: dir, FolderTemplate: naming.FolderNone}
	selCfg := selector.Config{Sizes: []icloud.SizeTag{icloud.SizeOriginal}}

	e := New(selCfg, namingCfg, Config{Mode: ModeCopy, OnlyPrintFilenames: true}, downloader.Options{}, idx, dl, nil, &buf, nil)

	asset := simpleAsset("a1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 1)

	_, err := e.ProcessAsset(context.Background(), asset, time.Now())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "a1.jpg")

	_, statErr := os.Stat(filepath.Join(dir, "a1.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessAsset_ModeMoveEnqueuesOldAsset(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("x")
	keepDays := 30
	e, _ := newTestEngine(t, dir, Config{Mode: ModeMove, KeepRecentDays: &keepDays}, payload)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	old := simpleAsset("old", now.AddDate(0, 0, -60), int64(len(payload)))
	recent := simpleAsset("recent", now.AddDate(0, 0, -5), int64(len(payload)))

	_, err := e.ProcessAsset(context.Background(), old, now)
	require.NoError(t, err)

	_, err = e.ProcessAsset(context.Background(), recent, now)
	require.NoError(t, err)

	intents := e.RemoteIntents()
	require.Len(t, intents, 1)
	assert.Equal(t, "old", intents[0].AssetID)
}

func TestProcessAsset_DeleteAfterDownloadLegacyRestrictedToDownloaded(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("x")
	e, _ := newTestEngine(t, dir, Config{Mode: ModeMove, DeleteAfterDownloadLegacy: true}, payload)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// Pre-existing file: this pass will find it Existing, not download it.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "already.jpg"), payload, 0o644))
	already := simpleAsset("already", now, int64(len(payload)))
	fresh := simpleAsset("fresh", now, int64(len(payload)))

	_, err := e.ProcessAsset(context.Background(), already, now)
	require.NoError(t, err)

	_, err = e.ProcessAsset(context.Background(), fresh, now)
	require.NoError(t, err)

	intents := e.RemoteIntents()
	require.Len(t, intents, 1)
	assert.Equal(t, "fresh", intents[0].AssetID)
}

func TestProcessAsset_ModeCopyNeverEnqueues(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("x")
	e, _ := newTestEngine(t, dir, Config{Mode: ModeCopy}, payload)

	asset := simpleAsset("a1", time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), int64(len(payload)))

	_, err := e.ProcessAsset(context.Background(), asset, time.Now())
	require.NoError(t, err)

	assert.Empty(t, e.RemoteIntents())
}

// TestProcessAsset_DuplicateNameCollisionSuffixesSecondAsset covers the
// default name-size-dedup-with-suffix policy: two distinct assets both
// named IMG_0001.JPG must not collapse into "only the first one wins" —
// the second is downloaded at a byte-length-suffixed path rather than
// being skipped as already-Existing.
func TestProcessAsset_DuplicateNameCollisionSuffixesSecondAsset(t *testing.T) {
	dir := t.TempDir()

	idx := localindex.New(nil)
	dl := downloader.New(sizedTransport{}, idx, nil, nil, nil)
	hook := &recordingHook{}

	namingCfg := &naming.Config{Directory: dir, FolderTemplate: naming.FolderNone, Duplicate: naming.DuplicateSizeSuffix}
	selCfg := selector.Config{Sizes: []icloud.SizeTag{icloud.SizeOriginal}}

	e := New(selCfg, namingCfg, Config{Mode: ModeCopy}, downloader.Options{}, idx, dl, hook, io.Discard, nil)

	mkAsset := func(id string, size int64) *icloud.Asset {
		return &icloud.Asset{
			ID:        id,
			Kind:      icloud.KindPhoto,
			CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			HasTZ:     true,
			Renditions: map[icloud.SizeTag]icloud.Rendition{
				icloud.SizeOriginal: {
					Size: icloud.SizeOriginal, Filename: "IMG_0001.JPG", ByteLength: size,
					SignedURL: string(bytes.Repeat([]byte{'x'}, int(size))),
				},
			},
		}
	}

	assetA := mkAsset("asset-a", 12345)
	assetB := mkAsset("asset-b", 67890)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	existedA, err := e.ProcessAsset(context.Background(), assetA, now)
	require.NoError(t, err)
	assert.False(t, existedA)

	existedB, err := e.ProcessAsset(context.Background(), assetB, now)
	require.NoError(t, err)
	assert.False(t, existedB, "second asset must be downloaded, not skipped as Existing")

	infoA, err := os.Stat(filepath.Join(dir, "IMG_0001.JPG"))
	require.NoError(t, err)
	assert.Equal(t, int64(12345), infoA.Size())

	infoB, err := os.Stat(filepath.Join(dir, "IMG_0001-67890.JPG"))
	require.NoError(t, err)
	assert.Equal(t, int64(67890), infoB.Size())

	var downloadedCount int

	for _, ev := range hook.events {
		if ev.Kind == plugin.EventDownloaded {
			downloadedCount++
		}
	}

	assert.Equal(t, 2, downloadedCount)
}

func TestProcessAsset_PartialResumes(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("hello world")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a1.jpg")+".part", payload[:6], 0o644))

	e, hook := newTestEngine(t, dir, Config{Mode: ModeCopy}, payload)

	asset := simpleAsset("a1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), int64(len(payload)))

	existed, err := e.ProcessAsset(context.Background(), asset, time.Now())
	require.NoError(t, err)
	assert.False(t, existed)

	var sawDownloaded bool

	for _, ev := range hook.events {
		if ev.Kind == plugin.EventDownloaded {
			sawDownloaded = true
		}
	}

	assert.True(t, sawDownloaded)

	data, err := os.ReadFile(filepath.Join(dir, "a1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}
