package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggingHook_DoesNotPanic(t *testing.T) {
	h := NewLoggingHook(nil)

	assert.NotPanics(t, func() {
		h.OnAssetEvent(AssetEvent{Kind: EventDownloaded, AssetID: "a", Path: "/out/a.jpg", Bytes: 10})
	})
}

func TestMultiHook_FansOutToEveryHook(t *testing.T) {
	stats1 := &StatsHook{}
	stats2 := &StatsHook{}
	m := MultiHook{Hooks: []Hook{stats1, stats2}}

	m.OnAssetEvent(AssetEvent{Kind: EventDownloaded, AssetID: "a", Bytes: 100})

	assert.Equal(t, 1, stats1.Snapshot().Downloaded)
	assert.Equal(t, 1, stats2.Snapshot().Downloaded)
}

func TestStatsHook_TalliesByKind(t *testing.T) {
	s := &StatsHook{}

	s.OnAssetEvent(AssetEvent{Kind: EventDownloaded, Bytes: 1000})
	s.OnAssetEvent(AssetEvent{Kind: EventDownloaded, Bytes: 500})
	s.OnAssetEvent(AssetEvent{Kind: EventExisted})
	s.OnAssetEvent(AssetEvent{Kind: EventLocalDeleted})
	s.OnAssetEvent(AssetEvent{Kind: EventRemoteDeleted})
	s.OnAssetEvent(AssetEvent{Kind: EventSkipped})
	s.OnAssetEvent(AssetEvent{Kind: EventAllSizesComplete}) // not tallied

	got := s.Snapshot()
	assert.Equal(t, 2, got.Downloaded)
	assert.Equal(t, int64(1500), got.DownloadedBytes)
	assert.Equal(t, 1, got.Existed)
	assert.Equal(t, 1, got.LocalDeleted)
	assert.Equal(t, 1, got.RemoteDeleted)
	assert.Equal(t, 1, got.Skipped)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "existed", EventExisted.String())
	assert.Equal(t, "downloaded", EventDownloaded.String())
	assert.Equal(t, "would_download", EventWouldDownload.String())
	assert.Equal(t, "local_deleted", EventLocalDeleted.String())
	assert.Equal(t, "remote_deleted", EventRemoteDeleted.String())
	assert.Equal(t, "skipped", EventSkipped.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}
