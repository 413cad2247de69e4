package iterator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/icloudpd-go/internal/icloud"
)

type fakeLister struct {
	pages map[string][]icloud.AssetPage // albumID -> ordered pages, consumed by cursor index
}

func (f *fakeLister) ListAssets(_ context.Context, _, albumID, cursor string, _ int) (*icloud.AssetPage, error) {
	pages := f.pages[albumID]

	idx := 0
	if cursor != "" {
		idx = cursorIndex(cursor)
	}

	if idx >= len(pages) {
		return &icloud.AssetPage{}, nil
	}

	page := pages[idx]

	return &page, nil
}

func cursorIndex(cursor string) int {
	switch cursor {
	case "p1":
		return 1
	case "p2":
		return 2
	default:
		return 0
	}
}

func asset(id string, addedAt time.Time, kind icloud.Kind) icloud.Asset {
	return icloud.Asset{ID: id, AddedAt: addedAt, CreatedAt: addedAt, HasTZ: true, Kind: kind}
}

func TestNext_SingleSourceOrdering(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{pages: map[string][]icloud.AssetPage{
		"": {{
			Assets: []icloud.Asset{
				asset("a1", t0.Add(3*time.Hour), icloud.KindPhoto),
				asset("a2", t0.Add(2*time.Hour), icloud.KindPhoto),
				asset("a3", t0.Add(1*time.Hour), icloud.KindPhoto),
			},
		}},
	}}

	it := New(lister, Config{}, nil)

	var ids []string

	for {
		a, ok, err := it.Next(context.Background())
		require.NoError(t, err)

		if !ok {
			break
		}

		ids = append(ids, a.ID)
	}

	assert.Equal(t, []string{"a1", "a2", "a3"}, ids)
}

func TestNext_RecentNBounds(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{pages: map[string][]icloud.AssetPage{
		"": {{Assets: []icloud.Asset{
			asset("a1", t0.Add(3*time.Hour), icloud.KindPhoto),
			asset("a2", t0.Add(2*time.Hour), icloud.KindPhoto),
			asset("a3", t0.Add(1*time.Hour), icloud.KindPhoto),
		}}},
	}}

	it := New(lister, Config{RecentN: 2}, nil)

	var ids []string

	for {
		a, ok, err := it.Next(context.Background())
		require.NoError(t, err)

		if !ok {
			break
		}

		ids = append(ids, a.ID)
	}

	assert.Equal(t, []string{"a1", "a2"}, ids)
}

func TestNext_UntilFoundStopsAfterConsecutiveExisting(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{pages: map[string][]icloud.AssetPage{
		"": {{Assets: []icloud.Asset{
			asset("a1", t0.Add(5*time.Hour), icloud.KindPhoto), // new
			asset("a2", t0.Add(4*time.Hour), icloud.KindPhoto), // existing
			asset("a3", t0.Add(3*time.Hour), icloud.KindPhoto), // existing
			asset("a4", t0.Add(2*time.Hour), icloud.KindPhoto), // would stop before this
		}}},
	}}

	existing := map[string]bool{"a2": true, "a3": true}

	it := New(lister, Config{UntilFoundN: 2}, nil)

	var ids []string

	for {
		a, ok, err := it.Next(context.Background())
		require.NoError(t, err)

		if !ok {
			break
		}

		ids = append(ids, a.ID)
		it.ReportExisting(existing[a.ID])
	}

	assert.Equal(t, []string{"a1", "a2", "a3"}, ids)
}

func TestNext_UntilFoundResetsOnNonExisting(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{pages: map[string][]icloud.AssetPage{
		"": {{Assets: []icloud.Asset{
			asset("a1", t0.Add(5*time.Hour), icloud.KindPhoto), // existing
			asset("a2", t0.Add(4*time.Hour), icloud.KindPhoto), // new - resets counter
			asset("a3", t0.Add(3*time.Hour), icloud.KindPhoto), // existing
			asset("a4", t0.Add(2*time.Hour), icloud.KindPhoto), // existing - stop here
			asset("a5", t0.Add(1*time.Hour), icloud.KindPhoto),
		}}},
	}}

	existing := map[string]bool{"a1": true, "a3": true, "a4": true}

	it := New(lister, Config{UntilFoundN: 2}, nil)

	var ids []string

	for {
		a, ok, err := it.Next(context.Background())
		require.NoError(t, err)

		if !ok {
			break
		}

		ids = append(ids, a.ID)
		it.ReportExisting(existing[a.ID])
	}

	assert.Equal(t, []string{"a1", "a2", "a3", "a4"}, ids)
}

func TestNext_KindFilters(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{pages: map[string][]icloud.AssetPage{
		"": {{Assets: []icloud.Asset{
			asset("a1", t0.Add(3*time.Hour), icloud.KindPhoto),
			asset("a2", t0.Add(2*time.Hour), icloud.KindVideo),
			asset("a3", t0.Add(1*time.Hour), icloud.KindLive),
		}}},
	}}

	it := New(lister, Config{SkipVideos: true, SkipLivePhotos: true}, nil)

	a, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a1", a.ID)

	_, ok, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNext_DateFilterIsNotTerminator(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{pages: map[string][]icloud.AssetPage{
		"": {{Assets: []icloud.Asset{
			asset("new", t0.Add(3*time.Hour), icloud.KindPhoto),  // created recently
			asset("old", t0.Add(2*time.Hour), icloud.KindPhoto),  // created long ago, filtered out
			asset("new2", t0.Add(1*time.Hour), icloud.KindPhoto), // created recently
		}}},
	}}

	lister.pages[""][0].Assets[1].CreatedAt = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)

	it := New(lister, Config{SkipCreatedBefore: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}, nil)

	var ids []string

	for {
		a, ok, err := it.Next(context.Background())
		require.NoError(t, err)

		if !ok {
			break
		}

		ids = append(ids, a.ID)
	}

	assert.Equal(t, []string{"new", "new2"}, ids, "the excluded item in the middle is skipped without terminating")
}

func TestNext_AlbumUnionMerge(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &fakeLister{pages: map[string][]icloud.AssetPage{
		"album1": {{Assets: []icloud.Asset{
			asset("a1", t0.Add(4*time.Hour), icloud.KindPhoto),
			asset("a3", t0.Add(2*time.Hour), icloud.KindPhoto),
		}}},
		"album2": {{Assets: []icloud.Asset{
			asset("a2", t0.Add(3*time.Hour), icloud.KindPhoto),
			asset("a4", t0.Add(1*time.Hour), icloud.KindPhoto),
		}}},
	}}

	it := New(lister, Config{AlbumIDs: []string{"album1", "album2"}}, nil)

	var ids []string

	for {
		a, ok, err := it.Next(context.Background())
		require.NoError(t, err)

		if !ok {
			break
		}

		ids = append(ids, a.ID)
	}

	assert.Equal(t, []string{"a1", "a2", "a3", "a4"}, ids)
}

func TestNext_DedupAcrossAlbumUnion(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	shared := asset("shared", t0.Add(2*time.Hour), icloud.KindPhoto)

	lister := &fakeLister{pages: map[string][]icloud.AssetPage{
		"album1": {{Assets: []icloud.Asset{shared}}},
		"album2": {{Assets: []icloud.Asset{shared}}},
	}}

	it := New(lister, Config{AlbumIDs: []string{"album1", "album2"}}, nil)

	var ids []string

	for {
		a, ok, err := it.Next(context.Background())
		require.NoError(t, err)

		if !ok {
			break
		}

		ids = append(ids, a.ID)
	}

	assert.Equal(t, []string{"shared"}, ids)
}
