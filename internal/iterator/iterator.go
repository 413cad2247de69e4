// Package iterator produces the lazy, finite, added-date-descending
// asset sequence that drives one sync pass (spec.md §4.5). It owns
// album k-way merging, kind/date filtering, and the two early
// termination predicates (recent N, until-found N).
package iterator

import (
	"context"
	"fmt"
	"time"

	"github.com/tonimelisma/icloudpd-go/internal/icloud"
)

// Config selects and bounds the asset sequence.
type Config struct {
	LibraryID string
	AlbumIDs  []string // empty means the whole library, no album scoping
	PageSize  int

	RecentN     int // 0 = unbounded
	UntilFoundN int // 0 = disabled

	SkipCreatedBefore time.Time // zero = no lower bound
	SkipCreatedAfter  time.Time // zero = no upper bound

	SkipPhotos     bool
	SkipVideos     bool
	SkipLivePhotos bool
}

// Iterator is a pull-based, single-use asset sequence. Callers invoke
// Next repeatedly until ok is false, reporting the local existence
// result of each yielded asset via ReportExisting when until-found
// counting is in effect.
type Iterator struct {
	lister icloud.AssetLister
	cfg    Config
	logger logger

	sources []*albumSource
	seen    map[string]struct{}

	yielded             int
	consecutiveExisting int
	terminated          bool
}

type logger interface {
	Debug(msg string, args ...any)
}

// New creates an Iterator. When cfg.AlbumIDs is empty, a single
// unscoped source (the whole library) is used.
func New(lister icloud.AssetLister, cfg Config, log logger) *Iterator {
	albumIDs := cfg.AlbumIDs
	if len(albumIDs) == 0 {
		albumIDs = []string{""}
	}

	sources := make([]*albumSource, 0, len(albumIDs))
	for _, id := range albumIDs {
		sources = append(sources, &albumSource{albumID: id})
	}

	return &Iterator{
		lister:  lister,
		cfg:     cfg,
		logger:  log,
		sources: sources,
		seen:    make(map[string]struct{}),
	}
}

// Next returns the next asset in the sequence after applying kind and
// date filters, or ok=false when the sequence is exhausted or a
// termination predicate has fired.
func (it *Iterator) Next(ctx context.Context) (asset *icloud.Asset, ok bool, err error) {
	for {
		if it.terminated {
			return nil, false, nil
		}

		if it.cfg.RecentN > 0 && it.yielded >= it.cfg.RecentN {
			return nil, false, nil
		}

		candidate, found, err := it.popCandidate(ctx)
		if err != nil {
			return nil, false, err
		}

		if !found {
			return nil, false, nil
		}

		if _, dup := it.seen[candidate.ID]; dup {
			continue
		}

		it.seen[candidate.ID] = struct{}{}

		if !it.passesKindFilter(candidate) {
			continue
		}

		if !it.passesDateFilter(candidate) {
			continue
		}

		it.yielded++

		a := candidate

		return &a, true, nil
	}
}

// ReportExisting tells the iterator whether the asset most recently
// returned by Next was already present locally (per C1+C2), updating
// the until-found consecutive counter. The iterator, not the caller,
// owns this counter (spec.md §4.5).
func (it *Iterator) ReportExisting(existing bool) {
	if it.cfg.UntilFoundN <= 0 {
		return
	}

	if existing {
		it.consecutiveExisting++
		if it.consecutiveExisting >= it.cfg.UntilFoundN {
			it.terminated = true
		}

		return
	}

	it.consecutiveExisting = 0
}

func (it *Iterator) passesKindFilter(a *icloud.Asset) bool {
	switch a.Kind {
	case icloud.KindPhoto:
		return !it.cfg.SkipPhotos
	case icloud.KindVideo:
		return !it.cfg.SkipVideos
	case icloud.KindLive:
		return !it.cfg.SkipLivePhotos
	default:
		return true
	}
}

// passesDateFilter applies skip-created-before/after as pure filters,
// never as terminators, since the sequence is ordered by added-date
// and created-date may disagree with it (spec.md §4.5).
func (it *Iterator) passesDateFilter(a *icloud.Asset) bool {
	created := a.EffectiveCreatedAt()

	if !it.cfg.SkipCreatedBefore.IsZero() && created.Before(it.cfg.SkipCreatedBefore) {
		return false
	}

	if !it.cfg.SkipCreatedAfter.IsZero() && created.After(it.cfg.SkipCreatedAfter) {
		return false
	}

	return true
}

// popCandidate returns the next asset across all album sources in
// added-date-descending order, refilling any source whose buffer is
// empty.
func (it *Iterator) popCandidate(ctx context.Context) (*icloud.Asset, bool, error) {
	for _, src := range it.sources {
		if err := it.fill(ctx, src); err != nil {
			return nil, false, err
		}
	}

	best := -1

	for i, src := range it.sources {
		if len(src.buffer) == 0 {
			continue
		}

		if best == -1 || src.buffer[0].AddedAt.After(it.sources[best].buffer[0].AddedAt) {
			best = i
		}
	}

	if best == -1 {
		return nil, false, nil
	}

	a := it.sources[best].buffer[0]
	it.sources[best].buffer = it.sources[best].buffer[1:]

	return &a, true, nil
}

func (it *Iterator) fill(ctx context.Context, src *albumSource) error {
	if len(src.buffer) > 0 || src.exhausted {
		return nil
	}

	page, err := it.lister.ListAssets(ctx, it.cfg.LibraryID, src.albumID, src.cursor, it.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("iterator: listing assets (album %q): %w", src.albumID, err)
	}

	src.buffer = page.Assets
	src.cursor = page.NextCursor

	if page.NextCursor == "" {
		src.exhausted = true
	}

	if it.logger != nil {
		it.logger.Debug("fetched asset page", "album", src.albumID, "count", len(page.Assets))
	}

	return nil
}

type albumSource struct {
	albumID   string
	buffer    []icloud.Asset
	cursor    string
	exhausted bool
}
