// Package plugin defines the hook surface downstream catalog
// integrations use to observe a sync pass without coupling the core
// engine to any specific catalog implementation.
package plugin

import (
	"log/slog"
	"sync"

	"github.com/tonimelisma/icloudpd-go/internal/naming"
)

// EventKind identifies what happened to one asset/rendition pair
// during reconciliation (spec.md §4.6).
type EventKind int

// Event kinds emitted by the reconciliation engine.
const (
	EventExisted EventKind = iota
	EventDownloaded
	EventWouldDownload
	EventLocalDeleted
	EventRemoteDeleted
	EventSkipped
	EventAllSizesComplete
)

func (k EventKind) String() string {
	switch k {
	case EventExisted:
		return "existed"
	case EventDownloaded:
		return "downloaded"
	case EventWouldDownload:
		return "would_download"
	case EventLocalDeleted:
		return "local_deleted"
	case EventRemoteDeleted:
		return "remote_deleted"
	case EventSkipped:
		return "skipped"
	case EventAllSizesComplete:
		return "all_sizes_complete"
	default:
		return "unknown"
	}
}

// AssetEvent is one notification emitted during reconciliation.
type AssetEvent struct {
	Kind    EventKind
	AssetID string
	Path    naming.Path
	Bytes   int64
}

// Hook observes asset events as a sync pass progresses. Implementations
// must return quickly; long-running work should be handed off
// asynchronously by the implementation itself.
type Hook interface {
	OnAssetEvent(AssetEvent)
}

// LoggingHook is the default Hook: it logs every event at debug level
// and does nothing else.
type LoggingHook struct {
	Logger *slog.Logger
}

// NewLoggingHook creates a LoggingHook. A nil logger falls back to
// slog.Default().
func NewLoggingHook(logger *slog.Logger) *LoggingHook {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingHook{Logger: logger}
}

// OnAssetEvent implements Hook.
func (h *LoggingHook) OnAssetEvent(e AssetEvent) {
	h.Logger.Debug("asset event",
		slog.String("kind", e.Kind.String()),
		slog.String("asset_id", e.AssetID),
		slog.String("path", string(e.Path)),
		slog.Int64("bytes", e.Bytes),
	)
}

// MultiHook fans one AssetEvent out to every hook in Hooks, in order.
// It lets a Loop drive both the default LoggingHook and a downstream
// catalog integration (or a local summary collector) from the same
// reconciliation pass without either observer knowing about the other.
type MultiHook struct {
	Hooks []Hook
}

// OnAssetEvent implements Hook.
func (m MultiHook) OnAssetEvent(e AssetEvent) {
	for _, h := range m.Hooks {
		h.OnAssetEvent(e)
	}
}

// StatsHook tallies downloads across a pass so a caller can report a
// human-readable summary (bytes transferred, counts by kind) once the
// pass completes. Safe for concurrent use since RunConcurrent drives
// multiple accounts' Loops, each with its own StatsHook, from separate
// goroutines that never share one instance — the mutex only guards
// against a single account's own sequential-by-spec event stream being
// read mid-pass by a status reporter.
type StatsHook struct {
	mu sync.Mutex

	Downloaded      int
	DownloadedBytes int64
	Existed         int
	LocalDeleted    int
	RemoteDeleted   int
	Skipped         int
}

// OnAssetEvent implements Hook.
func (s *StatsHook) OnAssetEvent(e AssetEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case EventDownloaded:
		s.Downloaded++
		s.DownloadedBytes += e.Bytes
	case EventExisted:
		s.Existed++
	case EventLocalDeleted:
		s.LocalDeleted++
	case EventRemoteDeleted:
		s.RemoteDeleted++
	case EventSkipped:
		s.Skipped++
	}
}

// Snapshot returns a copy of the current totals.
func (s *StatsHook) Snapshot() StatsHook {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StatsHook{
		Downloaded:      s.Downloaded,
		DownloadedBytes: s.DownloadedBytes,
		Existed:         s.Existed,
		LocalDeleted:    s.LocalDeleted,
		RemoteDeleted:   s.RemoteDeleted,
		Skipped:         s.Skipped,
	}
}
