// Package localindex probes the filesystem for existing renditions and
// manages partial files and atomic publication (spec.md §4.2). It is
// the only component permitted to mutate the output directory.
package localindex

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/icloudpd-go/internal/icloud"
	"github.com/tonimelisma/icloudpd-go/internal/naming"
)

// StateKind tags the variant of LocalState.
type StateKind int

// LocalState variants (spec.md §4.2).
const (
	Missing StateKind = iota
	Existing
	Partial
	LegacyAt
)

// LocalState is the tagged union probe() returns for one admissible
// path set.
type LocalState struct {
	Kind      StateKind
	Path      naming.Path
	Size      int64 // Existing/Partial: bytes currently on disk
	HaveBytes int64 // Partial only: bytes already written
}

// partialSuffix is appended to the target path while a download is in
// flight (spec.md §3 invariant: "a partial file carries the exact
// target name suffixed with .part").
const partialSuffix = ".part"

// Index probes and mutates the local sync tree.
type Index struct {
	logger *slog.Logger
}

// New creates an Index.
func New(logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}

	return &Index{logger: logger}
}

// Probe checks every admissible path for a rendition, in order, and
// reports the first one found. A canonical-path partial file takes
// priority over a legacy hit at a different path, since resuming a
// canonical partial is strictly better than re-downloading under the
// new policy.
func (ix *Index) Probe(admissible []naming.Path, expectedSize int64) (LocalState, error) {
	if len(admissible) == 0 {
		return LocalState{Kind: Missing}, nil
	}

	canonical := admissible[0]

	if st, err := ix.probeOne(canonical, expectedSize); err != nil {
		return LocalState{}, err
	} else if st.Kind != Missing {
		return st, nil
	}

	for _, p := range admissible[1:] {
		if st, err := ix.probeOne(p, expectedSize); err != nil {
			return LocalState{}, err
		} else if st.Kind == Existing {
			return LocalState{Kind: LegacyAt, Path: p, Size: st.Size}, nil
		}
	}

	return LocalState{Kind: Missing}, nil
}

// probeOne checks a single path (and its .part sibling) without
// consulting the legacy list.
func (ix *Index) probeOne(p naming.Path, expectedSize int64) (LocalState, error) {
	if info, err := os.Stat(string(p)); err == nil {
		return LocalState{Kind: Existing, Path: p, Size: info.Size()}, nil
	} else if !os.IsNotExist(err) {
		return LocalState{}, &icloud.FilesystemError{Path: string(p), Kind: "stat", Err: err}
	}

	partialPath := string(p) + partialSuffix

	info, err := os.Stat(partialPath)
	if err != nil {
		if os.IsNotExist(err) {
			return LocalState{Kind: Missing}, nil
		}

		return LocalState{}, &icloud.FilesystemError{Path: partialPath, Kind: "stat", Err: err}
	}

	have := info.Size()

	switch {
	case have == expectedSize:
		// Fully-written partial left over from an interrupted publish —
		// the downloader promotes it by publishing now rather than
		// re-downloading.
		return LocalState{Kind: Partial, Path: p, HaveBytes: have, Size: have}, nil
	case have > expectedSize:
		// Stale/corrupt partial exceeds the expected length — discard
		// and restart (spec.md §4.2).
		if rmErr := os.Remove(partialPath); rmErr != nil {
			return LocalState{}, &icloud.FilesystemError{Path: partialPath, Kind: "remove", Err: rmErr}
		}

		return LocalState{Kind: Missing}, nil
	default:
		return LocalState{Kind: Partial, Path: p, HaveBytes: have, Size: have}, nil
	}
}

// PartialHandle is an open, append-ready handle to a target's .part file.
type PartialHandle struct {
	Target naming.Path
	file   *os.File
}

// File returns the underlying *os.File for streaming writes.
func (h *PartialHandle) File() *os.File { return h.file }

// PreparePartial opens (creating parent directories as needed) the
// .part file for target, positioned for append so a resumed download
// continues exactly where it left off.
func (ix *Index) PreparePartial(target naming.Path) (*PartialHandle, error) {
	dir := filepath.Dir(string(target))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &icloud.FilesystemError{Path: dir, Kind: "mkdir", Err: err}
	}

	partialPath := string(target) + partialSuffix

	f, err := os.OpenFile(partialPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &icloud.FilesystemError{Path: partialPath, Kind: "open", Err: err}
	}

	return &PartialHandle{Target: target, file: f}, nil
}

// Publish atomically renames a fully-written partial to its target
// path. The rename is same-filesystem (target and .part share a
// directory) so it is atomic on POSIX filesystems. On error the
// partial is left in place for a future resume attempt.
func (ix *Index) Publish(h *PartialHandle) (naming.Path, error) {
	if err := h.file.Sync(); err != nil {
		return "", &icloud.FilesystemError{Path: string(h.Target), Kind: "sync", Err: err}
	}

	if err := h.file.Close(); err != nil {
		return "", &icloud.FilesystemError{Path: string(h.Target), Kind: "close", Err: err}
	}

	partialPath := string(h.Target) + partialSuffix

	if err := os.Rename(partialPath, string(h.Target)); err != nil {
		return "", &icloud.FilesystemError{Path: string(h.Target), Kind: "rename", Err: err}
	}

	ix.logger.Debug("published file", slog.String("path", string(h.Target)))

	return h.Target, nil
}

// SetMtime sets the published file's modification time to the asset's
// provenance instant (spec.md §4.4: created_at, falling back to
// added_at, always in UTC).
func (ix *Index) SetMtime(path naming.Path, t time.Time) error {
	t = t.UTC()
	if err := os.Chtimes(string(path), t, t); err != nil {
		return &icloud.FilesystemError{Path: string(path), Kind: "chtimes", Err: err}
	}

	return nil
}

// DeleteLocal removes a published file, but refuses when the on-disk
// size disagrees with the asset record — a conflict signal that the
// file was modified out of band since last published (spec.md §4.2).
func (ix *Index) DeleteLocal(path naming.Path, expectedSize int64) (ok bool, err error) {
	info, statErr := os.Stat(string(path))
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return true, nil // already absent — nothing to do
		}

		return false, &icloud.FilesystemError{Path: string(path), Kind: "stat", Err: statErr}
	}

	if info.Size() != expectedSize {
		ix.logger.Warn("refusing local delete: size mismatch",
			slog.String("path", string(path)),
			slog.Int64("expected", expectedSize),
			slog.Int64("actual", info.Size()),
		)

		return false, nil
	}

	if err := os.Remove(string(path)); err != nil {
		return false, &icloud.FilesystemError{Path: string(path), Kind: "remove", Err: err}
	}

	return true, nil
}

// RemoveEmptyDirs walks up from path toward root, removing now-empty
// directories created by the folder template, stopping at root
// (spec.md §4.7).
func (ix *Index) RemoveEmptyDirs(path, root string) {
	dir := filepath.Dir(path)

	for dir != root && len(dir) > len(root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}

		if err := os.Remove(dir); err != nil {
			return
		}

		dir = filepath.Dir(dir)
	}
}
