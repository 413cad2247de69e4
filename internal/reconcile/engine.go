// Package reconcile implements the per-asset reconciliation decision
// (C6) and the two-phase deletion planner (C7) described in spec.md
// §4.6-4.7. The engine composes the selector, naming, local-index, and
// downloader components for one asset at a time; it performs no
// listing itself.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tonimelisma/icloudpd-go/internal/downloader"
	"github.com/tonimelisma/icloudpd-go/internal/icloud"
	"github.com/tonimelisma/icloudpd-go/internal/localindex"
	"github.com/tonimelisma/icloudpd-go/internal/naming"
	"github.com/tonimelisma/icloudpd-go/internal/plugin"
	"github.com/tonimelisma/icloudpd-go/internal/selector"
)

// Mode selects how the engine reacts to assets no longer wanted on one
// side, per spec.md §4.6.
type Mode int

// Reconciliation modes.
const (
	ModeCopy Mode = iota // no deletion intents
	ModeSync             // auto-delete: mirror Recently-Deleted locally
	ModeMove             // keep-icloud-recent-days: prune remote after download
)

// Config carries the account-level options that drive reconciliation
// decisions, distinct from the selection/naming configs passed to the
// components the engine composes.
type Config struct {
	Mode Mode

	// KeepRecentDays is nil when Mode != ModeMove. A value of 0 deletes
	// every processed asset remotely.
	KeepRecentDays *int

	// DeleteAfterDownloadLegacy maps the deprecated flag to
	// keep-icloud-recent-days 0, restricted to assets downloaded in the
	// current pass (spec.md §4.6).
	DeleteAfterDownloadLegacy bool

	DryRun             bool
	OnlyPrintFilenames bool
}

// LocalDeleteIntent names a local file that should be removed because
// its asset is present in the Recently-Deleted album (Mode Sync).
type LocalDeleteIntent struct {
	AssetID      string
	Path         naming.Path
	ExpectedSize int64
}

// RemoteDeleteIntent names an asset that should be moved to
// Recently-Deleted because it has aged out under keep-icloud-recent-days
// (Mode Move).
type RemoteDeleteIntent struct {
	AssetID   string
	LibraryID string
}

// Engine composes C1-C5 for one asset and accumulates deletion intents
// for the planner to realize in a second phase.
type Engine struct {
	selectorCfg selector.Config
	namingCfg   *naming.Config
	cfg         Config
	downloadOpt downloader.Options

	index  *localindex.Index
	dl     *downloader.Downloader
	hook   plugin.Hook
	out    io.Writer
	logger *slog.Logger

	localIntents  []LocalDeleteIntent
	remoteIntents []RemoteDeleteIntent

	// claimed tracks, within this pass, which asset has already claimed
	// each canonical path — the bookkeeping spec.md §3/§4.1 "Duplicate
	// policy" requires to detect a collision between two distinct assets
	// before either is probed or downloaded.
	claimed map[naming.Path]string
}

// New creates an Engine. hook may be nil (treated as a no-op); out is
// only written to when cfg.OnlyPrintFilenames is set.
func New(
	selectorCfg selector.Config, namingCfg *naming.Config, cfg Config, downloadOpt downloader.Options,
	index *localindex.Index, dl *downloader.Downloader, hook plugin.Hook, out io.Writer, logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		selectorCfg: selectorCfg,
		namingCfg:   namingCfg,
		cfg:         cfg,
		downloadOpt: downloadOpt,
		index:       index,
		dl:          dl,
		hook:        hook,
		out:         out,
		logger:      logger,
		claimed:     make(map[naming.Path]string),
	}
}

func (e *Engine) emit(ev plugin.AssetEvent) {
	if e.hook != nil {
		e.hook.OnAssetEvent(ev)
	}
}

// ProcessAsset runs the C6 decision table for one asset: select
// renditions, probe/download/skip each target, then enqueue a Mode Move
// remote-delete intent when applicable. It returns existedLocally=true
// when every selected target was already present, the signal
// internal/iterator uses for until-found counting.
func (e *Engine) ProcessAsset(ctx context.Context, asset *icloud.Asset, now time.Time) (existedLocally bool, err error) {
	selected := selector.Select(asset, e.selectorCfg)
	if len(selected) == 0 {
		return true, nil
	}

	allExisted := true
	downloadedAny := false

	for _, sv := range selected {
		existed, downloaded, err := e.processTarget(ctx, asset, sv.Rendition)
		if err != nil {
			return false, err
		}

		allExisted = allExisted && existed
		downloadedAny = downloadedAny || downloaded

		if sv.LiveVideo != nil {
			stillPath := naming.CanonicalStillPath(asset, &sv.Rendition, e.namingCfg)

			livePath := naming.CanonicalLiveVideoPath(asset, stillPath, e.namingCfg)
			if livePath != "" {
				existed, downloaded, err := e.processLiveTarget(ctx, asset, *sv.LiveVideo, livePath)
				if err != nil {
					return false, err
				}

				allExisted = allExisted && existed
				downloadedAny = downloadedAny || downloaded
			}
		}
	}

	e.emit(plugin.AssetEvent{Kind: plugin.EventAllSizesComplete, AssetID: asset.ID})

	e.enqueueMoveIntent(asset, now, downloadedAny)

	return allExisted, nil
}

// processTarget probes and, if needed, downloads one selected still
// rendition at its full set of admissible paths. The canonical entry
// (admissible[0]) is first claimed against this pass's collision
// tracker; a collision with a different asset collapses the set to the
// single resolved path, since the legacy admissible-path history
// belongs to the unsuffixed name, not to the collider.
func (e *Engine) processTarget(ctx context.Context, asset *icloud.Asset, rendition icloud.Rendition) (existed, downloaded bool, err error) {
	admissible := naming.AdmissiblePaths(asset, &rendition, e.namingCfg)

	canonical := admissible[0]

	resolved := e.claimPath(asset.ID, canonical, rendition.ByteLength)
	if resolved != canonical {
		admissible = []naming.Path{resolved}
	}

	return e.processPaths(ctx, asset, rendition, admissible)
}

// processLiveTarget probes and, if needed, downloads a live-photo video
// rendition at a single computed path (live videos carry no legacy
// admissible-path history of their own), claimed the same way as a
// still rendition's canonical path.
func (e *Engine) processLiveTarget(ctx context.Context, asset *icloud.Asset, rendition icloud.Rendition, target naming.Path) (existed, downloaded bool, err error) {
	resolved := e.claimPath(asset.ID, target, rendition.ByteLength)

	return e.processPaths(ctx, asset, rendition, []naming.Path{resolved})
}

// claimPath assigns asset.ID ownership of candidate within this pass.
// When a different asset already claimed the same candidate under
// name-size-dedup-with-suffix, the collision is resolved by
// naming.ResolveCollision using this asset's own rendition length
// (spec.md §3 "the engine materializes the collider with the size
// suffix"). Under name-id7 every asset already carries a unique token
// in its canonical path, so a collision there is left unresolved (two
// assets with an identical 7-character fingerprint, which
// ResolveCollision's size-suffix scheme cannot help disambiguate).
func (e *Engine) claimPath(assetID string, candidate naming.Path, byteLength int64) naming.Path {
	if owner, occupied := e.claimed[candidate]; occupied && owner != assetID && e.namingCfg.Duplicate != naming.DuplicateID7 {
		candidate = naming.ResolveCollision(candidate, byteLength)
	}

	e.claimed[candidate] = assetID

	return candidate
}

func (e *Engine) processPaths(ctx context.Context, asset *icloud.Asset, rendition icloud.Rendition, admissible []naming.Path) (existed, downloaded bool, err error) {
	state, err := e.index.Probe(admissible, rendition.ByteLength)
	if err != nil {
		return false, false, err
	}

	switch state.Kind {
	case localindex.Existing, localindex.LegacyAt:
		e.emit(plugin.AssetEvent{Kind: plugin.EventExisted, AssetID: asset.ID, Path: state.Path, Bytes: state.Size})

		return true, false, nil

	case localindex.Missing, localindex.Partial:
		target := admissible[0]
		have := int64(0)

		if state.Kind == localindex.Partial {
			target = state.Path
			have = state.HaveBytes
		}

		if e.cfg.OnlyPrintFilenames {
			fmt.Fprintln(e.out, target)

			return false, false, nil
		}

		if e.cfg.DryRun {
			e.emit(plugin.AssetEvent{Kind: plugin.EventWouldDownload, AssetID: asset.ID, Path: target})

			return false, false, nil
		}

		result, err := e.dl.Download(ctx, asset, rendition, target, have, e.downloadOpt)
		if err != nil {
			return false, false, fmt.Errorf("reconcile: downloading asset %s: %w", asset.ID, err)
		}

		e.logger.Debug("downloaded asset",
			slog.String("asset_id", asset.ID),
			slog.String("path", string(result.Path)),
			slog.Int64("bytes", result.BytesWritten),
			slog.Bool("resumed", result.Resumed),
		)
		e.emit(plugin.AssetEvent{Kind: plugin.EventDownloaded, AssetID: asset.ID, Path: result.Path, Bytes: result.BytesWritten})

		return false, true, nil

	default:
		return false, false, fmt.Errorf("reconcile: unexpected local state %v", state.Kind)
	}
}

// enqueueMoveIntent applies Mode Move's keep-icloud-recent-days rule,
// including the restricted delete-after-download legacy mapping
// (spec.md §4.6).
func (e *Engine) enqueueMoveIntent(asset *icloud.Asset, now time.Time, downloadedThisPass bool) {
	if e.cfg.Mode != ModeMove {
		return
	}

	if e.cfg.DeleteAfterDownloadLegacy {
		if downloadedThisPass {
			e.remoteIntents = append(e.remoteIntents, RemoteDeleteIntent{AssetID: asset.ID, LibraryID: asset.LibraryID})
		}

		return
	}

	if e.cfg.KeepRecentDays == nil {
		return
	}

	threshold := now.AddDate(0, 0, -*e.cfg.KeepRecentDays)
	if asset.EffectiveCreatedAt().Before(threshold) {
		e.remoteIntents = append(e.remoteIntents, RemoteDeleteIntent{AssetID: asset.ID, LibraryID: asset.LibraryID})
	}
}

// EnqueueFromRecentlyDeleted records a Mode Sync local-delete intent
// for an asset discovered in the Recently-Deleted album whose local
// canonical path exists (spec.md §4.6: "the scan for this happens
// after the main pass"). Called by the sync loop while iterating that
// album separately.
func (e *Engine) EnqueueFromRecentlyDeleted(ctx context.Context, asset *icloud.Asset) error {
	if e.cfg.Mode != ModeSync {
		return nil
	}

	selected := selector.Select(asset, e.selectorCfg)

	for _, sv := range selected {
		path := naming.CanonicalStillPath(asset, &sv.Rendition, e.namingCfg)

		state, err := e.index.Probe([]naming.Path{path}, sv.Rendition.ByteLength)
		if err != nil {
			return err
		}

		if state.Kind == localindex.Existing {
			e.localIntents = append(e.localIntents, LocalDeleteIntent{
				AssetID: asset.ID, Path: state.Path, ExpectedSize: state.Size,
			})
		}
	}

	return nil
}

// LocalIntents returns the accumulated local-delete intents.
func (e *Engine) LocalIntents() []LocalDeleteIntent { return e.localIntents }

// RemoteIntents returns the accumulated remote-delete intents.
func (e *Engine) RemoteIntents() []RemoteDeleteIntent { return e.remoteIntents }
