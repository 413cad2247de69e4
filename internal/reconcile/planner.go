package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tonimelisma/icloudpd-go/internal/icloud"
	"github.com/tonimelisma/icloudpd-go/internal/localindex"
	"github.com/tonimelisma/icloudpd-go/internal/plugin"
)

// Reauthenticator re-establishes a session when a batch fails with an
// expired auth error, so the planner can retry once (spec.md §4.7).
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// Report summarizes one deletion-planning pass.
type Report struct {
	LocalDeleted    int
	LocalSkipped    int // size mismatch — intent dropped with a warning
	RemoteDeleted   int
	RemoteBatches   int
	ReauthAttempted bool
}

// Planner realizes the intents an Engine accumulated during the main
// pass: local deletes first, then batched remote deletes, then
// bottom-up empty-directory cleanup (spec.md §4.7).
type Planner struct {
	index     *localindex.Index
	transport icloud.Transport
	reauth    Reauthenticator
	hook      plugin.Hook
	logger    *slog.Logger

	root      string
	batchSize int
}

// NewPlanner creates a Planner. root is the configured output directory,
// used as the stopping point for bottom-up empty-directory cleanup.
func NewPlanner(index *localindex.Index, transport icloud.Transport, reauth Reauthenticator, hook plugin.Hook, root string, batchSize int, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}

	if batchSize <= 0 {
		batchSize = 100
	}

	return &Planner{index: index, transport: transport, reauth: reauth, hook: hook, root: root, batchSize: batchSize, logger: logger}
}

func (p *Planner) emit(ev plugin.AssetEvent) {
	if p.hook != nil {
		p.hook.OnAssetEvent(ev)
	}
}

// Realize performs local deletes, then remote deletes, then
// empty-directory cleanup above each locally deleted file.
func (p *Planner) Realize(ctx context.Context, localIntents []LocalDeleteIntent, remoteIntents []RemoteDeleteIntent) (Report, error) {
	var report Report

	touchedDirs := make(map[string]struct{})

	for _, intent := range localIntents {
		ok, err := p.index.DeleteLocal(intent.Path, intent.ExpectedSize)
		if err != nil {
			return report, err
		}

		if !ok {
			report.LocalSkipped++

			p.logger.Warn("dropping local-delete intent: size mismatch",
				slog.String("asset_id", intent.AssetID),
				slog.String("path", string(intent.Path)),
			)

			continue
		}

		report.LocalDeleted++
		touchedDirs[string(intent.Path)] = struct{}{}
		p.emit(plugin.AssetEvent{Kind: plugin.EventLocalDeleted, AssetID: intent.AssetID, Path: intent.Path})
	}

	if err := p.realizeRemote(ctx, remoteIntents, &report); err != nil {
		return report, err
	}

	for path := range touchedDirs {
		p.index.RemoveEmptyDirs(path, p.root)
	}

	return report, nil
}

// realizeRemote groups intents by library and moves each batch to
// Recently-Deleted, retrying once after re-authentication on auth
// expiry (spec.md §4.7).
func (p *Planner) realizeRemote(ctx context.Context, intents []RemoteDeleteIntent, report *Report) error {
	byLibrary := make(map[string][]string)

	for _, intent := range intents {
		byLibrary[intent.LibraryID] = append(byLibrary[intent.LibraryID], intent.AssetID)
	}

	for libraryID, assetIDs := range byLibrary {
		for start := 0; start < len(assetIDs); start += p.batchSize {
			end := start + p.batchSize
			if end > len(assetIDs) {
				end = len(assetIDs)
			}

			batch := assetIDs[start:end]

			if err := p.moveBatchWithReauth(ctx, libraryID, batch, report); err != nil {
				return err
			}

			report.RemoteBatches++
			report.RemoteDeleted += len(batch)

			for _, id := range batch {
				p.emit(plugin.AssetEvent{Kind: plugin.EventRemoteDeleted, AssetID: id})
			}
		}
	}

	return nil
}

func (p *Planner) moveBatchWithReauth(ctx context.Context, libraryID string, batch []string, report *Report) error {
	err := p.transport.MoveToRecentlyDeleted(ctx, libraryID, batch)
	if err == nil {
		return nil
	}

	if !errors.Is(err, icloud.ErrAuthExpired) || p.reauth == nil {
		return err
	}

	report.ReauthAttempted = true

	if reauthErr := p.reauth.Reauthenticate(ctx); reauthErr != nil {
		return reauthErr
	}

	return p.transport.MoveToRecentlyDeleted(ctx, libraryID, batch)
}
