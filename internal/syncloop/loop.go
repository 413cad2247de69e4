// Package syncloop implements the per-account sync state machine (C8,
// spec.md §4.8): INIT -> PASS -> {DONE, WAIT, WAIT_BACKOFF, EXIT}. It
// wires the asset iterator (C5) and the reconciliation engine/planner
// (C6/C7) into repeated passes, handling re-authentication and
// watch-mode scheduling.
package syncloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/tonimelisma/icloudpd-go/internal/downloader"
	"github.com/tonimelisma/icloudpd-go/internal/icloud"
	"github.com/tonimelisma/icloudpd-go/internal/iterator"
	"github.com/tonimelisma/icloudpd-go/internal/localindex"
	"github.com/tonimelisma/icloudpd-go/internal/naming"
	"github.com/tonimelisma/icloudpd-go/internal/notify"
	"github.com/tonimelisma/icloudpd-go/internal/plugin"
	"github.com/tonimelisma/icloudpd-go/internal/reconcile"
	"github.com/tonimelisma/icloudpd-go/internal/selector"
)

// minWatchInterval is the safety floor for watch-with-interval, below
// which a configured interval is clamped up (spec.md §4.8).
const minWatchInterval = 30 * time.Second

// Retry tuning for the state machine's own WAIT_BACKOFF transitions,
// distinct from icloud.Client.Do's request-level retry budget.
const (
	backoffBase    = 2 * time.Second
	backoffMax     = 2 * time.Minute
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// Config carries the per-account tuning that drives the state machine.
type Config struct {
	Username string
	Iterator iterator.Config // AlbumIDs is overwritten per pass; set everything else here.

	// WatchInterval enables watch mode when > 0. Clamped to minWatchInterval.
	WatchInterval time.Duration

	MaxReauthAttempts             int // default 3
	MaxServiceUnavailableAttempts int // default 5
	MaxRateLimitedAttempts        int // default 10
}

func (c Config) withDefaults() Config {
	if c.MaxReauthAttempts <= 0 {
		c.MaxReauthAttempts = 3
	}

	if c.MaxServiceUnavailableAttempts <= 0 {
		c.MaxServiceUnavailableAttempts = 5
	}

	if c.MaxRateLimitedAttempts <= 0 {
		c.MaxRateLimitedAttempts = 10
	}

	if c.WatchInterval > 0 && c.WatchInterval < minWatchInterval {
		c.WatchInterval = minWatchInterval
	}

	return c
}

// Loop drives one account's sync state machine.
type Loop struct {
	cfg Config

	lister icloud.AssetLister
	albums icloud.AlbumLister
	client sessionSetter
	auth   authenticator

	selectorCfg  selector.Config
	namingCfg    *naming.Config
	reconcileCfg reconcile.Config
	downloadOpt  downloader.Options
	index        *localindex.Index
	dl           *downloader.Downloader
	hook         plugin.Hook
	out          io.Writer

	planner  *reconcile.Planner
	notifier *notify.Notifier
	logger   *slog.Logger

	recentlyDeletedAlbumID string
	authenticated          bool

	// sleepFunc waits between retries/watch ticks; tests override it to
	// skip real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// authenticator is the login handshake *icloud.Authenticator performs;
// narrowed to an interface here so tests can substitute a fake rather
// than drive a real HTTP login.
type authenticator interface {
	Authenticate(ctx context.Context, username string) (*icloud.Session, error)
	Reauthenticate(ctx context.Context, username string) (*icloud.Session, error)
}

// sessionSetter is the subset of *icloud.Client the loop needs after a
// (re-)authentication produces a new session.
type sessionSetter interface {
	SetSession(session icloud.SessionSource)
}

// Deps bundles the components a Loop composes for one account.
type Deps struct {
	Lister icloud.AssetLister
	Albums icloud.AlbumLister
	Client sessionSetter
	Auth   authenticator

	SelectorCfg  selector.Config
	NamingCfg    *naming.Config
	ReconcileCfg reconcile.Config
	DownloadOpt  downloader.Options
	Index        *localindex.Index
	Downloader   *downloader.Downloader
	Hook         plugin.Hook
	Out          io.Writer // used only when ReconcileCfg.OnlyPrintFilenames is set
	Planner      *reconcile.Planner
	Notifier     *notify.Notifier // optional; nil disables re-auth-required notifications

	Logger *slog.Logger
}

// New builds a Loop for one account.
func New(cfg Config, deps Deps) *Loop {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := deps.Out
	if out == nil {
		out = io.Discard
	}

	return &Loop{
		cfg:          cfg.withDefaults(),
		lister:       deps.Lister,
		albums:       deps.Albums,
		client:       deps.Client,
		auth:         deps.Auth,
		selectorCfg:  deps.SelectorCfg,
		namingCfg:    deps.NamingCfg,
		reconcileCfg: deps.ReconcileCfg,
		downloadOpt:  deps.DownloadOpt,
		index:        deps.Index,
		dl:           deps.Downloader,
		hook:         deps.Hook,
		out:          out,
		planner:      deps.Planner,
		notifier:     deps.Notifier,
		logger:       logger,
		sleepFunc:    sleepCtx,
	}
}

// state names the C8 state machine's nodes. EXIT has no corresponding
// value: a fatal error returns directly from Run instead of
// transitioning through a state.
type state int

const (
	stateInit state = iota
	statePass
	stateDone
	stateWait
)

// Run drives the state machine until DONE (non-watch mode, or a
// cooperative cancellation), or a fatal error (EXIT, non-zero-worthy).
func (l *Loop) Run(ctx context.Context) error {
	st := stateInit
	reauthAttempts := 0
	serviceUnavailableAttempts := 0
	rateLimitedAttempts := 0

	for {
		switch st {
		case stateInit:
			if ctx.Err() != nil {
				return nil
			}

			if err := l.authenticate(ctx); err != nil {
				return fmt.Errorf("syncloop: authentication failed: %w", err)
			}

			st = statePass

		case statePass:
			err := l.runPass(ctx)

			switch {
			case err == nil:
				reauthAttempts = 0
				serviceUnavailableAttempts = 0
				rateLimitedAttempts = 0

				if l.cfg.WatchInterval <= 0 || ctx.Err() != nil {
					st = stateDone
				} else {
					st = stateWait
				}

			case errors.Is(err, icloud.ErrAuthExpired):
				reauthAttempts++

				if l.notifier != nil {
					l.notifier.NotifyReauthRequired(ctx, l.cfg.Username, err)
				}

				if reauthAttempts > l.cfg.MaxReauthAttempts {
					return fmt.Errorf("syncloop: exceeded re-authentication attempts: %w", err)
				}

				st = stateInit

			case errors.Is(err, icloud.ErrServiceUnavailable):
				serviceUnavailableAttempts++
				if serviceUnavailableAttempts > l.cfg.MaxServiceUnavailableAttempts {
					return fmt.Errorf("syncloop: exceeded service-unavailable retry budget: %w", err)
				}

				if waitErr := l.sleepBackoff(ctx, serviceUnavailableAttempts); waitErr != nil {
					return nil
				}

				// The session was not invalidated: INIT tries the stored
				// session again instead of forcing a fresh login.
				l.authenticated = false
				st = stateInit

			case errors.Is(err, icloud.ErrRateLimited):
				rateLimitedAttempts++
				if rateLimitedAttempts > l.cfg.MaxRateLimitedAttempts {
					return fmt.Errorf("syncloop: exceeded rate-limit retry budget: %w", err)
				}

				if waitErr := l.sleepBackoff(ctx, rateLimitedAttempts); waitErr != nil {
					return nil
				}

				st = statePass

			default:
				return fmt.Errorf("syncloop: fatal: %w", err)
			}

		case stateWait:
			l.logger.Debug("watch interval sleeping", slog.Duration("interval", l.cfg.WatchInterval))

			if waitErr := l.sleepFunc(ctx, l.cfg.WatchInterval); waitErr != nil {
				return nil
			}

			st = statePass

		case stateDone:
			return nil
		}
	}
}

// authenticate obtains a session, preferring the stored one on the
// very first attempt and forcing a fresh interactive login on
// subsequent INIT transitions caused by ErrAuthExpired mid-pass.
func (l *Loop) authenticate(ctx context.Context) error {
	var (
		session *icloud.Session
		err     error
	)

	if !l.authenticated {
		session, err = l.auth.Authenticate(ctx, l.cfg.Username)
	} else {
		session, err = l.auth.Reauthenticate(ctx, l.cfg.Username)
	}

	if err != nil {
		return err
	}

	l.client.SetSession(session)
	l.authenticated = true

	return nil
}

// runPass performs one full PASS: iterate the library, reconcile every
// asset, scan Recently-Deleted for Mode Sync, and realize the
// accumulated deletion intents. Returns nil on a cooperative
// cancellation mid-pass, leaving the engine to finish in a later pass.
func (l *Loop) runPass(ctx context.Context) error {
	engine := reconcile.New(l.selectorCfg, l.namingCfg, l.reconcileCfg, l.downloadOpt, l.index, l.dl, l.hook, l.out, l.logger)

	mainCfg := l.cfg.Iterator
	mainCfg.AlbumIDs = nil

	it := iterator.New(l.lister, mainCfg, l.logger)

	for {
		if ctx.Err() != nil {
			return nil
		}

		asset, ok, err := it.Next(ctx)
		if err != nil {
			return fmt.Errorf("syncloop: iterating assets: %w", err)
		}

		if !ok {
			break
		}

		existed, err := engine.ProcessAsset(ctx, asset, time.Now())
		if err != nil {
			return err
		}

		it.ReportExisting(existed)
	}

	if l.reconcileCfg.Mode == reconcile.ModeSync && ctx.Err() == nil {
		if err := l.scanRecentlyDeleted(ctx, engine); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return nil
	}

	// Dry-run and only-print-filenames passes compute deletion intents
	// but never realize them.
	if l.reconcileCfg.DryRun || l.reconcileCfg.OnlyPrintFilenames {
		return nil
	}

	_, err := l.planner.Realize(ctx, engine.LocalIntents(), engine.RemoteIntents())
	if err != nil {
		return fmt.Errorf("syncloop: realizing deletion intents: %w", err)
	}

	return nil
}

// scanRecentlyDeleted walks the Recently-Deleted album separately from
// the main pass and enqueues local-delete intents for assets found
// there that are still present locally (spec.md §4.6).
func (l *Loop) scanRecentlyDeleted(ctx context.Context, engine *reconcile.Engine) error {
	albumID, err := l.resolveRecentlyDeletedAlbum(ctx)
	if err != nil {
		return fmt.Errorf("syncloop: resolving Recently Deleted album: %w", err)
	}

	if albumID == "" {
		return nil
	}

	scanCfg := l.cfg.Iterator
	scanCfg.AlbumIDs = []string{albumID}
	scanCfg.RecentN = 0
	scanCfg.UntilFoundN = 0

	it := iterator.New(l.lister, scanCfg, l.logger)

	for {
		if ctx.Err() != nil {
			return nil
		}

		asset, ok, err := it.Next(ctx)
		if err != nil {
			return fmt.Errorf("syncloop: iterating Recently Deleted: %w", err)
		}

		if !ok {
			return nil
		}

		if err := engine.EnqueueFromRecentlyDeleted(ctx, asset); err != nil {
			return err
		}

		it.ReportExisting(true)
	}
}

func (l *Loop) resolveRecentlyDeletedAlbum(ctx context.Context) (string, error) {
	if l.recentlyDeletedAlbumID != "" {
		return l.recentlyDeletedAlbumID, nil
	}

	if l.albums == nil {
		return "", nil
	}

	all, err := l.albums.ListAlbums(ctx, l.cfg.Iterator.LibraryID)
	if err != nil {
		return "", err
	}

	for _, a := range all {
		if a.Name == icloud.RecentlyDeletedAlbumName {
			l.recentlyDeletedAlbumID = a.ID

			return a.ID, nil
		}
	}

	return "", nil
}

// sleepBackoff sleeps for an exponential-backoff-with-jitter duration
// scaled by attempt, honoring cancellation.
func (l *Loop) sleepBackoff(ctx context.Context, attempt int) error {
	backoff := float64(backoffBase) * math.Pow(backoffFactor, float64(attempt-1))
	if backoff > float64(backoffMax) {
		backoff = float64(backoffMax)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1)

	d := time.Duration(backoff + jitter)
	if d < 0 {
		d = backoffBase
	}

	l.logger.Warn("backing off", slog.Duration("wait", d), slog.Int("attempt", attempt))

	return l.sleepFunc(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
