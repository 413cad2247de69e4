// Package accounts is the multi-account driver (C9, spec.md §4.9): it
// takes the Resolved configurations produced by internal/config,
// builds a complete dependency graph per account (session store,
// authenticator, icloud client, naming/selector/reconcile wiring,
// downloader, local index, planner), and runs each account's
// syncloop.Loop. The baseline runs accounts sequentially, matching the
// teacher's own root.go loop over configured drives; RunConcurrent is
// the opt-in alternative spec.md §5 permits ("an implementation MAY
// run them concurrently provided each has its own session store, its
// own cookie jar, and its own credential/MFA provider").
package accounts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/icloudpd-go/internal/config"
	"github.com/tonimelisma/icloudpd-go/internal/credentials"
	"github.com/tonimelisma/icloudpd-go/internal/downloader"
	"github.com/tonimelisma/icloudpd-go/internal/icloud"
	"github.com/tonimelisma/icloudpd-go/internal/localindex"
	"github.com/tonimelisma/icloudpd-go/internal/notify"
	"github.com/tonimelisma/icloudpd-go/internal/plugin"
	"github.com/tonimelisma/icloudpd-go/internal/reconcile"
	"github.com/tonimelisma/icloudpd-go/internal/session"
	"github.com/tonimelisma/icloudpd-go/internal/sidecar"
	"github.com/tonimelisma/icloudpd-go/internal/syncloop"
)

// httpTimeout bounds every individual transport operation (spec.md §5
// "Individual transport operations have a fixed timeout (default 30
// seconds, configurable)").
const httpTimeout = 30 * time.Second

// remoteDeleteBatchSize bounds one MoveToRecentlyDeleted call.
const remoteDeleteBatchSize = 50

// userAgentBase identifies this client to the remote service.
const userAgentBase = "icloudpd-go"

// BuildOptions carries process-wide collaborators that are not part of
// any one account's Resolved configuration: the output stream for
// --only-print-filenames, and a logger template each account's own
// child logger derives from.
type BuildOptions struct {
	Out    *os.File
	Logger *slog.Logger
}

// Account bundles one configuration's fully wired dependency graph,
// ready to Run.
type Account struct {
	Username string
	Loop     *syncloop.Loop
	Stats    *plugin.StatsHook
}

// Build constructs one Account's complete dependency graph from a
// Resolved configuration, mirroring the teacher's per-drive client
// construction in root.go's newGraphClient/newTransferGraphClient.
func Build(res config.Resolved, opts BuildOptions) (*Account, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With(slog.String("account", res.Username))

	store, err := session.NewStore(res.CookieDirectory)
	if err != nil {
		return nil, fmt.Errorf("accounts: %s: %w", res.Username, err)
	}

	credProvider := buildCredentialChain(res)
	mfaProvider := buildMfaProvider(res)

	httpClient := &http.Client{Timeout: httpTimeout}
	client := icloud.NewClient(icloud.DefaultBaseURL, httpClient, nil, logger, userAgentBase)
	authenticator := icloud.NewAuthenticator(client, store, credProvider, mfaProvider, res.Domain, logger)

	index := localindex.New(logger)

	sc := sidecar.Writer{}

	dl := downloader.New(client, index, sc, sc, logger)

	stats := &plugin.StatsHook{}
	hook := plugin.MultiHook{Hooks: []plugin.Hook{plugin.NewLoggingHook(logger), stats}}

	reauth := &reauthAdapter{auth: authenticator, client: client, username: res.Username}

	planner := reconcile.NewPlanner(index, client, reauth, hook, res.Directory, remoteDeleteBatchSize, logger)

	notifier := notify.New(notify.Config{
		Email:     res.NotificationEmail,
		EmailFrom: res.NotificationEmailFrom,
		SMTPHost:  res.SMTPHost,
		SMTPPort:  res.SMTPPort,
		SMTPUser:  res.SMTPUsername,
		SMTPPass:  res.SMTPPassword,
		Script:    res.NotificationScript,
	}, logger)

	var out io.Writer = io.Discard
	if opts.Out != nil {
		out = opts.Out
	}

	loop := syncloop.New(res.SyncLoop, syncloop.Deps{
		Lister:       client,
		Albums:       client,
		Client:       client,
		Auth:         authenticator,
		SelectorCfg:  res.Selector,
		NamingCfg:    &res.Naming,
		ReconcileCfg: res.Reconcile,
		DownloadOpt:  res.Download,
		Index:        index,
		Downloader:   dl,
		Hook:         hook,
		Out:          out,
		Planner:      planner,
		Notifier:     notifier,
		Logger:       logger,
	})

	return &Account{Username: res.Username, Loop: loop, Stats: stats}, nil
}

// buildCredentialChain assembles the ordered password_provider fallback
// chain (spec.md §6: "password_provider (ordered, repeatable...)").
func buildCredentialChain(res config.Resolved) icloud.CredentialProvider {
	chain := make([]icloud.CredentialProvider, 0, len(res.PasswordProvider))

	for _, name := range res.PasswordProvider {
		switch name {
		case "parameter":
			chain = append(chain, credentials.ParameterProvider{Password: res.PasswordParameter})
		case "keyring":
			chain = append(chain, credentials.KeyringProvider{})
		case "console":
			chain = append(chain, credentials.NewConsoleProvider())
		case "webui":
			chain = append(chain, credentials.WebUIProvider{})
		}
	}

	return credentials.Chain{Providers: chain}
}

func buildMfaProvider(res config.Resolved) icloud.MfaProvider {
	if res.MfaProvider == "webui" {
		return credentials.WebUIProvider{}
	}

	return credentials.NewConsoleProvider()
}

// reauthAdapter bridges icloud.Authenticator's per-username
// Reauthenticate method to the single-argument reconcile.Reauthenticator
// interface the planner needs when a batched remote delete hits an
// expired session mid-realize. On success it installs the fresh session
// on the client so every subsequent request on this account uses it.
type reauthAdapter struct {
	auth     *icloud.Authenticator
	client   *icloud.Client
	username string
}

func (r *reauthAdapter) Reauthenticate(ctx context.Context) error {
	sess, err := r.auth.Reauthenticate(ctx, r.username)
	if err != nil {
		return err
	}

	r.client.SetSession(sess)

	return nil
}

// Run drives every account sequentially (the default per spec.md §4.9
// and §5). A fatal error in one account is logged and does not halt
// the others, matching "A fatal error in one configuration does not
// halt the others unless it is a process-level fatal".
func Run(ctx context.Context, accts []*Account, logger *slog.Logger) []error {
	errs := make([]error, len(accts))

	for i, a := range accts {
		if ctx.Err() != nil {
			errs[i] = ctx.Err()

			continue
		}

		logger.Info("starting account pass", slog.String("account", a.Username))

		if err := a.Loop.Run(ctx); err != nil {
			logger.Error("account failed", slog.String("account", a.Username), slog.String("error", err.Error()))
			errs[i] = err
		}
	}

	return errs
}

// RunConcurrent runs every account's Loop in its own goroutine via an
// unbounded errgroup — each account already serializes its own work, so
// the only concurrency here is across accounts, one goroutine apiece.
// Safe only because Build gives each Account an independent
// SessionStore, cookie directory, and credential/MFA provider chain
// (spec.md §5); callers must ensure no two Resolved configurations
// share a CookieDirectory+Username pair. session.Store's flock is held
// only while a session is being saved, so it makes a second concurrent
// Save for the same username fail but does not stop two loops from
// sharing one session file. Unlike errgroup's
// usual fail-fast idiom, one account's error never cancels the others'
// context — each Loop only ever sees the ctx the caller passed in.
func RunConcurrent(ctx context.Context, accts []*Account, logger *slog.Logger) []error {
	errs := make([]error, len(accts))

	var g errgroup.Group

	for i, a := range accts {
		i, a := i, a

		g.Go(func() error {
			logger.Info("starting account pass (concurrent)", slog.String("account", a.Username))

			if err := a.Loop.Run(ctx); err != nil {
				logger.Error("account failed", slog.String("account", a.Username), slog.String("error", err.Error()))
				errs[i] = err
			}

			return nil
		})
	}

	g.Wait()

	return errs
}
