package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/icloudpd-go/internal/accounts"
	"github.com/tonimelisma/icloudpd-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags.
var (
	flagConfigPath string
	flagPIDFile    string
	flagConcurrent bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// exitConfigError and exitFatal are the process exit codes spec.md §6
// assigns to configuration errors and runtime fatal errors respectively;
// 0 (cobra's default on nil error) covers the clean and cancelled cases.
const (
	exitFatal       = 1
	exitConfigError = 2
)

// newRootCmd builds the single command this CLI exposes: the core
// consumes a resolved Config value (spec.md §6), and every flag here
// maps onto a field of that value. There is no subcommand tree —
// reload is the only auxiliary command, matching the teacher's
// pause/resume daemon-control commands but scoped to this simpler
// single-pass-or-watch execution model.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "icloudpd-go",
		Short:         "iCloud Photos sync client",
		Long:          "Downloads photos and videos from iCloud Photos into a local directory tree, reconciling additions and deletions on every pass.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runRoot,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "TOML config file (enables multi-account layering; see DESIGN.md)")
	cmd.PersistentFlags().StringVar(&flagPIDFile, "pidfile", defaultPIDFilePath(), "PID file written while running with --watch-with-interval")
	cmd.PersistentFlags().BoolVar(&flagConcurrent, "concurrent", false, "run configured accounts concurrently instead of sequentially")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show informational output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging (transport requests, config resolution)")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress status output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	registerAccountFlags(cmd)

	cmd.AddCommand(newReloadCmd())

	return cmd
}

// loadConfigFile returns the account set for this run: from --config
// when given, otherwise synthesized from the flags on cmd (a single
// account, per accountFromFlags's documented scope).
func loadConfigFile(cmd *cobra.Command) (*config.File, error) {
	if flagConfigPath != "" {
		return config.Load(flagConfigPath)
	}

	acct, err := accountFromFlags(cmd)
	if err != nil {
		return nil, err
	}

	if acct.Username == "" {
		return nil, fmt.Errorf("--username is required (or use --config)")
	}

	return &config.File{Accounts: []config.Account{acct}}, nil
}

func runRoot(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	file, err := loadConfigFile(cmd)
	if err != nil {
		statusErrf(flagQuiet, "Error: %v\n", err)

		return &exitCodeError{code: exitConfigError, err: err}
	}

	var watcher *config.Watcher
	if flagConfigPath != "" {
		watcher, err = config.NewWatcher(flagConfigPath, logger)
		if err != nil {
			statusWarnf(flagQuiet, "Warning: config file watch disabled: %v\n", err)
		} else {
			defer watcher.Close()
		}
	}

	ctx := shutdownContext(cmd.Context(), logger)

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	for {
		resolved, err := config.Resolve(file)
		if err != nil {
			statusErrf(flagQuiet, "Error: %v\n", err)

			return &exitCodeError{code: exitConfigError, err: err}
		}

		watchMode := false

		accts := make([]*accounts.Account, 0, len(resolved))

		for _, res := range resolved {
			if res.SyncLoop.WatchInterval > 0 {
				watchMode = true
			}

			acct, err := accounts.Build(res, accounts.BuildOptions{Out: os.Stdout, Logger: logger})
			if err != nil {
				statusErrf(flagQuiet, "Error: %v\n", err)

				return &exitCodeError{code: exitConfigError, err: err}
			}

			accts = append(accts, acct)
		}

		var cleanupPID func()
		if watchMode {
			cleanup, err := writePIDFile(flagPIDFile)
			if err != nil {
				logger.Warn("pidfile not written", slog.String("error", err.Error()))
			} else {
				cleanupPID = cleanup
			}
		}

		passCtx, cancelPass := context.WithCancel(ctx)
		reload := make(chan struct{}, 1)

		go func() {
			if waitForReload(passCtx, watcher, sighup) {
				reload <- struct{}{}
			}

			cancelPass()
		}()

		runFn := accounts.Run
		if flagConcurrent {
			runFn = accounts.RunConcurrent
		}

		passStarted := time.Now()
		errs := runFn(passCtx, accts, logger)
		cancelPass()

		if cleanupPID != nil {
			cleanupPID()
		}

		reportErrs(errs, accts, passStarted)

		select {
		case <-reload:
			logger.Info("reloading configuration")

			if flagConfigPath != "" {
				reloaded, loadErr := config.Load(flagConfigPath)
				if loadErr != nil {
					statusErrf(flagQuiet, "Error: %v\n", loadErr)

					return &exitCodeError{code: exitConfigError, err: loadErr}
				}

				file = reloaded
			}

			continue
		default:
		}

		if ctx.Err() != nil {
			return nil
		}

		if !watchMode {
			return exitFromErrs(errs)
		}

		// passCtx was cancelled by something other than a reload signal
		// or the outer shutdown context; treat as a clean stop.
		return nil
	}
}

// waitForReload blocks until ctx is cancelled, SIGHUP arrives, or the
// watched config file changes, returning true only in the latter two
// cases — the signal (matching pause.go's notifyDaemon) and the file
// watch (internal/config.Watcher) are two independent triggers for the
// same effect: re-resolve configuration without restarting the process.
func waitForReload(ctx context.Context, watcher *config.Watcher, sighup <-chan os.Signal) bool {
	fileChanged := make(chan struct{})

	if watcher != nil {
		go func() {
			if err := watcher.Wait(ctx); err == nil {
				close(fileChanged)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return false
	case <-sighup:
		return true
	case <-fileChanged:
		return true
	}
}

func reportErrs(errs []error, accts []*accounts.Account, passStarted time.Time) {
	for i, err := range errs {
		stats := accts[i].Stats.Snapshot()

		switch {
		case err == nil, errors.Is(err, context.Canceled):
			statusOkf(flagQuiet, "%s: ok, %d downloaded (%s), pass started %s\n",
				accts[i].Username, stats.Downloaded, formatSize(stats.DownloadedBytes), formatTime(passStarted))
		default:
			statusErrf(flagQuiet, "%s: %v\n", accts[i].Username, err)
		}
	}
}

func exitFromErrs(errs []error) error {
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return &exitCodeError{code: exitFatal, err: err}
		}
	}

	return nil
}

// exitCodeError carries the process exit code spec.md §6 assigns to the
// error that produced it, read back in main().
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

// buildLogger creates an slog.Logger at the level the CLI flags select.
func buildLogger() *slog.Logger {
	level := slog.LevelWarn

	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	case flagQuiet:
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// defaultPIDFilePath mirrors the teacher's ~/.onedrive-go data directory
// convention, scoped to this program's own state directory.
func defaultPIDFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".icloudpd-go.pid"
	}

	return filepath.Join(home, ".icloudpd-go", "icloudpd-go.pid")
}
