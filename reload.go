package main

import (
	"github.com/spf13/cobra"
)

// newReloadCmd sends SIGHUP to a running --watch-with-interval daemon so
// it re-reads its configuration without a restart, the CLI-facing half
// of waitForReload's signal case. Grounded on the teacher's
// pause.go/notifyDaemon pattern (sendSIGHUP in pidfile.go is shared
// with this command).
func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "reload",
		Short:         "Ask a running --watch-with-interval process to reload its configuration",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := sendSIGHUP(flagPIDFile); err != nil {
				statusErrf(flagQuiet, "Error: %v\n", err)

				return &exitCodeError{code: exitFatal, err: err}
			}

			statusOkf(flagQuiet, "Notified running process to reload\n")

			return nil
		},
	}
}
