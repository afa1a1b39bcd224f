// cmd/watch.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/gauntlet-cli/internal/observability"
	"github.com/xkilldash9x/gauntlet-cli/internal/watch"
)

// newWatchCmd creates the `watch` command, which follows the JSON log file of
// a run in another process.
func newWatchCmd() *cobra.Command {
	var (
		logFile   string
		fromStart bool
	)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow stage progress from the run log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			path := logFile
			if path == "" {
				path = cfg.Logger().LogFile
			}

			follower, err := watch.NewFollower(path, fromStart, observability.GetLogger())
			if err != nil {
				return err
			}
			events, err := follower.Follow(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for ev := range events {
				fmt.Fprintln(out, watch.Format(ev))
			}
			return nil
		},
	}

	watchCmd.Flags().StringVar(&logFile, "log-file", "", "JSON log file to follow. (Defaults to logger.log_file)")
	watchCmd.Flags().BoolVar(&fromStart, "from-start", false, "Replay the file from the beginning.")
	return watchCmd
}
