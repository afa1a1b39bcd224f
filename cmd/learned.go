// cmd/learned.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gauntlet-cli/internal/config"
	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
	"github.com/xkilldash9x/gauntlet-cli/internal/learned"
	"github.com/xkilldash9x/gauntlet-cli/internal/observability"
)

// storeProvider opens the learned store. Tests inject an in-memory one.
type storeProvider interface {
	Create(ctx context.Context, cfg config.Interface, dir string) (learned.Store, error)
}

type defaultStoreProvider struct{}

func (defaultStoreProvider) Create(ctx context.Context, cfg config.Interface, dir string) (learned.Store, error) {
	return learned.New(ctx, cfg, dir, observability.GetLogger())
}

// newLearnedCmd creates the `learned` command group.
func newLearnedCmd(provider storeProvider) *cobra.Command {
	var dir string

	learnedCmd := &cobra.Command{
		Use:   "learned",
		Short: "Inspect or reset the per-stage source map",
	}
	learnedCmd.PersistentFlags().StringVar(&dir, "dir", "", "Run directory holding learned.json (file backend).")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print which source solved each stage last time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			store, err := provider.Create(ctx, cfg, dir)
			if err != nil {
				return fmt.Errorf("failed to open learned store: %w", err)
			}
			defer store.Close()

			methods, err := store.Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load learned sources: %w", err)
			}
			return printLearned(cmd.OutOrStdout(), methods)
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget every learned source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			store, err := provider.Create(ctx, cfg, dir)
			if err != nil {
				return fmt.Errorf("failed to open learned store: %w", err)
			}
			defer store.Close()

			if err := store.Reset(ctx); err != nil {
				return fmt.Errorf("failed to reset learned sources: %w", err)
			}
			observability.GetLogger().Info("Learned sources reset.", zap.String("backend", string(cfg.Learned().Backend)))
			fmt.Fprintln(cmd.OutOrStdout(), "Learned sources cleared.")
			return nil
		},
	}

	learnedCmd.AddCommand(showCmd, resetCmd)
	return learnedCmd
}

func printLearned(w io.Writer, methods map[int]engine.Source) error {
	if len(methods) == 0 {
		_, err := fmt.Fprintln(w, "Nothing learned yet.")
		return err
	}
	stages := make([]int, 0, len(methods))
	for s := range methods {
		stages = append(stages, s)
	}
	sort.Ints(stages)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSOURCE")
	for _, s := range stages {
		fmt.Fprintf(tw, "%d\t%s\n", s, methods[s])
	}
	return tw.Flush()
}
