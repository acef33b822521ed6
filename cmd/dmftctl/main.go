package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/dmftctl/internal/logging"
	"github.com/danmuck/dmftctl/internal/observability"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dmftctl",
		Short: "DMFT self-consistency driver",
		Long: `dmftctl runs the dynamical mean-field self-consistency loop over a
pre-processed lattice model, checkpointing every iteration so that an
interrupted calculation can be resumed.

Typical session:
  dmftctl template hubbard input.toml
  dmftctl pre input.toml
  dmftctl run input.toml
  dmftctl inspect bethe.out.db`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
			observability.RegisterMetrics()
		},
	}
	root.AddCommand(
		newRunCmd(),
		newPreCmd(),
		newInspectCmd(),
		newTemplateCmd(),
		newValidateCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dmftctl: %v\n", err)
		os.Exit(1)
	}
}
