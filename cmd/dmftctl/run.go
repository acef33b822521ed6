package main

import (
	"fmt"

	"github.com/danmuck/dmftctl/internal/config"
	"github.com/danmuck/dmftctl/internal/dmft"
	"github.com/danmuck/dmftctl/internal/preproc"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var ranks int
	var restart bool
	cmd := &cobra.Command{
		Use:   "run <input.toml>",
		Short: "Run the self-consistency loop",
		Long: `Loads the input file and the model archive <seedname>.db, then runs
control.max_step iterations, writing every iteration to <seedname>.out.db.
With control.restart (or --restart) the run continues after the last
iteration stored in the output archive.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ranks") {
				p.System.Ranks = ranks
			}
			if restart {
				p.Control.Restart = true
			}
			if err := p.Validate(); err != nil {
				return err
			}
			log.Info().
				Str("input", args[0]).
				Str("output", p.OutputFile()).
				Str("solver", p.ImpuritySolver.Name).
				Int("ranks", p.System.Ranks).
				Bool("restart", p.Control.Restart).
				Msg("run starting")
			sum, err := dmft.Execute(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: iterations %d-%d, mu=%.8g, residual=%.3e\n",
				sum.RunID, sum.First, sum.Last, sum.Mu, sum.Residual)
			return nil
		},
	}
	cmd.Flags().IntVar(&ranks, "ranks", 1, "number of ranks, overrides system.ranks")
	cmd.Flags().BoolVar(&restart, "restart", false, "resume from the output archive")
	return cmd
}

func newPreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pre <input.toml>",
		Short: "Write the model archive for an input file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := preproc.Write(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p.ModelFile())
			return nil
		},
	}
}
