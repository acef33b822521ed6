package main

import (
	"fmt"

	"github.com/danmuck/dmftctl/internal/config"
	"github.com/spf13/cobra"
)

func newTemplateCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "template <hubbard|t2g> [path]",
		Short: "Write a starter input file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			target := kind + ".toml"
			if len(args) == 2 {
				target = args[1]
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, target)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <input.toml>",
		Short: "Check an input file and print the resolved parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(args[0])
			if err != nil {
				return err
			}
			out, err := p.Encode()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
