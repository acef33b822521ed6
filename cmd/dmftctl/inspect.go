package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/danmuck/dmftctl/internal/checkpoint"
	"github.com/danmuck/dmftctl/internal/dmft"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type iterationSummary struct {
	Iteration int     `yaml:"iteration"`
	Mu        float64 `yaml:"chemical_potential"`
	Residual  float64 `yaml:"sigma_residual"`
}

type archiveSummary struct {
	File       string             `yaml:"file"`
	Group      string             `yaml:"group"`
	RunID      string             `yaml:"run_id,omitempty"`
	Iterations int                `yaml:"iterations"`
	History    []iterationSummary `yaml:"history"`
}

func newInspectCmd() *cobra.Command {
	var group, format string
	cmd := &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Summarise the iterations stored in an output archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			a, err := checkpoint.Open(args[0])
			if err != nil {
				return err
			}
			defer a.Close()
			s, err := summarise(cmd.Context(), a, group)
			if err != nil {
				return err
			}
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(s); err != nil {
					return err
				}
				return enc.Close()
			case "text":
				return printSummary(cmd.OutOrStdout(), s)
			default:
				return fmt.Errorf("unknown format %q (text|yaml)", format)
			}
		},
	}
	cmd.Flags().StringVar(&group, "group", "dmft_out", "output group inside the archive")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text|yaml")
	return cmd
}

func summarise(ctx context.Context, a *checkpoint.Archive, group string) (archiveSummary, error) {
	s := archiveSummary{File: a.File(), Group: group}
	n, err := a.Int(ctx, checkpoint.Join(group, dmft.EntryIterations))
	if errors.Is(err, checkpoint.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	s.Iterations = n
	if s.RunID, err = a.Text(ctx, checkpoint.Join(group, dmft.EntryRunID)); err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return s, err
	}
	for it := 1; it <= n; it++ {
		key := strconv.Itoa(it)
		mu, err := a.Float(ctx, checkpoint.Join(group, dmft.EntryMu, key))
		if errors.Is(err, checkpoint.ErrNotFound) {
			continue
		}
		if err != nil {
			return s, err
		}
		res, err := a.Float(ctx, checkpoint.Join(group, dmft.EntryResidual, key))
		if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
			return s, err
		}
		s.History = append(s.History, iterationSummary{Iteration: it, Mu: mu, Residual: res})
	}
	return s, nil
}

func printSummary(w io.Writer, s archiveSummary) error {
	fmt.Fprintf(w, "archive:    %s\n", s.File)
	fmt.Fprintf(w, "group:      %s\n", s.Group)
	fmt.Fprintf(w, "run id:     %s\n", s.RunID)
	fmt.Fprintf(w, "iterations: %d\n", s.Iterations)
	if len(s.History) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITERATION\tMU\tRESIDUAL")
	for _, h := range s.History {
		fmt.Fprintf(tw, "%d\t%.8g\t%.3e\n", h.Iteration, h.Mu, h.Residual)
	}
	return tw.Flush()
}
