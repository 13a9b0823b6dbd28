package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipeboard/pipeboard/internal/domain"
	"github.com/pipeboard/pipeboard/internal/service/lifecycle"
)

func (c *cli) newJourneyCmd() *cobra.Command {
	var kindRaw string
	cmd := &cobra.Command{
		Use:   "journey ID",
		Short: "Print the stage journey of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := c.owner()
			if err != nil {
				return err
			}
			kind, err := domain.ParseKind(kindRaw)
			if err != nil {
				return err
			}
			store, closeStore, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			nodes, err := lifecycle.New(store, lifecycle.Options{}).Journey(cmd.Context(), owner, kind, args[0])
			if err != nil {
				return err
			}
			return printJourney(cmd.OutOrStdout(), nodes)
		},
	}
	cmd.Flags().StringVar(&kindRaw, "kind", "job", "record kind: job or relationship")
	return cmd
}

func printJourney(out io.Writer, nodes []domain.JourneyNode) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSINCE\tMARK")
	for _, n := range nodes {
		mark := ""
		switch {
		case n.IsStart:
			mark = "start"
		case n.IsCurrent:
			mark = "current"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", n.Stage, n.Timestamp.UTC().Format(time.RFC3339), mark)
	}
	return tw.Flush()
}

func (c *cli) newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List the stages of each record kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, kind := range []domain.Kind{domain.KindJob, domain.KindRelationship} {
				fmt.Fprintf(out, "%s (default %s):", kind, domain.DefaultStage(kind))
				for _, s := range domain.Stages(kind) {
					fmt.Fprintf(out, " %s", s)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}
