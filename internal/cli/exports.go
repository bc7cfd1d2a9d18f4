package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"chatbridge/internal/domain"
	"chatbridge/internal/repository"
)

func newExportsCommand(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "exports [target]",
		Short: "List recent exports from the ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := []domain.ExportTarget{domain.ExportNotion, domain.ExportFeishu}
			if len(args) == 1 {
				t, ok := domain.ParseExportTarget(args[0])
				if !ok {
					return fmt.Errorf("unknown export target %q", args[0])
				}
				targets = []domain.ExportTarget{t}
			}

			rt, err := setup(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			if rt.ledger == nil {
				return errors.New("no export ledger configured; set ledger.table")
			}

			var recs []domain.ExportRecord
			var summaries []repository.Summary
			for _, t := range targets {
				got, err := rt.ledger.ListExports(cmd.Context(), t, limit)
				if err != nil {
					return err
				}
				recs = append(recs, got...)
				summary, err := rt.ledger.GetSummary(cmd.Context(), t)
				if err != nil {
					return err
				}
				summaries = append(summaries, summary)
			}
			fmt.Fprintln(cmd.OutOrStdout(), exportsTable(recs, summaries))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "records per target")
	return cmd
}

func exportsTable(recs []domain.ExportRecord, summaries []repository.Summary) string {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("TARGET", "DOCUMENT", "MESSAGES", "BLOCKS", "EXPORTED")
	for _, r := range recs {
		table.AddRow(r.Target, r.DocumentID, r.Messages, r.Blocks, r.ExportedAt.Local().Format(time.DateTime))
	}
	table.AddRow("")
	for _, s := range summaries {
		last := "never"
		if !s.LastExportAt.IsZero() {
			last = s.LastExportAt.Local().Format(time.DateTime)
		}
		table.AddRow(s.Target, fmt.Sprintf("%d exports", s.Exports), "", "", last)
	}
	return table.String()
}
