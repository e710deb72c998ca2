package main

import (
	"fmt"
	"os"
	"time"

	"kasa-backend/internal/cashsession"
	"kasa-backend/internal/models"
	"kasa-backend/internal/report"

	"github.com/spf13/cobra"
)

type exportOptions struct {
	from string
	to   string
	out  string
}

func newExportCommand(rt *env) *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write closed sessions opened between --from and --to (inclusive) to an xlsx file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := time.ParseInLocation("2006-01-02", opts.from, rt.loc)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			to, err := time.ParseInLocation("2006-01-02", opts.to, rt.loc)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if to.Before(from) {
				return fmt.Errorf("--to is before --from")
			}
			end := to.AddDate(0, 0, 1)

			list, err := rt.sessions.List(cmd.Context(), cashsession.Filter{
				State: models.SessionClosed,
				From:  &from,
				To:    &end,
			})
			if err != nil {
				return err
			}

			path := opts.out
			if path == "" {
				path = report.Filename(from, to)
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := report.Write(f, list, rt.loc); err != nil {
				f.Close()
				return fmt.Errorf("write report: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d oturum yazıldı: %s\n", len(list), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.to, "to", "", "last day (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output file (default kasa-oturumlari_<from>_<to>.xlsx)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
