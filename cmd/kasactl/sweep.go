package main

import (
	"fmt"

	"kasa-backend/internal/autoclose"
	"kasa-backend/internal/models"

	"github.com/spf13/cobra"
)

func newSweepCommand(rt *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Close every open session whose business day ended more than the tolerance ago",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := autoclose.New(rt.sessions, models.SystemActor("kasactl@"+rt.cfg.InstanceID), rt.log,
				autoclose.WithSource(rt.sessions))

			closed, err := s.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d oturum otomatik kapatıldı\n", len(closed))
			for _, id := range closed {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
}
