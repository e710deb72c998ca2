package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSeedSettingsCommand(rt *env) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-settings",
		Short: "Store business hours and the open-session cap from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := rt.settings.Seed(cmd.Context(), file)
			if err != nil {
				return err
			}
			h := st.BusinessHours
			fmt.Fprintf(cmd.OutOrStdout(), "ayarlar kaydedildi: %s-%s (ertesi gün: %t, %s), en fazla %d açık kasa\n",
				h.StartTime, h.EndTime, h.EndIsNextDay, h.TimeZone, st.MaxConcurrentOpenSessions)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML settings file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
