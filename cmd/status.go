package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
	"github.com/xkilldash9x/spicy-cat/internal/config"
	"github.com/xkilldash9x/spicy-cat/internal/status"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the agent's last published status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			st, err := status.Read(cfg.Status.Path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			fmt.Fprintf(out, "state:        %s\n", st.State)
			fmt.Fprintf(out, "profile:      %s (%s, ttl %d, %s)\n", st.CurrentProfileID, st.Platform, st.TTL, st.Timezone)
			fmt.Fprintf(out, "threat:       %d (%s)\n", st.ThreatLevel, schemas.BandFor(st.ThreatLevel))
			fmt.Fprintf(out, "telemetry:    %t, %d decoys\n", st.TelemetryEnabled, st.DecoyEvents)
			fmt.Fprintf(out, "rotations:    %d, last %s\n", st.Rotations, formatTime(st.LastRotationTime))
			fmt.Fprintf(out, "updated:      %s\n", formatTime(st.UpdatedAt))
			if reason := status.Stale(st, time.Now(), cfg.Health.MaxAge, cfg.Agent.Enabled); reason != "" {
				fmt.Fprintf(out, "warning:      %s\n", reason)
			}
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status document")
	return statusCmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", t.Local().Format(time.RFC3339), time.Since(t).Round(time.Second))
}
