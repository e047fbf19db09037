package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/spicy-cat/internal/config"
	"github.com/xkilldash9x/spicy-cat/internal/observability"
	"github.com/xkilldash9x/spicy-cat/internal/store"
)

func newJournalCmd() *cobra.Command {
	var (
		agentID string
		limit   int
	)

	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "List recent profile rotations from the Postgres journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Get()
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("no journal configured: set postgres.url or DATABASE_URL")
			}

			pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			journal, err := store.New(ctx, pool, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to initialize journal: %w", err)
			}

			recs, err := journal.RecentRotations(ctx, agentID, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROTATED AT\tTRIGGER\tPROFILE\tPLATFORM\tTTL\tTIMEZONE\tTHREAT")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%d\n",
					r.RotatedAt.Local().Format(time.RFC3339), r.Trigger, r.ProfileID,
					r.Platform, r.TTL, r.Timezone, r.ThreatBefore)
			}
			return w.Flush()
		},
	}

	journalCmd.Flags().StringVar(&agentID, "agent-id", "", "only show rotations of this agent")
	journalCmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultListLimit, "maximum rows")
	return journalCmd
}
