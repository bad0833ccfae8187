package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	sqlitestore "github.com/JakeFAU/hn-archive-crawler/internal/storage/sqlite"
)

func newSegmentsCmd(env *runEnv) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "segments",
		Short: "Lists the segments a run recorded in the SQLite manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if env.cfg.Manifest.Backend != "sqlite" {
				return errors.New("segments requires manifest.backend=sqlite")
			}
			if runID == "" {
				return errors.New("--run is required")
			}
			m, err := sqlitestore.Open(env.cfg.Manifest.SQLitePath)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			segments, err := m.Segments(cmd.Context(), runID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, s := range segments {
				if err := enc.Encode(s); err != nil {
					return fmt.Errorf("write segment: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id to list")
	return cmd
}
