package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/voltscope/voltscope/pkg/store/sqlite"
)

// sessions command flags
var sessionsDBPath string

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Short:   "List consolidated sessions",
	Long:    `Display the sessions stored in the consolidated database with their measurement counts.`,
	Example: `  voltscope sessions --db backup.db`,
	GroupID: "storage",
	RunE:    runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsDBPath, "db", "backup.db",
		"Path to the consolidated SQLite database")
}

func runSessions(cmd *cobra.Command, args []string) error {
	st, err := sqlite.New(sqlite.Config{DBPath: sessionsDBPath, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	defer st.Close()

	sums, err := st.Sessions()
	if err != nil {
		return fmt.Errorf("error listing sessions: %w", err)
	}

	if len(sums) == 0 {
		fmt.Println("No sessions stored.")
		return nil
	}

	fmt.Printf("%-8s %-12s %-20s %-10s %s\n",
		"Session", "Participant", "Started", "Samples", "File")
	fmt.Println(strings.Repeat("-", 80))
	for _, s := range sums {
		started := time.Unix(int64(s.StartedAt), 0).Format("2006-01-02 15:04:05")
		fmt.Printf("%-8d %-12d %-20s %-10d %s\n",
			s.SessionID, s.ParticipantID, started, s.Measurements, s.DataFile)
	}
	return nil
}
