package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/voltscope/voltscope/backup"
	"github.com/voltscope/voltscope/pkg/store/sqlite"
)

// sync command flags
var (
	syncDataDir string
	syncDBPath  string
	syncWatch   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Consolidate record files into the SQLite store",
	Long: `Synchronize the recorder's CSV output into the consolidated SQLite
database. One pass ingests the participant and session ledgers plus any
record-file rows not yet consolidated; progress markers make repeated runs
idempotent. With --watch, voltscope keeps running and synchronizes
automatically as record files grow.`,
	Example: `  voltscope sync -d ./data --db backup.db
  voltscope sync -d ./data --db backup.db --watch`,
	GroupID: "storage",
	RunE:    runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&syncDataDir, "data-dir", "d", "data",
		"Directory holding record files and ledgers")
	syncCmd.Flags().StringVar(&syncDBPath, "db", "backup.db",
		"Path to the consolidated SQLite database")
	syncCmd.Flags().BoolVarP(&syncWatch, "watch", "w", false,
		"Keep running and synchronize on file changes")
}

func runSync(cmd *cobra.Command, args []string) error {
	st, err := sqlite.New(sqlite.Config{DBPath: syncDBPath, WAL: true})
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	defer st.Close()

	s, err := backup.NewSynchronizer(backup.Config{DataDir: syncDataDir, Store: st})
	if err != nil {
		return err
	}

	// Status events to stderr so stdout stays clean for listings.
	go func() {
		for ev := range s.Status() {
			prefix := "sync"
			if !ev.OK {
				prefix = "sync error"
			}
			fmt.Fprintf(os.Stderr, "[%s] %s\n", prefix, ev.Message)
		}
	}()

	if !syncWatch {
		return s.SyncAll()
	}

	w, err := backup.NewWatcher(s)
	if err != nil {
		return err
	}
	w.Start()
	fmt.Printf("Watching %s. Press Ctrl+C to stop.\n", syncDataDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("\nStopping...")
	w.Stop()
	return nil
}
