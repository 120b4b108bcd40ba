package cmd

import (
	"github.com/spf13/cobra"
	"github.com/voltscope/voltscope/internal/app"
)

// monitor command flags
var (
	monitorBaud        int
	monitorRetention   float64
	monitorFilter      string
	monitorRecord      bool
	monitorParticipant int
	monitorDataDir     string
	monitorWidth       int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <port>",
	Short: "Live acquisition from a serial port",
	Long: `Connect to the instrument on a serial port, decode the two-channel
sample stream, and display live readings and sliding-window statistics.
With --record, samples are also written to a durable session record file.`,
	Example: `  voltscope monitor /dev/ttyUSB0
  voltscope monitor /dev/ttyUSB0 -b 9600 --retention 30
  voltscope monitor /dev/ttyUSB0 -Y "va > 2.5"
  voltscope monitor /dev/ttyUSB0 --record -p 7 -d ./data`,
	Args:    cobra.ExactArgs(1),
	GroupID: "acquire",
	RunE:    runMonitor,
}

func init() {
	monitorCmd.Flags().IntVarP(&monitorBaud, "baud", "b", 115200,
		"Serial baud rate")
	monitorCmd.Flags().Float64Var(&monitorRetention, "retention", 10,
		"Display buffer retention in seconds")
	monitorCmd.Flags().StringVarP(&monitorFilter, "filter", "Y", "",
		"Sample filter expression (fields: t, elapsed, va, vb)")
	monitorCmd.Flags().BoolVar(&monitorRecord, "record", false,
		"Record samples to a session file")
	monitorCmd.Flags().IntVarP(&monitorParticipant, "participant", "p", 0,
		"Participant id for recording")
	monitorCmd.Flags().StringVarP(&monitorDataDir, "data-dir", "d", "data",
		"Directory for record files and ledgers")
	monitorCmd.Flags().IntVar(&monitorWidth, "width", 60,
		"Width of the terminal trace in characters")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	return app.RunMonitor(app.MonitorConfig{
		Port:             args[0],
		Baud:             monitorBaud,
		RetentionSeconds: monitorRetention,
		FilterExpr:       monitorFilter,
		Record:           monitorRecord,
		ParticipantID:    monitorParticipant,
		DataDir:          monitorDataDir,
		DisplayPoints:    monitorWidth,
	})
}
