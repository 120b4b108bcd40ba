package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/voltscope/voltscope/link"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List available resources",
	Long:    `List serial ports and other resources available to voltscope.`,
	GroupID: "info",
}

var listPortsCmd = &cobra.Command{
	Use:     "ports",
	Short:   "List available serial ports",
	Long:    `Display a list of serial ports available for instrument connection.`,
	Example: `  voltscope list ports`,
	Aliases: []string{"serial"},
	RunE:    runListPorts,
}

func init() {
	listCmd.AddCommand(listPortsCmd)
}

// runListPorts enumerates the serial ports once
func runListPorts(cmd *cobra.Command, args []string) error {
	ports, err := link.ScanPorts()
	if err != nil {
		return fmt.Errorf("error listing ports: %w", err)
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}

	fmt.Println("Available serial ports:")
	fmt.Println(strings.Repeat("-", 60))
	for i, p := range ports {
		fmt.Printf("%d. %s\n", i+1, p.Name)
		if p.Description != "" {
			fmt.Printf("   Description: %s\n", p.Description)
		}
		fmt.Println()
	}
	return nil
}
