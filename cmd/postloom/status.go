package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the daemon health",
	RunE: func(cmd *cobra.Command, args []string) error {
		health, err := CheckHealth()
		if health != nil {
			fmt.Printf("Daemon:   %s\n", apiAddr)
			fmt.Printf("Version:  %s\n", health.Version)
			fmt.Printf("Database: %s\n", health.DB)
			fmt.Printf("Time:     %s\n", health.Time)
		}
		return err
	},
}
