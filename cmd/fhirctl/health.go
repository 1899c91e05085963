package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check gateway health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status struct {
			Status string `json:"status"`
		}
		if err := newClient().getJSON("/readyz", &status); err != nil {
			return err
		}
		fmt.Printf("server: %s\nstatus: %s\n", serverURL, status.Status)
		return nil
	},
}
