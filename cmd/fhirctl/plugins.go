package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type pluginInfo struct {
	Name        string `json:"name"`
	Mode        string `json:"mode"`
	Priority    int    `json:"priority"`
	Descriptors []struct {
		ResourceType  string `json:"resourceType,omitempty"`
		Operation     string `json:"operation,omitempty"`
		OperationCode string `json:"operationCode,omitempty"`
		Version       string `json:"version,omitempty"`
		Specificity   int    `json:"specificity"`
	} `json:"descriptors"`
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List registered plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Plugins []pluginInfo `json:"plugins"`
		}
		if err := newClient().getJSON("/api/admin/plugins", &result); err != nil {
			return err
		}

		if outputFmt == "json" {
			return printJSON(result.Plugins)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMODE\tPRIORITY\tDESCRIPTORS")
		for _, p := range result.Plugins {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", p.Name, p.Mode, p.Priority, len(p.Descriptors))
		}
		return w.Flush()
	},
}
