package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type tenant struct {
	ExternalID  string `json:"externalId"`
	InternalID  string `json:"internalId"`
	Code        string `json:"code,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Enabled     bool   `json:"enabled"`
	CreatedAt   string `json:"createdAt"`
}

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Manage gateway tenants",
}

var tenantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Tenants []tenant `json:"tenants"`
		}
		if err := newClient().getJSON("/api/admin/tenants", &result); err != nil {
			return err
		}

		if outputFmt == "json" {
			return printJSON(result.Tenants)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EXTERNAL ID\tINTERNAL ID\tNAME\tENABLED")
		for _, t := range result.Tenants {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", t.ExternalID, t.InternalID, t.DisplayName, t.Enabled)
		}
		return w.Flush()
	},
}

var (
	createInternalID  string
	createExternalID  string
	createCode        string
	createDisplayName string
)

var tenantsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{
			"internalId":  createInternalID,
			"externalId":  createExternalID,
			"code":        createCode,
			"displayName": createDisplayName,
		}
		var created tenant
		if err := newClient().postJSON("/api/admin/tenants", body, &created); err != nil {
			return err
		}
		if outputFmt == "json" {
			return printJSON(created)
		}
		fmt.Printf("created tenant %s (internal id %s)\n", created.ExternalID, created.InternalID)
		return nil
	},
}

var tenantsEnableCmd = &cobra.Command{
	Use:   "enable <tenant-guid>",
	Short: "Enable a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().postJSON("/api/admin/tenants/"+args[0]+"/enable", nil, nil); err != nil {
			return err
		}
		fmt.Printf("tenant %s enabled\n", args[0])
		return nil
	},
}

var tenantsDisableCmd = &cobra.Command{
	Use:   "disable <tenant-guid>",
	Short: "Disable a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().postJSON("/api/admin/tenants/"+args[0]+"/disable", nil, nil); err != nil {
			return err
		}
		fmt.Printf("tenant %s disabled\n", args[0])
		return nil
	},
}

var tenantsDeleteCmd = &cobra.Command{
	Use:   "delete <tenant-guid>",
	Short: "Delete a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().delete("/api/admin/tenants/" + args[0]); err != nil {
			return err
		}
		fmt.Printf("tenant %s deleted\n", args[0])
		return nil
	},
}

func init() {
	tenantsCreateCmd.Flags().StringVar(&createInternalID, "internal-id", "", "Internal tenant id (required)")
	tenantsCreateCmd.Flags().StringVar(&createExternalID, "external-id", "", "External tenant GUID (generated when omitted)")
	tenantsCreateCmd.Flags().StringVar(&createCode, "code", "", "Tenant code")
	tenantsCreateCmd.Flags().StringVar(&createDisplayName, "name", "", "Display name")
	_ = tenantsCreateCmd.MarkFlagRequired("internal-id")

	tenantsCmd.AddCommand(tenantsListCmd)
	tenantsCmd.AddCommand(tenantsCreateCmd)
	tenantsCmd.AddCommand(tenantsEnableCmd)
	tenantsCmd.AddCommand(tenantsDisableCmd)
	tenantsCmd.AddCommand(tenantsDeleteCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
