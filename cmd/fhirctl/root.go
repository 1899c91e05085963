package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverURL string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "fhirctl",
	Short: "CLI for the FHIR gateway admin API",
	Long: `fhirctl manages a running FHIR gateway through its admin API.

It covers tenant administration (create, enable, disable, delete),
plugin introspection, and health checks.

Defaults are read from ~/.fhirctl.yaml and FHIRCTL_* environment
variables; flags override both.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("server") {
			if v := viper.GetString("server"); v != "" {
				serverURL = v
			}
		}
		if !cmd.Flags().Changed("output") {
			if v := viper.GetString("output"); v != "" {
				outputFmt = v
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Gateway server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json")

	viper.SetConfigName(".fhirctl")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.SetEnvPrefix("FHIRCTL")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	rootCmd.AddCommand(tenantsCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(healthCmd)
}
