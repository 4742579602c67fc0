package cmd

import (
	"fmt"
	"os"

	"github.com/avollmer/strataKV/cmd/bench"
	"github.com/avollmer/strataKV/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "strata",
		Short: "tiered multi-version key-value storage engine",
		Long: fmt.Sprintf(`strataKV (v%s)

A tiered, multi-version key-value storage engine written in Go,
with snapshot reads, version retention and a pollable change stream.`, Version),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			util.InitLogging()
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of strataKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("strataKV v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("log level to use (debug, info, warn, error)"))

	// Read environment configuration once
	util.InitConfig()
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
