package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/varstore/cmd/bench"
	"github.com/ValentinKolb/varstore/cmd/inspect"
	"github.com/ValentinKolb/varstore/cmd/util"
	"github.com/ValentinKolb/varstore/cmd/verify"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "varstore",
		Short: "crash-safe record storage",
		Long: fmt.Sprintf(`varstore (v%s)

A crash-safe, per-key record storage library written in Go, with
versioned binary records, checksummed frame files and write-coalescing
asynchronous persistence.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of varstore",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("varstore v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(inspect.InspectCmd)
	RootCmd.AddCommand(verify.VerifyCmd)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
