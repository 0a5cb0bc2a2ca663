package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "thorplan",
	Short: "AI2-THOR household action planner",
	Long: `thorplan turns household-robot trials into AI2-THOR action sequences.

A trial carries a task id, a natural-language goal and optional scene metadata
and action history. The planner asks a language model for the next actions,
keeps only calls that belong to the simulator vocabulary, and answers over the
A2A protocol (serve) or on the terminal (plan).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func main() {
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func registerCommands() {
	rootCmd.PersistentFlags().String("env-file", ".env", "optional dotenv file loaded before the environment is read")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(vocabCmd())
}
