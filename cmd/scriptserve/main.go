package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "scriptserve",
	Short: "Script execution server",
	Long: `Scriptserve accepts scripts over TCP, runs each one in a fresh
interpreter and answers with a JSON or CBOR encoded result.

A request is the script body framed by a "#!{" line and a "#!}" line.
A "#!exit" line ends the session.

Use 'scriptserve help <command>' for more information on a specific command.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
