package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codefionn/scriptserve/internal/consts"
	"github.com/codefionn/scriptserve/internal/socketclient"
	"github.com/codefionn/scriptserve/internal/socketserver"
)

var pingAddr string

// pingCmd checks that a script server accepts connections.
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that a script server is listening",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithTimeout(ctx, consts.Timeout5Seconds)
		defer cancel()

		if err := socketclient.Probe(ctx, pingAddr); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is up\n", pingAddr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().StringVar(&pingAddr, "addr", socketserver.DefaultAddress(), "Script server address")
}
