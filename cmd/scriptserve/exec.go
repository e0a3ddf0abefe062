package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/codefionn/scriptserve/internal/consts"
	"github.com/codefionn/scriptserve/internal/payload"
	"github.com/codefionn/scriptserve/internal/socketclient"
	"github.com/codefionn/scriptserve/internal/socketserver"
)

var (
	clientAddr    string
	clientFormat  string
	clientTimeout time.Duration
	execRaw       bool
)

// execCmd sends one script to a running server and prints the result.
var execCmd = &cobra.Command{
	Use:   "exec [file]",
	Short: "Run a script on a script server",
	Long: `Send a script to a running script server and print its result as
JSON. The script is read from file, or from stdin when no file is given
or file is "-".

The exit status is 1 when the script failed on the server.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "-"
		if len(args) == 1 {
			path = args[0]
		}

		script, err := readScript(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}
		return runExec(cmd.Context(), cmd.OutOrStdout(), script)
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
	addClientFlags(execCmd)
	execCmd.Flags().BoolVar(&execRaw, "raw", false, "Print the response payload as received")
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&clientAddr, "addr", socketserver.DefaultAddress(), "Script server address")
	cmd.Flags().StringVar(&clientFormat, "format", string(payload.FormatJSON), "Payload format the server responds with: json (A) or cbor (B)")
	cmd.Flags().DurationVar(&clientTimeout, "timeout", consts.Timeout30Seconds, "Request timeout, 0 for none")
}

// readScript reads the script at path, or from in for "-". An interactive
// terminal on stdin is rejected since there is nothing to read.
func readScript(in io.Reader, path string) (string, error) {
	if path != "-" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read script: %w", err)
		}
		return string(data), nil
	}

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("no script given: pass a file or pipe the script to stdin")
	}

	data, err := io.ReadAll(io.LimitReader(in, consts.MaxScriptSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read script from stdin: %w", err)
	}
	return string(data), nil
}

func runExec(ctx context.Context, out io.Writer, script string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	format, err := payload.ParseFormat(clientFormat)
	if err != nil {
		return err
	}

	client, err := socketclient.Dial(ctx, clientAddr, socketclient.Options{
		Format:         format,
		RequestTimeout: clientTimeout,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	doc, err := client.Exec(ctx, script)
	if err != nil {
		return err
	}

	if execRaw {
		return printDocument(out, doc)
	}

	if !doc.Success {
		return &socketclient.RemoteError{Message: doc.Msg}
	}

	value, err := client.Serializer().DecodeResult(doc)
	if err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

// printDocument writes the response fields without decoding the result
func printDocument(out io.Writer, doc payload.Document) error {
	if _, err := fmt.Fprintf(out, "success: %t\n", doc.Success); err != nil {
		return err
	}
	if doc.Msg != "" {
		if _, err := fmt.Fprintf(out, "msg: %s\n", doc.Msg); err != nil {
			return err
		}
	}
	if doc.Result != nil {
		if _, err := fmt.Fprintf(out, "result: %x\n", doc.Result); err != nil {
			return err
		}
	}
	return nil
}
