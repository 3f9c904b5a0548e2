package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/CRMbyRSM/PRSM/internal/gateway/client"
)

var callCmd = &cobra.Command{
	Use:   "call <method> [params-json]",
	Short: "Send a raw RPC request and print the response payload",
	Example: `  prsm call health
  prsm call sessions.list '{"limit": 5}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params any
		if len(args) == 2 {
			var raw json.RawMessage
			if err := json.Unmarshal([]byte(args[1]), &raw); err != nil {
				return fmt.Errorf("params must be JSON: %w", err)
			}
			params = raw
		}
		return withClient(cmd, func(ctx context.Context, rt *app, c *client.Client) error {
			payload, err := c.Call(ctx, args[0], params)
			if err != nil {
				return err
			}
			return printRawJSON(cmd.OutOrStdout(), payload)
		})
	},
}

func printRawJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		fmt.Fprintln(w, "null")
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
