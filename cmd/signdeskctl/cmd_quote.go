package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/signdesk/internal/transcript"
	"github.com/spf13/cobra"
)

var quoteJSON bool

func init() {
	rootCmd.AddCommand(quoteCmd)
	quoteCmd.Flags().BoolVar(&quoteJSON, "json", false, "print the quote document as JSON")
}

var quoteCmd = &cobra.Command{
	Use:   "quote <session_id>",
	Short: "Print the quote submitted in a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		coord, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer coord.Close()

		q, env := coord.GetQuote(ctx, args[0])
		if !env.OK() {
			return fmt.Errorf("read quote: %w", env.Err)
		}
		if q == nil {
			return fmt.Errorf("no quote for session: %s", args[0])
		}
		out := cmd.OutOrStdout()

		if quoteJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(q)
		}

		fmt.Fprintf(out, "Quote:   %s\n", q.ID)
		fmt.Fprintf(out, "Email:   %s\n", q.Email)
		fmt.Fprintf(out, "Status:  %s\n", q.Status)
		fmt.Fprintf(out, "Updated: %s\n", q.UpdatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintln(out, strings.TrimLeft(transcript.Build(nil, args[0], q), "\n"))
		return nil
	},
}
