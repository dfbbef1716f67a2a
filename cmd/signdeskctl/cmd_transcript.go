package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var transcriptJSON bool

func init() {
	rootCmd.AddCommand(transcriptCmd)
	transcriptCmd.Flags().BoolVar(&transcriptJSON, "json", false, "print the session document as JSON")
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript <session_id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		coord, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer coord.Close()

		sess, env := coord.GetSession(ctx, args[0])
		if !env.OK() {
			return fmt.Errorf("read session: %w", env.Err)
		}
		out := cmd.OutOrStdout()
		if sess == nil {
			return fmt.Errorf("session not found: %s", args[0])
		}

		if transcriptJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(sess)
		}

		fmt.Fprintf(out, "Session:  %s\n", args[0])
		fmt.Fprintf(out, "Email:    %s\n", sess.Email)
		fmt.Fprintf(out, "Contact:  %s\n", sess.ContactID)
		fmt.Fprintf(out, "Tier:     %s\n", env.Tier)
		fmt.Fprintf(out, "Messages: %d\n\n", sess.MessageCount())

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tROLE\tCONTENT")
		for i, m := range sess.Messages {
			fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, m.Role, m.Content)
		}
		return w.Flush()
	},
}
