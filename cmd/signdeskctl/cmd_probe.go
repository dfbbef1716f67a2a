package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/signdesk/internal/agent"
	"github.com/spf13/cobra"
)

var (
	probeResponder string
	probeTimeout   time.Duration
)

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeResponder, "responder", envOr("RESPONDER_ADDR", ""), "responder gRPC address to health-check")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Second, "timeout per check")
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check which storage tier is serving and whether the responder is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		coord, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer coord.Close()

		if coord.PrimaryReachable() {
			fmt.Fprintln(out, "primary:   ok")
		} else {
			fmt.Fprintln(out, "primary:   unreachable (writes go to fallback)")
		}
		fmt.Fprintf(out, "fallback:  %s\n", fallbackDir)

		if probeResponder == "" {
			fmt.Fprintln(out, "responder: not configured")
			return nil
		}
		client, err := agent.NewGrpcClient(ctx, agent.Config{
			Address:        probeResponder,
			ConnectTimeout: probeTimeout,
		}, nil)
		if err != nil {
			fmt.Fprintf(out, "responder: unreachable (%v)\n", err)
			return fmt.Errorf("responder probe failed")
		}
		defer client.Close()

		hctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		state, err := client.Health(hctx)
		if err != nil {
			fmt.Fprintf(out, "responder: %v\n", err)
			return fmt.Errorf("responder probe failed")
		}
		fmt.Fprintf(out, "responder: %s\n", state)
		return nil
	},
}
