// Command gcancel cancels a job tracked by gflowd.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AndPuQing/gflow/pkg/cliclient"
)

var (
	daemonAddr string
	reason     string
)

func main() {
	root := &cobra.Command{
		Use:   "gcancel <job-id>",
		Short: "cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
	root.Flags().StringVar(&daemonAddr, "daemon", "http://127.0.0.1:7777", "gflowd address")
	root.Flags().StringVar(&reason, "reason", "", "reason recorded against the cancellation")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", args[0], err)
	}

	c := cliclient.New(daemonAddr)
	body := struct {
		Reason string `json:"reason"`
	}{Reason: reason}

	if err := c.Post(cmd.Context(), fmt.Sprintf("/jobs/%d/cancel", id), body, nil); err != nil {
		return err
	}
	fmt.Printf("cancelled job %d\n", id)
	return nil
}
