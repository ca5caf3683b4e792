// Command gctl controls the GPU allow-list and per-group concurrency
// limits on a running gflowd.
package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/AndPuQing/gflow/pkg/cliclient"
)

var daemonAddr string

func main() {
	root := &cobra.Command{
		Use:   "gctl",
		Short: "control gflowd's GPU allow-list and group limits",
	}
	root.PersistentFlags().StringVar(&daemonAddr, "daemon", "http://127.0.0.1:7777", "gflowd address")

	showGPUs := &cobra.Command{
		Use:   "show-gpus",
		Short: "print detected GPUs and their allow-list status",
		RunE:  runShowGPUs,
	}
	setGPUs := &cobra.Command{
		Use:   "set-gpus SPEC",
		Short: "restrict dispatch to the given GPU spec, e.g. \"all\" or \"0,2-3\"",
		Args:  cobra.ExactArgs(1),
		RunE:  runSetGPUs,
	}
	setLimit := &cobra.Command{
		Use:   "set-limit GROUP N",
		Short: "cap concurrent Running jobs sharing GROUP to N",
		Args:  cobra.ExactArgs(2),
		RunE:  runSetLimit,
	}

	root.AddCommand(showGPUs, setGPUs, setLimit)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type gpuStatus struct {
	ID         int  `json:"id"`
	Busy       bool `json:"busy"`
	Restricted bool `json:"restricted"`
}

type gpusView struct {
	Allowed  []int       `json:"allowed"`
	Detected []gpuStatus `json:"detected"`
}

func runShowGPUs(cmd *cobra.Command, args []string) error {
	c := cliclient.New(daemonAddr)
	var view gpusView
	if err := c.Get(cmd.Context(), "/gpus", &view); err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("GPU", "Busy", "Restricted")
	for _, g := range view.Detected {
		table.Append(strconv.Itoa(g.ID), strconv.FormatBool(g.Busy), strconv.FormatBool(g.Restricted))
	}
	table.Render()
	return nil
}

func runSetGPUs(cmd *cobra.Command, args []string) error {
	c := cliclient.New(daemonAddr)
	body := struct {
		Spec string `json:"spec"`
	}{Spec: args[0]}
	if err := c.Post(cmd.Context(), "/gpus/allowed", body, nil); err != nil {
		return err
	}
	fmt.Printf("allowed GPUs set to %q\n", args[0])
	return nil
}

func runSetLimit(cmd *cobra.Command, args []string) error {
	limit, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid limit %q: %w", args[1], err)
	}

	c := cliclient.New(daemonAddr)
	body := struct {
		Limit int `json:"limit"`
	}{Limit: limit}
	if err := c.Post(cmd.Context(), fmt.Sprintf("/groups/%s/limit", url.PathEscape(args[0])), body, nil); err != nil {
		return err
	}
	fmt.Printf("group %q limit set to %d\n", args[0], limit)
	return nil
}
