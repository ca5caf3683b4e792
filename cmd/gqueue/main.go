// Command gqueue lists jobs known to gflowd.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/AndPuQing/gflow/pkg/cliclient"
	"github.com/AndPuQing/gflow/pkg/models"
)

var (
	daemonAddr string
	states     string
	names      string
	limit      int
	jsonOut    bool
)

func main() {
	root := &cobra.Command{
		Use:   "gqueue",
		Short: "list jobs tracked by gflowd",
		RunE:  runList,
	}
	root.Flags().StringVar(&daemonAddr, "daemon", "http://127.0.0.1:7777", "gflowd address")
	root.Flags().StringVar(&states, "states", "", "comma-separated state filter, e.g. Running,Queued")
	root.Flags().StringVar(&names, "names", "", "comma-separated name filter")
	root.Flags().IntVar(&limit, "limit", 0, "max rows, 0 means unlimited")
	root.Flags().BoolVar(&jsonOut, "json", false, "print raw JSON instead of a table")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runList(cmd *cobra.Command, args []string) error {
	c := cliclient.New(daemonAddr)

	path := "/jobs"
	q := make([]string, 0, 3)
	if states != "" {
		q = append(q, "states="+states)
	}
	if names != "" {
		q = append(q, "names="+names)
	}
	if limit > 0 {
		q = append(q, "limit="+strconv.Itoa(limit))
	}
	if len(q) > 0 {
		path += "?" + strings.Join(q, "&")
	}

	var jobs []*models.Job
	if err := c.Get(cmd.Context(), path, &jobs); err != nil {
		return err
	}

	if jsonOut {
		data, err := json.MarshalIndent(jobs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "State", "GPUs", "Priority", "Group", "Reason")
	for _, j := range jobs {
		table.Append(
			strconv.FormatUint(j.ID, 10),
			j.Name,
			j.State.Short(),
			gpuList(j.GPUsAssigned, j.GPUsRequested),
			strconv.Itoa(int(j.Priority)),
			j.GroupID,
			j.Reason.String(),
		)
	}
	table.Render()
	return nil
}

func gpuList(assigned []models.GPUID, requested int) string {
	if len(assigned) == 0 {
		return fmt.Sprintf("-/%d", requested)
	}
	parts := make([]string, len(assigned))
	for i, g := range assigned {
		parts[i] = strconv.Itoa(int(g))
	}
	return strings.Join(parts, ",")
}
