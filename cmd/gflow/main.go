// Command gflow submits a job to a running gflowd.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AndPuQing/gflow/pkg/cliclient"
	"github.com/AndPuQing/gflow/pkg/models"
)

var (
	daemonAddr string

	name          string
	workingDir    string
	condaEnv      string
	gpusRequested int
	memoryMB      int
	priority      uint8
	timeLimitSecs int64
	dependsOn     string
	autoCancel    bool
	arrayTaskID   int
	groupID       string
)

func main() {
	root := &cobra.Command{
		Use:   "gflow <command...>",
		Short: "submit a job to gflowd",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSubmit,
	}
	root.Flags().StringVar(&daemonAddr, "daemon", "http://127.0.0.1:7777", "gflowd address")
	root.Flags().StringVar(&name, "name", "", "job name (auto-generated if empty)")
	root.Flags().StringVar(&workingDir, "chdir", "", "working directory")
	root.Flags().StringVar(&condaEnv, "conda-env", "", "conda environment to run under")
	root.Flags().IntVar(&gpusRequested, "gpus", 0, "number of GPUs to reserve")
	root.Flags().IntVar(&memoryMB, "mem", 0, "expected memory usage in MB (submission-time hint only)")
	root.Flags().Uint8Var(&priority, "priority", 10, "scheduling priority, higher runs first")
	root.Flags().Int64Var(&timeLimitSecs, "time-limit-secs", 0, "wall-clock limit in seconds, 0 means unlimited")
	root.Flags().StringVar(&dependsOn, "depends-on", "", "job id, \"@\" (last submitted), or \"@~N\"")
	root.Flags().BoolVar(&autoCancel, "auto-cancel", true, "cancel this job if its dependency fails")
	root.Flags().IntVar(&arrayTaskID, "array-task-id", 0, "array task index")
	root.Flags().StringVar(&groupID, "group", "", "sweep group id for concurrency limiting")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSubmit(cmd *cobra.Command, args []string) error {
	req := models.SubmissionRequest{
		Name:                   name,
		Command:                joinArgs(args),
		WorkingDir:             workingDir,
		CondaEnv:               condaEnv,
		GPUsRequested:          gpusRequested,
		MemoryMB:               memoryMB,
		Priority:               priority,
		DependsOn:              dependsOn,
		AutoCancelOnDepFailure: &autoCancel,
		ArrayTaskID:            arrayTaskID,
		GroupID:                groupID,
	}
	if timeLimitSecs > 0 {
		req.TimeLimitSecs = &timeLimitSecs
	}

	c := cliclient.New(daemonAddr)
	var resp struct {
		ID   uint64 `json:"id"`
		Name string `json:"name"`
	}
	if err := c.Post(cmd.Context(), "/jobs", req, &resp); err != nil {
		return err
	}
	fmt.Printf("submitted job %d (%s)\n", resp.ID, resp.Name)
	return nil
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}
