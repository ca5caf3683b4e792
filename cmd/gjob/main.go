// Command gjob inspects, holds, releases, attaches to, or resubmits a
// single job tracked by gflowd.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/AndPuQing/gflow/pkg/cliclient"
	"github.com/AndPuQing/gflow/pkg/models"
)

var (
	daemonAddr string
	jobID      uint64

	showLog  bool
	show     bool
	attach   bool
	hold     bool
	release  bool
	redo     bool
	tmuxBin  string
)

func main() {
	root := &cobra.Command{
		Use:   "gjob",
		Short: "inspect or control a single job",
		RunE:  run,
	}
	root.Flags().StringVar(&daemonAddr, "daemon", "http://127.0.0.1:7777", "gflowd address")
	root.Flags().Uint64Var(&jobID, "job", 0, "job id (required)")
	root.Flags().BoolVar(&showLog, "log", false, "print the job's captured log")
	root.Flags().BoolVar(&show, "show", false, "print full job detail (default if no other flag given)")
	root.Flags().BoolVar(&attach, "attach", false, "attach to the job's tmux session")
	root.Flags().BoolVar(&hold, "hold", false, "move a Queued job to Held")
	root.Flags().BoolVar(&release, "release", false, "move a Held job back to Queued")
	root.Flags().BoolVar(&redo, "redo", false, "resubmit this job's command as a new job")
	root.Flags().StringVar(&tmuxBin, "tmux", "tmux", "tmux binary used by --attach")
	root.MarkFlagRequired("job")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	c := cliclient.New(daemonAddr)

	switch {
	case hold:
		if err := c.Post(cmd.Context(), fmt.Sprintf("/jobs/%d/hold", jobID), nil, nil); err != nil {
			return err
		}
		fmt.Printf("job %d held\n", jobID)
		return nil
	case release:
		if err := c.Post(cmd.Context(), fmt.Sprintf("/jobs/%d/release", jobID), nil, nil); err != nil {
			return err
		}
		fmt.Printf("job %d released\n", jobID)
		return nil
	}

	var job models.Job
	if err := c.Get(cmd.Context(), fmt.Sprintf("/jobs/%d", jobID), &job); err != nil {
		return err
	}

	switch {
	case showLog:
		return printLog(&job)
	case attach:
		return attachSession(&job)
	case redo:
		return redoJob(cmd, &job, c)
	default:
		return showJob(&job)
	}
}

func printLog(j *models.Job) error {
	if j.LogPath == "" {
		return fmt.Errorf("job %d has no log yet", j.ID)
	}
	data, err := os.ReadFile(j.LogPath)
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	return nil
}

func attachSession(j *models.Job) error {
	if j.State != models.JobRunning {
		return fmt.Errorf("job %d is not Running (state %s)", j.ID, j.State)
	}
	cmd := exec.Command(tmuxBin, "attach-session", "-t", j.Name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func redoJob(cmd *cobra.Command, j *models.Job, c *cliclient.Client) error {
	req := models.SubmissionRequest{
		Command:                j.Command,
		WorkingDir:             j.WorkingDir,
		CondaEnv:               j.CondaEnv,
		GPUsRequested:          j.GPUsRequested,
		MemoryMB:               j.MemoryMB,
		Priority:               j.Priority,
		TimeLimitSecs:          j.TimeLimitSecs,
		AutoCancelOnDepFailure: &j.AutoCancelOnDepFailure,
		ArrayTaskID:            j.ArrayTaskID,
		GroupID:                j.GroupID,
	}
	var resp struct {
		ID   uint64 `json:"id"`
		Name string `json:"name"`
	}
	if err := c.Post(cmd.Context(), "/jobs", req, &resp); err != nil {
		return err
	}
	fmt.Printf("resubmitted job %d as job %d (%s)\n", j.ID, resp.ID, resp.Name)
	return nil
}

func showJob(j *models.Job) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", strconv.FormatUint(j.ID, 10))
	table.Append("Name", j.Name)
	table.Append("State", string(j.State))
	table.Append("Reason", j.Reason.String())
	table.Append("Command", j.Command)
	table.Append("GPUs requested", strconv.Itoa(j.GPUsRequested))
	table.Append("Priority", strconv.Itoa(int(j.Priority)))
	table.Append("Submitted at", j.SubmittedAt.String())
	if j.StartedAt != nil {
		table.Append("Started at", j.StartedAt.String())
	}
	if j.FinishedAt != nil {
		table.Append("Finished at", j.FinishedAt.String())
	}
	if j.ExitCode != nil {
		table.Append("Exit code", strconv.Itoa(*j.ExitCode))
	}
	table.Render()
	return nil
}
