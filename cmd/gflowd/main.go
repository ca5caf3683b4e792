// Command gflowd is the gflow scheduling daemon. "up" runs the daemon in
// the foreground; "down", "status", and "restart" are thin clients
// against its own HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AndPuQing/gflow/pkg/cliclient"
	"github.com/AndPuQing/gflow/pkg/config"
	"github.com/AndPuQing/gflow/pkg/daemon"
	"github.com/AndPuQing/gflow/pkg/logging"
)

var (
	cfgFile string
	gpuFlag string
)

func main() {
	root := &cobra.Command{
		Use:   "gflowd",
		Short: "gflow scheduling daemon",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (no file is read if empty)")

	up := &cobra.Command{
		Use:   "up",
		Short: "run the daemon in the foreground",
		RunE:  runUp,
	}
	up.Flags().StringVar(&gpuFlag, "gpus", "", "GPU spec override, e.g. \"all\" or \"0,2-3\"")

	down := &cobra.Command{
		Use:   "down",
		Short: "ask a running daemon to shut down",
		RunE:  runDown,
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "print daemon health",
		RunE:  runStatus,
	}
	restart := &cobra.Command{
		Use:   "restart",
		Short: "shut down then start a new daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = runDown(cmd, args)
			waitForDown(cmd.Context())
			return runUp(cmd, args)
		},
	}
	restart.Flags().StringVar(&gpuFlag, "gpus", "", "GPU spec override")

	logrotateConfig := &cobra.Command{
		Use:   "logrotate-config",
		Short: "print a logrotate(8) config for gflowd's operational log",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(logging.GenerateDaemonLogrotate())
			return nil
		},
	}

	root.AddCommand(up, down, status, restart, logrotateConfig)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.DaemonConfig, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	if gpuFlag != "" {
		cfg.GPUs = gpuFlag
	}
	if err := cfg.ValidateGPUs(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	return d.Run(ctx)
}

func daemonURL() string {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return "http://127.0.0.1:7777"
	}
	return fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
}

func runDown(cmd *cobra.Command, args []string) error {
	c := cliclient.New(daemonURL())
	c.Retry.MaxRetries = 0
	return c.Post(cmd.Context(), "/shutdown", nil, nil)
}

// waitForDown polls /health until the old daemon's listener actually goes
// away or a bounded timeout elapses, so restart doesn't race the new
// process's bind against the old one's still-open socket. POST /shutdown
// triggers teardown asynchronously (it responds before the listener
// closes), so a fixed sleep here would be a guess; polling isn't.
func waitForDown(ctx context.Context) {
	c := cliclient.New(daemonURL())
	c.Retry.MaxRetries = 0
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if err := c.Get(ctx, "/health", nil); err != nil {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := cliclient.New(daemonURL())
	c.Retry.MaxRetries = 0
	var out map[string]string
	if err := c.Get(cmd.Context(), "/health", &out); err != nil {
		return err
	}
	fmt.Println(out["status"])
	return nil
}
