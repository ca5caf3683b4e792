package executor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/AndPuQing/gflow/pkg/models"
)

// TmuxExecutor drives detached tmux sessions. Each session's shell is
// kept alive after the wrapped command exits (so users can attach and
// read final output per §9), and the command's exit status is written
// to a sidecar file keyed by session name so IsAlive can recover it
// without tmux itself exposing exit codes.
type TmuxExecutor struct {
	// Bin overrides the tmux binary path; empty means "tmux" from PATH.
	Bin string
	// RunDir holds per-session exit-status sidecar files. Defaults to
	// os.TempDir()/gflow-executor.
	RunDir string
}

func (t *TmuxExecutor) bin() string {
	if t.Bin != "" {
		return t.Bin
	}
	return "tmux"
}

func (t *TmuxExecutor) runDir() string {
	if t.RunDir != "" {
		return t.RunDir
	}
	return filepath.Join(os.TempDir(), "gflow-executor")
}

func (t *TmuxExecutor) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.bin(), args...)
	return cmd.CombinedOutput()
}

func (t *TmuxExecutor) exitFile(name string) string {
	return filepath.Join(t.runDir(), name+".exit")
}

// hasSession reports whether a tmux session by that name exists.
func (t *TmuxExecutor) hasSession(ctx context.Context, name string) bool {
	_, err := t.run(ctx, "has-session", "-t", name)
	return err == nil
}

func (t *TmuxExecutor) Start(ctx context.Context, name, command, workingDir string, env map[string]string, logPath string) error {
	if t.hasSession(ctx, name) {
		return &models.ExecutorError{Kind: models.ExecutorAlreadyExists, Name: name}
	}

	if _, err := t.run(ctx, "new-session", "-d", "-s", name, "-c", workingDir); err != nil {
		return &models.ExecutorError{Kind: models.ExecutorSpawn, Name: name}
	}

	if err := t.CaptureLog(ctx, name, logPath); err != nil {
		return &models.ExecutorError{Kind: models.ExecutorSpawn, Name: name}
	}

	if err := os.MkdirAll(t.runDir(), 0o755); err != nil {
		return &models.ExecutorError{Kind: models.ExecutorSpawn, Name: name}
	}
	_ = os.Remove(t.exitFile(name))

	// tmux's set-environment only affects processes it spawns after the
	// call; the shell new-session already forked won't see it. The
	// variables are exported inline in the command line sent via
	// send-keys instead, which reaches the shell that actually runs the
	// job.
	wrapped := fmt.Sprintf("%s%s; echo $? > %s; exec $SHELL", envPrefix(env), command, shellQuote(t.exitFile(name)))
	if _, err := t.run(ctx, "send-keys", "-t", name, wrapped, "Enter"); err != nil {
		return &models.ExecutorError{Kind: models.ExecutorSpawn, Name: name}
	}
	return nil
}

// envPrefix renders env as a sequence of shell export statements, sorted
// by key for deterministic command strings, suitable for prepending to a
// command sent through tmux send-keys.
func envPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString("export ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(shellQuote(env[k]))
		b.WriteString("; ")
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (t *TmuxExecutor) IsAlive(ctx context.Context, name string) (LivenessResult, error) {
	if !t.hasSession(ctx, name) {
		return LivenessResult{State: StateMissing}, nil
	}
	if code, ok := t.readExitFile(name); ok {
		return LivenessResult{State: StateExited, ExitCode: code}, nil
	}
	return LivenessResult{State: StateRunning}, nil
}

// readExitFile reads the sidecar file written when the wrapped command
// finishes, returning ok=false while the job is still running.
func (t *TmuxExecutor) readExitFile(name string) (code int, ok bool) {
	f, err := os.Open(t.exitFile(name))
	if err != nil {
		return 0, false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (t *TmuxExecutor) Terminate(ctx context.Context, name string) error {
	if !t.hasSession(ctx, name) {
		return &models.ExecutorError{Kind: models.ExecutorMissing, Name: name}
	}
	_, _ = t.run(ctx, "send-keys", "-t", name, "C-c", "")
	return nil
}

func (t *TmuxExecutor) CaptureLog(ctx context.Context, name, logPath string) error {
	if err := os.MkdirAll(dirOf(logPath), 0o755); err != nil {
		return err
	}
	_, err := t.run(ctx, "pipe-pane", "-t", name, "-o", fmt.Sprintf("cat >> %s", shellQuote(logPath)))
	return err
}

// ListSessions returns the names of all tmux sessions currently visible to
// this executor, live or dead-but-not-yet-reaped.
func (t *TmuxExecutor) ListSessions(ctx context.Context) ([]string, error) {
	out, err := t.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		// tmux exits nonzero when the server has no sessions at all.
		return nil, nil
	}
	var names []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}
