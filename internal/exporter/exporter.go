package exporter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	appLog "calnotify/internal/log"
	"calnotify/internal/model"
)

// Credential environment variable names expected by the export command.
const (
	envEmail    = "TIMETREE_EMAIL"
	envPassword = "TIMETREE_PASSWORD"
)

// Runner invokes the external calendar export command. It is a terminal
// boundary for process-launch failures: Run never returns an error, only
// a typed ExportOutcome.
type Runner struct {
	// Command is the exporter binary name or path.
	Command string
	// Email is the calendar account; passed as an argument and in the
	// environment. The password goes through the environment only, so it
	// never shows up in process listings.
	Email    string
	Password string
	// OutputPath is where the exporter writes the ICS file.
	OutputPath string
	// Timeout is the hard wall-clock limit for one invocation.
	Timeout time.Duration
}

// Run executes the export command once and classifies the result.
func (r *Runner) Run(ctx context.Context) model.ExportOutcome {
	start := time.Now()

	fail := func(typ model.ExportErrorType, msg string) model.ExportOutcome {
		return model.ExportOutcome{
			Success:   false,
			ErrorMsg:  msg,
			ErrorType: typ,
			Elapsed:   time.Since(start),
		}
	}

	if err := os.MkdirAll(filepath.Dir(r.OutputPath), 0o755); err != nil {
		return fail(model.ExportErrSystem, err.Error())
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if r.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.Command, "-o", r.OutputPath, "-e", r.Email)
	cmd.Env = append(os.Environ(),
		envEmail+"="+r.Email,
		envPassword+"="+r.Password,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// Once the deadline kills the process, stop waiting on I/O pipes a
	// misbehaving child may still hold open.
	cmd.WaitDelay = time.Second

	appLog.Debug("exporter starting", "command", r.Command, "output", r.OutputPath)

	err := cmd.Run()

	// Timeout takes precedence: CommandContext kills the process when the
	// deadline passes, so no orphan remains.
	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fail(model.ExportErrTimeout, "export command execution timeout")
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = "unknown error"
			}
			return fail(model.ExportErrExecution, msg)
		}
		// Spawn/communication failure (binary missing, fork error, ...).
		return fail(model.ExportErrSystem, err.Error())
	}

	// Defensive check: a zero exit with no output is still a failure.
	info, statErr := os.Stat(r.OutputPath)
	if statErr != nil || info.Size() == 0 {
		return fail(model.ExportErrEmptyOutput, "ICS file was not created or is empty")
	}

	elapsed := time.Since(start)
	appLog.Info("export completed", "output", r.OutputPath, "size", info.Size(), "elapsed", elapsed.String())

	return model.ExportOutcome{
		Success:    true,
		OutputFile: r.OutputPath,
		Elapsed:    elapsed,
	}
}
