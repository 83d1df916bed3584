package execx

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

// Command is one external tool invocation. Env entries are layered over
// the process environment; Dir, when set, becomes the working directory.
type Command struct {
	Name string
	Args []string
	Env  map[string]string
	Dir  string
}

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, cmd Command) (stdout, stderr []byte, err error)
}

type ExecRunner struct {
	log logging.Logger
}

func NewExecRunner(log logging.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, []byte, error) {
	start := time.Now()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		env := os.Environ()
		for k, v := range cmd.Env {
			env = append(env, k+"="+v)
		}
		c.Env = env
	}

	var out, errb bytes.Buffer
	c.Stdout = &out
	c.Stderr = &errb

	err := c.Run()
	dur := time.Since(start)

	if err != nil {
		r.log.Error("exec failed",
			"cmd", cmd.Name,
			"args", strings.Join(cmd.Args, " "),
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		r.log.Debug("exec ok",
			"cmd", cmd.Name,
			"args", strings.Join(cmd.Args, " "),
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
			"stderr_bytes", errb.Len(),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
