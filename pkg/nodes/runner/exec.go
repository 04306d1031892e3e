package runner

import (
	"bytes"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	apperrors "github.com/lnregnet/lnregnet/pkg/errors"
	"github.com/lnregnet/lnregnet/pkg/logger"
)

// Result is the outcome of one control-client invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs a control client as a subprocess and captures its output.
// A non-zero exit code is not an error at this level: some status
// queries legitimately fail while a daemon is still warming up, so the
// decision is left to the caller (see CheckExit for the common case).
func Exec(log *logger.Logger, binary string, args ...string) (*Result, error) {
	cmd := exec.Command(binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug("Exec", "cmd", binary+" "+strings.Join(args, " "))
	err := cmd.Run()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, errors.Wrapf(err, "failed to invoke %s", binary)
		}
	}
	return &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}, nil
}

// CheckExit converts a non-zero exit into an RPC error carrying the raw
// stderr text of the failed command.
func (r *Result) CheckExit(what string) error {
	if r.ExitCode == 0 {
		return nil
	}
	msg := what + " failed with exit code " + strconv.Itoa(r.ExitCode)
	if stderr := strings.TrimSpace(r.Stderr); stderr != "" {
		msg += ": " + firstLine(stderr)
	}
	return apperrors.NewRPCError(msg, strings.TrimSpace(r.Stderr), nil)
}

// DecodeJSON unmarshals the command's stdout into v.
func (r *Result) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal([]byte(r.Stdout), v); err != nil {
		return errors.Wrapf(err, "failed to decode control client output %q", firstLine(r.Stdout))
	}
	return nil
}

// Text returns the trimmed plain-text stdout.
func (r *Result) Text() string {
	return strings.TrimSpace(r.Stdout)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
