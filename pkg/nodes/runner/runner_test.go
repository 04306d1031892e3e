package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnregnet/lnregnet/pkg/logger"
)

func TestLookupBinary(t *testing.T) {
	// sh is on $PATH everywhere this runs.
	path, err := LookupBinary("", "sh")
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	_, err = LookupBinary("", "definitely-not-a-binary")
	assert.Error(t, err)

	_, err = LookupBinary(t.TempDir(), "sh")
	assert.Error(t, err)
}

func TestWaitForLogFindsMarker(t *testing.T) {
	log := logger.NewDefault()
	p, err := Start("test", log, "sh",
		[]string{"-c", "echo warming up; echo server ready; sleep 5"}, nil)
	require.NoError(t, err)

	offset, err := p.WaitForLog(context.Background(), "server ready", 0, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, offset)
	assert.True(t, p.Running())
}

func TestWaitForLogOffsetSkipsEarlierLines(t *testing.T) {
	log := logger.NewDefault()
	p, err := Start("test", log, "sh",
		[]string{"-c", "echo ready; sleep 5"}, nil)
	require.NoError(t, err)

	offset, err := p.WaitForLog(context.Background(), "ready", 0, 5*time.Second)
	require.NoError(t, err)

	// The same marker is not matched twice from the advanced offset.
	_, err = p.WaitForLog(context.Background(), "ready", offset, 100*time.Millisecond)
	assert.Error(t, err)
}

func TestWaitForLogProcessExit(t *testing.T) {
	log := logger.NewDefault()
	p, err := Start("test", log, "sh",
		[]string{"-c", "echo only this; exit 1"}, nil)
	require.NoError(t, err)

	_, err = p.WaitForLog(context.Background(), "never appears", 0, 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited")
}

func TestWaitForLogTimeout(t *testing.T) {
	log := logger.NewDefault()
	p, err := Start("test", log, "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)

	_, err = p.WaitForLog(context.Background(), "never appears", 0, 200*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestWaitForLogMatchesStderr(t *testing.T) {
	log := logger.NewDefault()
	p, err := Start("test", log, "sh",
		[]string{"-c", "echo ready >&2; sleep 5"}, nil)
	require.NoError(t, err)

	_, err = p.WaitForLog(context.Background(), "ready", 0, 5*time.Second)
	assert.NoError(t, err)
}

func TestProcessWait(t *testing.T) {
	log := logger.NewDefault()
	p, err := Start("test", log, "sh", []string{"-c", "exit 0"}, nil)
	require.NoError(t, err)

	require.NoError(t, p.Wait(5*time.Second))
	assert.False(t, p.Running())
}

func TestStartPassesExtraEnv(t *testing.T) {
	log := logger.NewDefault()
	p, err := Start("test", log, "sh",
		[]string{"-c", "echo value is $TEST_RUNNER_VAR; sleep 2"},
		map[string]string{"TEST_RUNNER_VAR": "hello"})
	require.NoError(t, err)

	_, err = p.WaitForLog(context.Background(), "value is hello", 0, 5*time.Second)
	assert.NoError(t, err)
}

func TestExec(t *testing.T) {
	log := logger.NewDefault()

	res, err := Exec(log, "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out", res.Text())
	assert.Contains(t, res.Stderr, "err")
	require.NoError(t, res.CheckExit("echo"))

	// Non-zero exits are reported in the result, not as an error.
	res, err = Exec(log, "sh", "-c", "echo broken >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	err = res.CheckExit("failing command")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestExecDecodeJSON(t *testing.T) {
	log := logger.NewDefault()
	res, err := Exec(log, "sh", "-c", `echo '{"blocks": 42}'`)
	require.NoError(t, err)

	var v struct {
		Blocks int `json:"blocks"`
	}
	require.NoError(t, res.DecodeJSON(&v))
	assert.Equal(t, 42, v.Blocks)
}
