package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyql/internal/testutil"
)

// jsonResponse mirrors CLIResponse with a raw payload.
type jsonResponse struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   *CLIError       `json:"error"`
	TraceID string          `json:"trace_id"`
}

// execute runs the root command with args and stdin, returning stdout,
// stderr and the command error.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := newRootCommand(&RootOptions{NewTraceID: testutil.NewSequentialIDs("trace").Next})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// executeJSON runs args with --format json and decodes the response.
func executeJSON(t *testing.T, args ...string) (jsonResponse, error) {
	t.Helper()
	out, _, err := execute(t, "", append([]string{"--format", "json"}, args...)...)
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "trace-1", resp.TraceID)
	return resp, err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "polyql", cmd.Use)
	assert.Contains(t, cmd.Long, "PromQL")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"parse", "detect", "translate", "dialects", "check", "history", "serve"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("rules"))
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command string
		flag    string
		def     string
	}{
		{"parse", "dialect", ""},
		{"detect", "explain", "false"},
		{"translate", "to", ""},
		{"translate", "from", ""},
		{"translate", "record", "false"},
		{"check", "golden", ""},
		{"check", "update", "false"},
		{"history", "limit", "20"},
		{"history", "stats", "false"},
		{"serve", "listen", ""},
	}
	cmd := NewRootCommand()
	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.flag, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{tt.command})
			require.NoError(t, err)
			f := sub.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("json"))
	assert.True(t, isValidFormat("text"))
	assert.False(t, isValidFormat("yaml"))
	assert.False(t, isValidFormat(""))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, _, err := execute(t, "", "--format", "yaml", "dialects")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestUnknownFlagIsCommandError(t *testing.T) {
	_, _, err := execute(t, "", "dialects", "--nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReadQuery(t *testing.T) {
	cmd := NewParseCommand(&RootOptions{})

	cmd.SetIn(strings.NewReader("  up \n"))
	text, err := readQuery(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "up", text)

	cmd.SetIn(strings.NewReader("sum(up)"))
	text, err = readQuery(cmd, []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "sum(up)", text)

	text, err = readQuery(cmd, []string{"SELECT", "*", "FROM", "cpu"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM cpu", text)

	cmd.SetIn(strings.NewReader("   "))
	_, err = readQuery(cmd, nil)
	assert.EqualError(t, err, "no query given")
}
