package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "dashopt", cmd.Use)
	assert.Contains(t, cmd.Long, "latency budget")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"optimize", "validate", "explain", "export", "runs"}

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
}

func TestPlanningFlags(t *testing.T) {
	model := []string{"stats", "coefficients", "selectivity", "selective-table", "alpha", "parallel"}
	solver := []string{"timeout", "arbitrary", "best-server-memory", "valid-only", "record"}

	tests := []struct {
		command string
		flags   []string
		absent  []string
	}{
		{"optimize", append(model, solver...), []string{"output"}},
		{"export", append(append(model, solver...), "output"), nil},
		{"explain", model, solver},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			sub, _, err := NewRootCommand().Find([]string{tt.command})
			require.NoError(t, err)
			for _, name := range tt.flags {
				assert.NotNil(t, sub.Flags().Lookup(name), "flag --%s", name)
			}
			for _, name := range tt.absent {
				assert.Nil(t, sub.Flags().Lookup(name), "flag --%s", name)
			}
		})
	}
}

func TestFlagDefaults(t *testing.T) {
	sub, _, err := NewRootCommand().Find([]string{"optimize"})
	require.NoError(t, err)

	assert.Equal(t, "upper", sub.Flags().Lookup("selectivity").DefValue)
	assert.Equal(t, "1", sub.Flags().Lookup("alpha").DefValue)
	assert.Equal(t, "0", sub.Flags().Lookup("parallel").DefValue)
	assert.Equal(t, "1h40m0s", sub.Flags().Lookup("timeout").DefValue)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "invalid", "validate", "."})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestNewLoggerLevel(t *testing.T) {
	buf := &bytes.Buffer{}

	newLogger(&RootOptions{}, buf).Info("quiet")
	assert.Empty(t, buf.String())

	newLogger(&RootOptions{Verbose: true}, buf).Debug("loud", "k", 1)
	assert.Contains(t, buf.String(), "loud")
	assert.Contains(t, buf.String(), "k=1")
}
