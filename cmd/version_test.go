package cmd

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/D9292S/Quantum-Bank/quantumbank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := quantumbank.Version
	originalCommitSHA := quantumbank.CommitSHA
	originalBuildTime := quantumbank.BuildTime

	t.Cleanup(
		func() {
			quantumbank.Version = originalVersion
			quantumbank.CommitSHA = originalCommitSHA
			quantumbank.BuildTime = originalBuildTime
		},
	)

	quantumbank.Version = "1.0.0"
	quantumbank.CommitSHA = "abc123"
	quantumbank.BuildTime = "2025-10-01T12:00:00Z"

	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(
		func() {
			versionCmd.SetOut(nil)
		},
	)

	versionCmd.Run(versionCmd, nil)

	output := out.String()
	require.NotEmpty(t, output)
	assert.Contains(t, output, "quantum-bank 1.0.0")
	assert.Contains(t, output, "commit abc123")
	assert.Contains(t, output, "built 2025-10-01T12:00:00Z")
	assert.Contains(t, output, runtime.Version())
}
