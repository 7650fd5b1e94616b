package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintOutputJSON(t *testing.T) {
	OutputFormat = "json"
	defer func() { OutputFormat = "table" }()

	var buf bytes.Buffer
	done, err := printOutput(&buf, map[string]int{"count": 3})
	require.NoError(t, err)
	assert.True(t, done)
	assert.JSONEq(t, `{"count": 3}`, buf.String())
}

func TestPrintOutputYAML(t *testing.T) {
	OutputFormat = "yaml"
	defer func() { OutputFormat = "table" }()

	var buf bytes.Buffer
	done, err := printOutput(&buf, map[string]int{"count": 3})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Contains(t, buf.String(), "count: 3")
}

func TestPrintOutputTableFallsThrough(t *testing.T) {
	for _, format := range []string{"", "table"} {
		OutputFormat = format
		var buf bytes.Buffer
		done, err := printOutput(&buf, struct{}{})
		require.NoError(t, err)
		assert.False(t, done)
		assert.Empty(t, buf.String())
	}
	OutputFormat = "table"
}

func TestPrintOutputUnknownFormat(t *testing.T) {
	OutputFormat = "xml"
	defer func() { OutputFormat = "table" }()

	var buf bytes.Buffer
	done, err := printOutput(&buf, struct{}{})
	assert.True(t, done)
	require.Error(t, err)
}
