package enrich

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamedCaptures(t *testing.T) {
	re, err := CompileExtractionRegex(`(?P<service_name>\w+) (?P<alert_type>\w+)`, time.Second)
	require.NoError(t, err)

	captures, matched, err := NamedCaptures(re, "Test Alert")
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, map[string]string{
		"service_name": "Test",
		"alert_type":   "Alert",
	}, captures)
}

func TestNamedCapturesNoMatch(t *testing.T) {
	re, err := CompileExtractionRegex(`(?P<code>\d{3})`, time.Second)
	require.NoError(t, err)

	captures, matched, err := NamedCaptures(re, "no digits here")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Nil(t, captures)
}

func TestNamedCapturesSkipsUnnamedGroups(t *testing.T) {
	re, err := CompileExtractionRegex(`(\w+)=(?P<value>\w+)`, time.Second)
	require.NoError(t, err)

	captures, matched, err := NamedCaptures(re, "env=prod")
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, map[string]string{"value": "prod"}, captures)
}

func TestCompileExtractionRegexInvalid(t *testing.T) {
	_, err := CompileExtractionRegex(`(?P<broken`, time.Second)
	assert.Error(t, err)
}

func TestCompileExtractionRegexDefaultBudget(t *testing.T) {
	re, err := CompileExtractionRegex(`(?P<x>a)`, 0)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, re.MatchTimeout)
}
