package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSecret_Printing(t *testing.T) {
	s := Secret("upbit-secret-123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", s))
	assert.Equal(t, "upbit-secret-123", s.Reveal())
	assert.Equal(t, "upbi********-123", s.Masked())

	assert.Equal(t, "", Secret("").String())
	assert.Equal(t, `""`, fmt.Sprintf("%#v", Secret("")))
}

func TestSecret_Marshal(t *testing.T) {
	v := VenueConfig{Kind: "upbit", APIKey: "access", SecretKey: "secret"}

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "access")
	assert.Contains(t, string(data), "[REDACTED]")

	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "access")
	assert.Contains(t, string(out), "[REDACTED]")
}
