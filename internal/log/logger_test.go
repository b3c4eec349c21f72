// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureAttachesServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "spand-test", Version: "v0.0.0-test"})

	lg := WithComponent("unit")
	lg.Info().Str("event", "test.emit").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "spand-test", entry["service"])
	assert.Equal(t, "v0.0.0-test", entry["version"])
	assert.Equal(t, "unit", entry["component"])
	assert.Equal(t, "test.emit", entry["event"])
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(t.Context(), "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))

	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "spand-test"})
	lg := WithComponentFromContext(ctx, "unit")
	lg.Info().Msg("with request id")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-123", entry["request_id"])
}

func TestRequestIDFromNilContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(nil)) //nolint:staticcheck // nil-safety contract
}
