// SPDX-License-Identifier: MIT
package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderDisabled(t *testing.T) {
	p, err := NewProvider(t.Context(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NoError(t, p.Shutdown(t.Context()))
}

func TestNewProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewProvider(t.Context(), Config{
		Enabled:      true,
		ServiceName:  "spand",
		ExporterType: "smoke-signal",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter type")
}

func TestTracerFromGlobalProvider(t *testing.T) {
	_, err := NewProvider(t.Context(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NotNil(t, Tracer("spand/test"))
}
