package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{" INFO ", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetup_RedirectsExistingSubloggers(t *testing.T) {
	log := New("test")

	var buf bytes.Buffer
	require.NoError(t, Setup("info", &buf))
	t.Cleanup(func() {
		_ = Setup("info", os.Stderr)
	})

	log.Info().Msg("hello from test")
	log.Debug().Msg("hidden")

	out := buf.String()
	assert.Contains(t, out, "hello from test")
	assert.Contains(t, out, "component=test")
	assert.NotContains(t, out, "hidden")
}

func TestSetup_RejectsUnknownLevel(t *testing.T) {
	err := Setup("chatty", nil)
	require.Error(t, err)
}
