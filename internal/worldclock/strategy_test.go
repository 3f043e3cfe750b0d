package worldclock

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"offset", OffsetStrategy, false},
		{" Fixed ", OffsetStrategy, false},
		{"timezone", TimezoneStrategy, false},
		{"TZ", TimezoneStrategy, false},
		{"iana", TimezoneStrategy, false},
		{"", OffsetStrategy, true},
		{"sundial", OffsetStrategy, true},
	}

	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownStrategy, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestStrategy_TextRoundTripInJSON(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(Entry{Name: "Berlin", Strategy: TimezoneStrategy})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"strategy":"timezone"`)

	var decoded Entry
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TimezoneStrategy, decoded.Strategy)

	_, err = json.Marshal(Entry{Strategy: Strategy(7)})
	assert.Error(t, err)
	assert.Equal(t, "Strategy(7)", Strategy(7).String())
}
