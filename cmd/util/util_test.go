package util

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/dOBJ/lib/engine"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRanks(t *testing.T) {
	tests := []struct {
		in      string
		want    []engine.Rank
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "  ", want: nil},
		{in: "3", want: []engine.Rank{3}},
		{in: "0, 1,2", want: []engine.Rank{0, 1, 2}},
		{in: "1,x", wantErr: true},
		{in: "-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRanks(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatRanksRoundTrip(t *testing.T) {
	ranks := []engine.Rank{4, 0, 7}
	got, err := ParseRanks(FormatRanks(ranks))
	require.NoError(t, err)
	assert.Equal(t, ranks, got)
}

func TestGetSerializer(t *testing.T) {
	defer viper.Reset()
	for _, name := range []string{"json", "gob", "binary", "cbor"} {
		viper.Set("serializer", name)
		s, err := GetSerializer()
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}
	viper.Set("serializer", "xml")
	_, err := GetSerializer()
	assert.Error(t, err)
}

func TestWrapString(t *testing.T) {
	wrapped := WrapString("a very long help text that certainly needs more than one line to be shown in the terminal")
	for _, line := range strings.Split(wrapped, "\n") {
		assert.True(t, len(line) <= Wrap, line)
	}
}

