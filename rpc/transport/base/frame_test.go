package base

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		buf     []byte
	}{
		{"nil buffer", []byte("x"), nil},
		{"pooled buffer", []byte("fetch 4 bytes"), make([]byte, 64)},
		{"buffer too small", []byte("a payload longer than the buffer"), make([]byte, frameHeaderSize)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer client.Close()
			defer server.Close()

			errc := make(chan error, 1)
			go func() { errc <- writeFrame(client, 7, 42, tt.payload) }()

			shard, req, data, err := readFrame(server, tt.buf)
			require.NoError(t, err)
			require.NoError(t, <-errc)
			assert.Equal(t, uint64(7), shard)
			assert.Equal(t, uint64(42), req)
			assert.Equal(t, len(tt.payload), len(data))
			assert.Equal(t, string(tt.payload), string(data))
		})
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header[16:20], MaxFrameSize+1)
	go func() { _, _ = client.Write(header) }()

	_, _, _, err := readFrame(server, nil)
	assert.Error(t, err)
}
