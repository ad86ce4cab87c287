package cmd

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientID(t *testing.T) {
	t.Parallel()

	mac := net.HardwareAddr{0x02, 0x42, 0xAC, 0x11, 0x00, 0x02}

	testCases := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{{
		name: "empty",
		in:   "",
		want: nil,
	}, {
		name: "mac",
		in:   "mac",
		want: []byte{0x01, 0x02, 0x42, 0xAC, 0x11, 0x00, 0x02},
	}, {
		name: "text",
		in:   "host-1",
		want: append([]byte{0x00}, "host-1"...),
	}, {
		name: "uuid",
		in:   "uuid:6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		want: append(
			// Type, IAID, and the DUID-UUID header.
			[]byte{0xFF, 0xAC, 0x11, 0x00, 0x02, 0x00, 0x04},
			0x6b, 0xa7, 0xb8, 0x10,
			0x9d, 0xad,
			0x11, 0xd1,
			0x80, 0xb4,
			0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8,
		),
	}, {
		name:    "uuid_bad",
		in:      "uuid:not-a-uuid",
		wantErr: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			id, err := parseClientID(tc.in, mac)
			if tc.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, id)
		})
	}
}
