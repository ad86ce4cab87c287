package cmd

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// Client identifier type octets from RFC 2132 section 9.14 and RFC 4361
// section 6.1.
const (
	clientIDTypeOpaque   = 0
	clientIDTypeEthernet = 1
	clientIDTypeIAID     = 255
)

// DUID-UUID type from RFC 6355 section 4.
const duidTypeUUID = 4

// Special client_id configuration values.
const (
	clientIDValueMAC   = "mac"
	clientIDPrefixUUID = "uuid:"
)

// parseClientID converts the client_id configuration value into the wire
// form of the client-identifier option.  The accepted forms are:
//
//   - "":  No client identifier is sent.
//   - "mac":  The hardware address of the interface, typed as Ethernet.
//   - "uuid:<uuid>":  An RFC 4361 identifier carrying a DUID-UUID.
//   - anything else:  The text itself, typed as opaque.
func parseClientID(s string, mac net.HardwareAddr) (id []byte, err error) {
	switch {
	case s == "":
		return nil, nil
	case s == clientIDValueMAC:
		return append([]byte{clientIDTypeEthernet}, mac...), nil
	case strings.HasPrefix(s, clientIDPrefixUUID):
		return uuidClientID(strings.TrimPrefix(s, clientIDPrefixUUID), mac)
	default:
		return append([]byte{clientIDTypeOpaque}, s...), nil
	}
}

// uuidClientID builds an RFC 4361 client identifier from the textual UUID.
// The IAID is derived from the tail of the hardware address, since the
// daemon manages a single interface.
func uuidClientID(s string, mac net.HardwareAddr) (id []byte, err error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("client_id: %w", err)
	}

	id = make([]byte, 0, 1+4+2+len(u))
	id = append(id, clientIDTypeIAID)

	// IAID.
	if n := len(mac); n >= 4 {
		id = append(id, mac[n-4:]...)
	} else {
		id = append(id, 0, 0, 0, 0)
	}

	// DUID-UUID.
	id = append(id, 0, duidTypeUUID)
	id = append(id, u[:]...)

	return id, nil
}
