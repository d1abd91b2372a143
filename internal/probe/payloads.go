package probe

// udpPayload returns a protocol-appropriate datagram for well-known UDP
// services. Empty datagrams are dropped by many stacks, so unknown
// ports get a single NUL byte; known services get a minimal valid
// request so a listener has a reason to answer.
func udpPayload(port uint16) []byte {
	switch port {
	case 53:
		// DNS query for the root NS record set.
		return []byte{
			0x12, 0x34, // transaction id
			0x01, 0x00, // standard query, recursion desired
			0x00, 0x01, // one question
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00,       // root label
			0x00, 0x02, // NS
			0x00, 0x01, // IN
		}
	case 123:
		// NTP v3 client request.
		p := make([]byte, 48)
		p[0] = 0x1b
		return p
	case 137:
		// NetBIOS name query for the wildcard name.
		p := []byte{
			0x80, 0xf0,
			0x00, 0x10,
			0x00, 0x01,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x20, 0x43, 0x4b,
		}
		for i := 0; i < 30; i++ {
			p = append(p, 0x41)
		}
		p = append(p, 0x00, 0x00, 0x21, 0x00, 0x01)
		return p
	case 161:
		// SNMPv1 get-request for sysDescr.0 with community "public".
		return []byte{
			0x30, 0x26, 0x02, 0x01, 0x00, 0x04, 0x06,
			'p', 'u', 'b', 'l', 'i', 'c',
			0xa0, 0x19, 0x02, 0x01, 0x01, 0x02, 0x01, 0x00,
			0x02, 0x01, 0x00, 0x30, 0x0e, 0x30, 0x0c, 0x06,
			0x08, 0x2b, 0x06, 0x01, 0x02, 0x01, 0x01, 0x01,
			0x00, 0x05, 0x00,
		}
	default:
		return []byte{0x00}
	}
}
