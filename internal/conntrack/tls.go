package conntrack

import "github.com/google/gopacket/layers"

const tlsRecordHeaderLen = 5

// looksLikeTLS checks whether payload starts with a TLS record header: a known
// content type followed by an SSLv3/TLS protocol version.
func looksLikeTLS(payload []byte) bool {
	if len(payload) < tlsRecordHeaderLen {
		return false
	}
	switch layers.TLSType(payload[0]) {
	case layers.TLSChangeCipherSpec, layers.TLSAlert, layers.TLSHandshake, layers.TLSApplicationData:
	default:
		return false
	}
	return payload[1] == 0x03 && payload[2] <= 0x04
}
