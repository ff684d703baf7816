//go:build cgo

package pcap

import (
	"github.com/google/gopacket/pcap"
)

// NewLibpcapReader opens the capture through libpcap, which also understands
// formats pcapgo does not, e.g. compressed captures on some platforms.
func NewLibpcapReader(filePath string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, err
	}
	return &Reader{
		source:   handle,
		linkType: handle.LinkType(),
		closer:   handle.Close,
	}, nil
}
