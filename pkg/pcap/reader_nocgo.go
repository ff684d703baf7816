//go:build !cgo

package pcap

import "errors"

// NewLibpcapReader is unavailable without cgo.
func NewLibpcapReader(filePath string) (*Reader, error) {
	return nil, errors.New("libpcap engine requires a cgo build")
}
