package pcap

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Engine names accepted by Open.
const (
	EngineGo      = "pcapgo"
	EngineLibpcap = "libpcap"
)

const pcapngMagic = 0x0A0D0D0A

// Reader is a pull-based, non-restartable source of captured frames.
type Reader struct {
	source   gopacket.PacketDataSource
	linkType layers.LinkType
	closer   func()
}

// Open opens a capture file with the named engine.
func Open(engine, filePath string) (*Reader, error) {
	switch engine {
	case EngineGo, "":
		return NewReader(filePath)
	case EngineLibpcap:
		return NewLibpcapReader(filePath)
	}
	return nil, fmt.Errorf("unknown capture engine '%s'", engine)
}

// NewReader creates a new reader for the given pcap or pcapng file, decoded in
// pure Go.
func NewReader(filePath string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	buffered := bufio.NewReader(file)
	magic, err := buffered.Peek(4)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture header of '%s': %w", filePath, err)
	}

	r := &Reader{closer: func() { file.Close() }}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(buffered, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open pcapng '%s': %w", filePath, err)
		}
		r.source, r.linkType = ng, ng.LinkType()
		return r, nil
	}

	pr, err := pcapgo.NewReader(buffered)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open pcap '%s': %w", filePath, err)
	}
	r.source, r.linkType = pr, pr.LinkType()
	return r, nil
}

// LinkType returns the link layer type of every frame in the capture.
func (r *Reader) LinkType() layers.LinkType {
	return r.linkType
}

// Next returns the next frame and its capture timestamp. It returns io.EOF once
// the capture is exhausted. A record cut short at the end of the file is
// reported as io.ErrUnexpectedEOF.
func (r *Reader) Next() (time.Time, []byte, error) {
	data, ci, err := r.source.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return time.Time{}, nil, io.EOF
		}
		return time.Time{}, nil, err
	}
	return ci.Timestamp, data, nil
}

// Close closes the underlying file or pcap handle.
func (r *Reader) Close() {
	if r.closer != nil {
		r.closer()
	}
}
