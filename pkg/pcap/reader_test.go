package pcap

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/maziazy/Lemon/internal/testutil"
)

func TestReader_Next(t *testing.T) {
	conv := testutil.NewConversation(t,
		testutil.Endpoint{IP: "192.168.1.2", Port: 50000},
		testutil.Endpoint{IP: "192.168.1.3", Port: 80}).
		Handshake().
		FromClient(10)
	path := filepath.Join(t.TempDir(), "test.pcap")
	testutil.WritePcap(t, path, conv.Frames)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	if reader.LinkType() != layers.LinkTypeEthernet {
		t.Errorf("Expected Ethernet link type, got %v", reader.LinkType())
	}

	count := 0
	for {
		ts, data, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ts.Equal(conv.Frames[count].Timestamp) {
			t.Errorf("Packet %d: expected timestamp %v, got %v", count, conv.Frames[count].Timestamp, ts)
		}
		if len(data) != len(conv.Frames[count].Data) {
			t.Errorf("Packet %d: expected %d bytes, got %d", count, len(conv.Frames[count].Data), len(data))
		}
		count++
	}

	expectedCount := 4
	if count != expectedCount {
		t.Errorf("Expected to read %d packets, but got %d", expectedCount, count)
	}
}

func TestNewReader_Errors(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.pcap")); err == nil {
		t.Error("Expected an error for a missing file")
	}

	garbage := filepath.Join(t.TempDir(), "garbage.pcap")
	if err := os.WriteFile(garbage, []byte("definitely not a capture file"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := NewReader(garbage); err == nil {
		t.Error("Expected an error for a file without a pcap header")
	}

	if _, err := Open("afpacket", garbage); err == nil {
		t.Error("Expected an error for an unknown engine")
	}
}
