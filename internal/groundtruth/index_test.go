package groundtruth

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/maziazy/Lemon/internal/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const sampleReport = `{
  "known.flows": [
    {"protocol": "TCP", "host_a.name": "10.0.0.1", "host_a.port": 40000,
     "host_b.name": "10.0.0.2", "host_b.port": 443, "detected.protocol.name": "TLS.YouTube"},
    {"protocol": "UDP", "host_a.name": "10.0.0.1", "host_a.port": 5353,
     "host_b.name": "224.0.0.251", "host_b.port": 5353, "detected.protocol.name": "MDNS"},
    {"protocol": "TCP", "host_a.name": "10.0.0.5", "host_a.port": 80,
     "host_b.name": "10.0.0.1", "host_b.port": 40001, "detected.protocol.name": "HTTP"}
  ],
  "unknown.flows": [
    {"protocol": "TCP", "host_a.name": "10.0.0.1", "host_a.port": 40002,
     "host_b.name": "10.0.0.7", "host_b.port": 9999, "detected.protocol.name": "Unknown"}
  ]
}`

func writeReport(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ndpi_out.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write report: %v", err)
	}
	return path
}

func TestLoad_TCPOnly(t *testing.T) {
	ix, err := Load(writeReport(t, sampleReport), false, zap.NewNop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ix.Len() != 2 {
		t.Fatalf("Expected 2 TCP flows, got %d", ix.Len())
	}
	if got := ix.Resolve("10.0.0.1:5353 > 224.0.0.251:5353", ""); got != model.UnknownLabel {
		t.Errorf("UDP flow must not be indexed, got %s", got)
	}
}

func TestResolve_Orientation(t *testing.T) {
	ix, err := Load(writeReport(t, sampleReport), false, zap.NewNop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cases := []struct {
		forward, reversed, want string
	}{
		{"10.0.0.1:40000 > 10.0.0.2:443", "10.0.0.2:443 > 10.0.0.1:40000", "TLS.YouTube"},
		// DPI saw the server as host A.
		{"10.0.0.1:40001 > 10.0.0.5:80", "10.0.0.5:80 > 10.0.0.1:40001", "HTTP"},
		{"10.0.0.1:1 > 10.0.0.2:2", "10.0.0.2:2 > 10.0.0.1:1", model.UnknownLabel},
	}
	for _, c := range cases {
		if got := ix.Resolve(c.forward, c.reversed); got != c.want {
			t.Errorf("Resolve(%q) = %q, want %q", c.forward, got, c.want)
		}
	}
}

func TestResolve_ForwardWins(t *testing.T) {
	report := &Report{KnownFlows: []FlowEntry{
		{Protocol: "TCP", HostAName: "1.1.1.1", HostAPort: 1, HostBName: "2.2.2.2", HostBPort: 2, DetectedProtocol: "Forward"},
		{Protocol: "TCP", HostAName: "2.2.2.2", HostAPort: 2, HostBName: "1.1.1.1", HostBPort: 1, DetectedProtocol: "Reversed"},
	}}
	ix := Build(report, false, zap.NewNop())

	if got := ix.Resolve("1.1.1.1:1 > 2.2.2.2:2", "2.2.2.2:2 > 1.1.1.1:1"); got != "Forward" {
		t.Errorf("Expected the forward name to win, got %s", got)
	}
	if got := ix.Resolve("2.2.2.2:2 > 1.1.1.1:1", "1.1.1.1:1 > 2.2.2.2:2"); got != "Reversed" {
		t.Errorf("Expected the forward name to win, got %s", got)
	}
}

func TestBuild_CollisionLastWriteWins(t *testing.T) {
	report := &Report{KnownFlows: []FlowEntry{
		{Protocol: "TCP", HostAName: "10.0.0.1", HostAPort: 40000, HostBName: "10.0.0.2", HostBPort: 80, DetectedProtocol: "HTTP"},
		{Protocol: "TCP", HostAName: "10.0.0.1", HostAPort: 40000, HostBName: "10.0.0.2", HostBPort: 80, DetectedProtocol: "HTTP.Google"},
	}}

	for run := 0; run < 2; run++ {
		core, logs := observer.New(zapcore.WarnLevel)
		ix := Build(report, false, zap.New(core))

		if got := ix.Resolve("10.0.0.1:40000 > 10.0.0.2:80", ""); got != "HTTP.Google" {
			t.Errorf("Run %d: expected the second label to win, got %s", run, got)
		}
		if len(ix.Warnings()) != 1 {
			t.Errorf("Run %d: expected 1 recorded warning, got %d", run, len(ix.Warnings()))
		}
		if logs.FilterMessage("Duplicate flow in DPI report").Len() != 1 {
			t.Errorf("Run %d: expected the collision to be logged once, got %d", run, logs.Len())
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	path := writeReport(t, sampleReport)
	a, err := Load(path, true, zap.NewNop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	b, err := Load(path, true, zap.NewNop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(a.labels, b.labels) {
		t.Errorf("Two builds from the same report differ: %v vs %v", a.labels, b.labels)
	}
	if a.Len() != 3 {
		t.Errorf("Expected unknown flows to be included, got %d entries", a.Len())
	}
}

func TestResolveFlow_IPv6Spelling(t *testing.T) {
	report := &Report{KnownFlows: []FlowEntry{
		{Protocol: "TCP", HostAName: "2001:0db8:0000:0000:0000:0000:0000:0001", HostAPort: 50000,
			HostBName: "2001:db8::2", HostBPort: 443, DetectedProtocol: "TLS"},
	}}
	ix := Build(report, false, zap.NewNop())

	if got := ix.Resolve("2001:db8::1:50000 > 2001:db8::2:443", ""); got != "TLS" {
		t.Errorf("Expected the expanded IPv6 spelling to match, got %s", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json"), false, zap.NewNop()); err == nil {
		t.Error("Expected an error for a missing report")
	}
	if _, err := Load(writeReport(t, "{not json"), false, zap.NewNop()); err == nil {
		t.Error("Expected an error for an unparseable report")
	}
}

func TestRunReader_Failure(t *testing.T) {
	err := RunReader(context.Background(), filepath.Join(t.TempDir(), "ndpiReader"), nil, "in.pcap", "out.json", zap.NewNop())
	if err == nil {
		t.Fatal("Expected an error for a missing reader binary")
	}
}
