// Package groundtruth turns an nDPI report into a flow name to application
// label lookup.
package groundtruth

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/maziazy/Lemon/internal/model"
	"go.uber.org/zap"
)

// FlowEntry is one flow of an ndpiReader JSON report. Only the fields used for
// labeling are decoded.
type FlowEntry struct {
	Protocol         string `json:"protocol"`
	HostAName        string `json:"host_a.name"`
	HostAPort        uint16 `json:"host_a.port"`
	HostBName        string `json:"host_b.name"`
	HostBPort        uint16 `json:"host_b.port"`
	DetectedProtocol string `json:"detected.protocol.name"`
}

// Name returns the flow name of the entry, host A being the source.
func (e FlowEntry) Name() string {
	return model.FlowName(normalizeHost(e.HostAName), e.HostAPort, normalizeHost(e.HostBName), e.HostBPort)
}

// Report is the part of an ndpiReader JSON report the index is built from.
type Report struct {
	KnownFlows   []FlowEntry `json:"known.flows"`
	UnknownFlows []FlowEntry `json:"unknown.flows"`
}

// Index maps flow names to the application detected by DPI.
type Index struct {
	labels   map[string]string
	warnings []string
}

// Load reads an ndpiReader JSON report from path and builds the index.
func Load(path string, includeUnknown bool, logger *zap.Logger) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read DPI report: %w", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse DPI report '%s': %w", path, err)
	}

	ix := Build(&report, includeUnknown, logger)
	logger.Info("Ground truth index built",
		zap.String("report", path),
		zap.Int("flows", ix.Len()),
		zap.Int("collisions", len(ix.Warnings())))
	return ix, nil
}

// Build indexes every TCP flow of the report. When two entries share a name
// the later one wins and a warning is recorded; such flows cannot be told
// apart by name.
func Build(report *Report, includeUnknown bool, logger *zap.Logger) *Index {
	ix := &Index{labels: make(map[string]string, len(report.KnownFlows))}

	ix.add(report.KnownFlows, logger)
	if includeUnknown {
		ix.add(report.UnknownFlows, logger)
	}
	return ix
}

func (ix *Index) add(entries []FlowEntry, logger *zap.Logger) {
	for _, flow := range entries {
		if !strings.EqualFold(flow.Protocol, "TCP") {
			continue
		}

		name := flow.Name()
		if previous, ok := ix.labels[name]; ok {
			msg := fmt.Sprintf("%s has appeared twice (%s, then %s)", name, previous, flow.DetectedProtocol)
			ix.warnings = append(ix.warnings, msg)
			logger.Warn("Duplicate flow in DPI report",
				zap.String("flow", name),
				zap.String("previous", previous),
				zap.String("label", flow.DetectedProtocol))
		}
		ix.labels[name] = flow.DetectedProtocol
	}
}

// Resolve returns the label of the forward name, else of the reversed name,
// else model.UnknownLabel.
func (ix *Index) Resolve(forward, reversed string) string {
	if label, ok := ix.labels[forward]; ok {
		return label
	}
	if label, ok := ix.labels[reversed]; ok {
		return label
	}
	return model.UnknownLabel
}

// ResolveFlow resolves the label of ft in either orientation.
func (ix *Index) ResolveFlow(ft model.FiveTuple) string {
	return ix.Resolve(ft.String(), ft.Reverse().String())
}

// Len returns the number of indexed flow names.
func (ix *Index) Len() int {
	return len(ix.labels)
}

// Warnings returns the collision warnings recorded while building.
func (ix *Index) Warnings() []string {
	return ix.warnings
}

// normalizeHost rewrites IP literals into the same textual form the packet
// parser produces, so that e.g. IPv6 spellings match.
func normalizeHost(host string) string {
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return host
	}
	return addr.Unmap().String()
}
