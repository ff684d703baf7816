package writer

import (
	"encoding/csv"
	"net/netip"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/maziazy/Lemon/internal/config"
	"github.com/maziazy/Lemon/internal/factory"
	"github.com/maziazy/Lemon/internal/model"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func sampleEssence() *model.Essence {
	ft := model.FiveTuple{
		SrcAddr:  netip.MustParseAddr("10.0.0.1"),
		DstAddr:  netip.MustParseAddr("10.0.0.2"),
		SrcPort:  40000,
		DstPort:  80,
		Protocol: model.ProtocolTCP,
	}
	return &model.Essence{
		Connection: ft.String(),
		Features: model.Features{
			FiveTuple:   ft,
			PacketSizes: []int{100, 200, 300, 400, 500},
			TalkBytes:   model.Split{A: 300, B: 1250, AB: 1550},
			TalkPackets: model.Split{A: 2, B: 4, AB: 6},
			Objectives:  model.Objectives{TalkPattern: true, EarlyWindow: true},
		},
		Label: "HTTP",
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse %s: %v", path, err)
	}
	return rows
}

func TestCSVWriter_HeaderAndRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "essence.csv")
	w, err := NewCSVWriter(path, 5, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCSVWriter failed: %v", err)
	}
	if err := w.Write(sampleEssence()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 2 {
		t.Fatalf("Expected header and one row, got %d rows", len(rows))
	}

	expectedHeader := []string{
		"connection",
		"packet1size", "packet2size", "packet3size", "packet4size", "packet5size",
		"packet-count-A", "packet-count-B", "packet-count-A+B",
		"byte-count-A", "byte-count-B", "byte-count-A+B",
		"dport", "sport", "label",
	}
	if !reflect.DeepEqual(rows[0], expectedHeader) {
		t.Errorf("Unexpected header:\n got %v\nwant %v", rows[0], expectedHeader)
	}

	expectedRow := []string{
		"10.0.0.1:40000 > 10.0.0.2:80",
		"100", "200", "300", "400", "500",
		"2", "4", "6",
		"300", "1250", "1550",
		"80", "40000", "HTTP",
	}
	if !reflect.DeepEqual(rows[1], expectedRow) {
		t.Errorf("Unexpected row:\n got %v\nwant %v", rows[1], expectedRow)
	}
}

func TestCSVWriter_EmptyDatasetHasHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "essence.csv")
	w, err := NewCSVWriter(path, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCSVWriter failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	rows := readCSV(t, path)
	if len(rows) != 1 || len(rows[0]) != 3+10 {
		t.Errorf("Expected a single 13-column header, got %v", rows)
	}
}

func TestCSVWriter_OpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "essence.csv")
	if _, err := NewCSVWriter(path, 5, zap.NewNop()); err == nil {
		t.Fatal("Expected an error for an output file in a missing directory")
	}
}

func TestFactory_CreatesCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	cfg := config.Default().Output

	writers, err := factory.Create(cfg, factory.Env{OutputPath: path, EarlyWindow: 5, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(writers) != 1 || writers[0].Name() != "csv" {
		t.Fatalf("Expected one csv writer, got %v", writers)
	}
	if err := factory.CloseAll(writers); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Output file was not created: %v", err)
	}
}

func TestEncodeEssence(t *testing.T) {
	data, err := EncodeEssence(sampleEssence())
	if err != nil {
		t.Fatalf("EncodeEssence failed: %v", err)
	}

	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	fields := st.AsMap()

	if fields["connection"] != "10.0.0.1:40000 > 10.0.0.2:80" {
		t.Errorf("Unexpected connection %v", fields["connection"])
	}
	if fields["label"] != "HTTP" {
		t.Errorf("Unexpected label %v", fields["label"])
	}
	if sizes, ok := fields["packet_sizes"].([]interface{}); !ok || len(sizes) != 5 || sizes[0] != float64(100) {
		t.Errorf("Unexpected packet sizes %v", fields["packet_sizes"])
	}
	bytes, ok := fields["byte_count"].(map[string]interface{})
	if !ok || bytes["ab"] != float64(1550) {
		t.Errorf("Unexpected byte counts %v", fields["byte_count"])
	}
	if fields["dport"] != float64(80) || fields["sport"] != float64(40000) {
		t.Errorf("Unexpected ports %v/%v", fields["dport"], fields["sport"])
	}
}
