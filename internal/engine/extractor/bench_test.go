package extractor

import (
	"fmt"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/maziazy/Lemon/internal/config"
	"github.com/maziazy/Lemon/internal/model"
	"github.com/maziazy/Lemon/internal/testutil"
	"go.uber.org/zap"
)

func benchmarkFrames(b *testing.B, flows int) []testutil.Frame {
	var frames []testutil.Frame
	for i := 0; i < flows; i++ {
		conv := testutil.NewConversation(b,
			testutil.Endpoint{IP: "10.0.0.1", Port: uint16(10000 + i)},
			testutil.Endpoint{IP: "10.0.0.2", Port: 80}).
			Handshake().
			FromClient(120).
			FromServer(1400).
			FromServer(1400).
			FromServer(1400).
			FromServer(600).
			FromClient(40)
		frames = append(frames, conv.Frames...)
	}
	return frames
}

func BenchmarkExtractor_OnPacket(b *testing.B) {
	for _, flows := range []int{100, 1000} {
		frames := benchmarkFrames(b, flows)
		b.Run(fmt.Sprintf("%d_flows", flows), func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				ex := New(config.Default().Extractor, layers.LinkTypeEthernet, mapLabeler{}, []model.Writer{&memoryWriter{}}, zap.NewNop())
				for _, fr := range frames {
					if err := ex.OnPacket(fr.Timestamp, fr.Data); err != nil {
						b.Fatal(err)
					}
				}
				if stats := ex.Finish(); stats.FlowsEmitted != uint64(flows) {
					b.Fatalf("Expected %d flows, got %d", flows, stats.FlowsEmitted)
				}
			}
		})
	}
}
