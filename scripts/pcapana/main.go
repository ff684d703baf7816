package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/maziazy/Lemon/internal/engine/protocol"
	"github.com/maziazy/Lemon/pkg/pcap"
)

// Prints the first packets of a capture the way the extractor sees them.
func main() {
	limit := flag.Int("n", 20, "Number of TCP packets to print")
	engine := flag.String("engine", pcap.EngineGo, "Capture engine (pcapgo|libpcap)")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/pcapana [-n N] [-engine E] <path_to_pcap_file>")
		os.Exit(1)
	}

	reader, err := pcap.Open(*engine, flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer reader.Close()

	printed, index := 0, 0
	for printed < *limit {
		ts, data, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		index++

		info, err := protocol.ParsePacket(data, reader.LinkType(), ts)
		if err != nil {
			fmt.Printf("#%d skipped: %v\n", index, err)
			continue
		}
		printed++
		fmt.Printf("#%d [%s] %s flags=%08b len=%d payload=%d syn=%v\n",
			index,
			info.Timestamp.Format("15:04:05.000000"),
			info.FiveTuple,
			uint8(info.Flags), info.Length, info.PayloadLength,
			info.Flags.IsInitialSYN(),
		)
	}
}
