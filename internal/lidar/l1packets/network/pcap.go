package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l1packets/parse"
	"github.com/banshee-data/lidar-buffer/internal/timeutil"
)

// PCAPReplayConfig controls how a capture is replayed.
type PCAPReplayConfig struct {
	UDPPort   int // destination port to keep; 0 keeps every UDP datagram
	Decoder   parse.Decoder
	Handler   PacketHandler
	Stats     PacketStatsInterface
	Forwarder *PacketForwarder

	// SpeedMultiplier paces replay against capture timestamps (1.0 = real
	// time, 2.0 = twice as fast). Zero or negative replays as fast as possible.
	SpeedMultiplier float64
	Clock           timeutil.Clock
}

// PCAPReplayResult summarises a replay.
type PCAPReplayResult struct {
	Frames    int // link-layer frames read
	Datagrams int // UDP datagrams dispatched after port filtering
	Elapsed   time.Duration
}

// ReadPCAPFile replays the VLP-16 datagrams of a capture file through the
// same decode and dispatch path as the live listener.
func ReadPCAPFile(ctx context.Context, reader PCAPReader, filename string, cfg PCAPReplayConfig) (PCAPReplayResult, error) {
	var result PCAPReplayResult

	if cfg.Stats == nil {
		cfg.Stats = noopStats{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	if err := reader.Open(filename); err != nil {
		return result, fmt.Errorf("failed to open PCAP file %s: %w", filename, err)
	}
	defer reader.Close()

	if cfg.UDPPort > 0 {
		log.Printf("[PCAP] replaying %s, UDP destination port %d (speed %.1fx)", filename, cfg.UDPPort, cfg.SpeedMultiplier)
	} else {
		log.Printf("[PCAP] replaying %s, all UDP ports (speed %.1fx)", filename, cfg.SpeedMultiplier)
	}

	linkType := layers.LinkType(reader.LinkType())
	start := cfg.Clock.Now()
	var lastCapture time.Time

	for {
		if err := ctx.Err(); err != nil {
			log.Printf("[PCAP] stopping due to context cancellation (processed %d datagrams)", result.Datagrams)
			return result, err
		}

		raw, err := reader.NextPacket()
		if errors.Is(err, io.EOF) {
			result.Elapsed = cfg.Clock.Since(start)
			log.Printf("[PCAP] replay complete: %d frames, %d datagrams in %v", result.Frames, result.Datagrams, result.Elapsed)
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("failed to read PCAP frame %d: %w", result.Frames+1, err)
		}
		result.Frames++

		payload, ok := udpPayload(raw.Data, linkType, cfg.UDPPort)
		if !ok {
			continue
		}

		if cfg.SpeedMultiplier > 0 {
			if !lastCapture.IsZero() {
				if delay := raw.Timestamp.Sub(lastCapture); delay > 0 {
					cfg.Clock.Sleep(time.Duration(float64(delay) / cfg.SpeedMultiplier))
				}
			}
			lastCapture = raw.Timestamp
		}

		result.Datagrams++
		if err := dispatchDatagram(payload, cfg.Stats, cfg.Forwarder, cfg.Decoder, cfg.Handler); err != nil {
			log.Printf("[PCAP] error handling datagram %d: %v", result.Datagrams, err)
		}

		if result.Datagrams%10000 == 0 {
			elapsed := cfg.Clock.Since(start)
			log.Printf("[PCAP] progress: %d datagrams in %v", result.Datagrams, elapsed)
		}
	}
}

// udpPayload extracts the UDP payload of a link-layer frame when its
// destination port matches. port 0 matches any port.
func udpPayload(data []byte, linkType layers.LinkType, port int) ([]byte, bool) {
	packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		return nil, false
	}
	if port > 0 && int(udp.DstPort) != port {
		return nil, false
	}
	if len(udp.Payload) == 0 {
		return nil, false
	}
	return udp.Payload, true
}
