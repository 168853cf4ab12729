package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReplayPCAPFile replays band datagrams from a pcap capture into the
// assembler. Packets are paced by their capture timestamps scaled by
// speed (1.0 for realtime, 0 for as fast as possible). Only UDP payloads
// that start with the band magic are considered; everything else in the
// capture is skipped.
func ReplayPCAPFile(ctx context.Context, pcapFile string, assembler *Assembler, speed float64) error {
	f, err := os.Open(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open pcap file %s: %w", pcapFile, err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read pcap header of %s: %w", pcapFile, err)
	}

	var magic [4]byte
	bandMagic32 := uint32(BandMagic)
	magic[0] = byte(bandMagic32 >> 24)
	magic[1] = byte(bandMagic32 >> 16)
	magic[2] = byte(bandMagic32 >> 8)
	magic[3] = byte(bandMagic32)

	packetCount := 0
	bandCount := 0
	startWall := time.Now()
	var firstCapture time.Time

	for {
		select {
		case <-ctx.Done():
			log.Printf("PCAP replay stopping due to context cancellation (processed %d packets)", packetCount)
			return ctx.Err()
		default:
		}

		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			elapsed := time.Since(startWall)
			log.Printf("PCAP replay complete: %d packets, %d bands in %v", packetCount, bandCount, elapsed)
			return nil
		}
		if err != nil {
			return fmt.Errorf("pcap read error after %d packets: %w", packetCount, err)
		}
		packetCount++

		packet := gopacket.NewPacket(data, layers.LinkTypeEthernet, gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) < BandHeaderSize {
			continue
		}
		if !bytes.HasPrefix(udp.Payload, magic[:]) {
			continue
		}

		if speed > 0 {
			if firstCapture.IsZero() {
				firstCapture = ci.Timestamp
			} else {
				target := time.Duration(float64(ci.Timestamp.Sub(firstCapture)) / speed)
				if wait := target - time.Since(startWall); wait > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(wait):
					}
				}
			}
		}

		band, err := ParseBand(udp.Payload)
		if err != nil {
			log.Printf("Error parsing pcap packet %d: %v", packetCount, err)
			continue
		}
		bandCount++
		if err := assembler.AddBand(band); err != nil {
			log.Printf("Error assembling pcap packet %d: %v", packetCount, err)
		}

		if packetCount%10000 == 0 {
			elapsed := time.Since(startWall)
			log.Printf("PCAP progress: %d packets processed in %v (%.0f pkt/s)",
				packetCount, elapsed, float64(packetCount)/elapsed.Seconds())
		}
	}
}
