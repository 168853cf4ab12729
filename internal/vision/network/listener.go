package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/vlasvlasvlas/cupdance/internal/vision"
)

// UDPListener receives band datagrams from the capture hosts, decodes
// them and feeds the assembler.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	conn        *net.UDPConn
	assembler   *Assembler
	stats       *vision.PipelineStats
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Assembler   *Assembler
	Stats       *vision.PipelineStats
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		assembler:   config.Assembler,
		stats:       config.Stats,
	}
}

// Start begins listening for band datagrams and feeding the assembler.
// It returns when the context is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.conn = conn
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			log.Printf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}

	log.Printf("UDP listener started on %s with receive buffer %d bytes", l.address, l.rcvBuf)

	if l.stats != nil {
		go l.startStatsLogging(ctx)
	}

	buffer := make([]byte, MaxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			log.Print("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
			// Read deadline lets the loop notice context cancellation.
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, addr, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("UDP read error: %v", err)
				continue
			}

			if err := l.handleDatagram(buffer[:n]); err != nil {
				log.Printf("Error handling datagram from %v: %v", addr, err)
			}
		}
	}
}

// handleDatagram decodes one datagram and folds it into the assembler.
// Decode failures count as corrupt input and never stop the listener.
func (l *UDPListener) handleDatagram(datagram []byte) error {
	band, err := ParseBand(datagram)
	if err != nil {
		if l.stats != nil {
			// Attribution is unknown when the header itself is bad.
			l.stats.AddCorrupt(vision.CameraFloor)
		}
		return err
	}
	if l.assembler != nil {
		return l.assembler.AddBand(band)
	}
	return nil
}

// startStatsLogging periodically logs pipeline statistics.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	// First report shortly after startup, then on the configured interval.
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats()
	}

	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// Close closes the UDP listener and releases resources.
func (l *UDPListener) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
