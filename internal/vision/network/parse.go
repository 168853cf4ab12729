// Package network receives camera frames over UDP. Each datagram carries
// one horizontal band of rows from a grayscale frame, preceded by a fixed
// header. The assembler stitches bands back into whole frames and hands
// the freshest complete frame to the analyzers, dropping older ones when
// the consumer falls behind.
package network

import (
	"encoding/binary"
	"fmt"

	"github.com/vlasvlasvlas/cupdance/internal/vision"
)

const (
	// BandMagic identifies a cupdance frame-band datagram.
	BandMagic = 0x43555044 // "CUPD"

	// BandVersion is the current header layout version.
	BandVersion = 1

	// BandHeaderSize is the fixed header length in bytes.
	BandHeaderSize = 24

	// MaxDatagramSize bounds a single band datagram. Senders normally
	// stay under the path MTU but jumbo datagrams are accepted.
	MaxDatagramSize = 65507
)

// RowBand is one decoded band datagram.
type RowBand struct {
	Camera         vision.CameraID
	FrameSeq       uint32
	TimestampNanos int64
	Width          uint16
	Height         uint16
	RowStart       uint16
	RowCount       uint16
	Pixels         []byte
}

// ParseBand decodes a band datagram. The header layout is big endian:
//
//	offset 0  uint32  magic "CUPD"
//	offset 4  uint8   version
//	offset 5  uint8   camera id
//	offset 6  uint16  row start
//	offset 8  uint32  frame sequence
//	offset 12 int64   frame timestamp (unix nanos)
//	offset 20 uint16  frame width
//	offset 22 uint16  frame height
//
// followed by rowCount*width grayscale bytes. The payload length
// determines rowCount.
func ParseBand(datagram []byte) (RowBand, error) {
	var b RowBand
	if len(datagram) < BandHeaderSize {
		return b, fmt.Errorf("band datagram too short: %d bytes", len(datagram))
	}
	if magic := binary.BigEndian.Uint32(datagram[0:4]); magic != BandMagic {
		return b, fmt.Errorf("bad band magic: 0x%08x", magic)
	}
	if v := datagram[4]; v != BandVersion {
		return b, fmt.Errorf("unsupported band version: %d", v)
	}
	cam := datagram[5]
	if cam > uint8(vision.CameraTable) {
		return b, fmt.Errorf("unknown camera id: %d", cam)
	}
	b.Camera = vision.CameraID(cam)
	b.RowStart = binary.BigEndian.Uint16(datagram[6:8])
	b.FrameSeq = binary.BigEndian.Uint32(datagram[8:12])
	b.TimestampNanos = int64(binary.BigEndian.Uint64(datagram[12:20]))
	b.Width = binary.BigEndian.Uint16(datagram[20:22])
	b.Height = binary.BigEndian.Uint16(datagram[22:24])

	if b.Width == 0 || b.Height == 0 {
		return b, fmt.Errorf("zero frame geometry: %dx%d", b.Width, b.Height)
	}
	payload := datagram[BandHeaderSize:]
	if len(payload) == 0 || len(payload)%int(b.Width) != 0 {
		return b, fmt.Errorf("band payload %d bytes not a multiple of width %d", len(payload), b.Width)
	}
	b.RowCount = uint16(len(payload) / int(b.Width))
	if int(b.RowStart)+int(b.RowCount) > int(b.Height) {
		return b, fmt.Errorf("band rows [%d,%d) exceed frame height %d", b.RowStart, b.RowStart+b.RowCount, b.Height)
	}
	b.Pixels = payload
	return b, nil
}

// EncodeBand is the inverse of ParseBand. It exists for tests and for the
// replay tooling; production senders live outside this process.
func EncodeBand(b RowBand) ([]byte, error) {
	if b.Width == 0 || b.Height == 0 {
		return nil, fmt.Errorf("zero frame geometry: %dx%d", b.Width, b.Height)
	}
	if len(b.Pixels) != int(b.RowCount)*int(b.Width) {
		return nil, fmt.Errorf("pixel payload %d bytes does not match %d rows of width %d", len(b.Pixels), b.RowCount, b.Width)
	}
	out := make([]byte, BandHeaderSize+len(b.Pixels))
	binary.BigEndian.PutUint32(out[0:4], BandMagic)
	out[4] = BandVersion
	out[5] = uint8(b.Camera)
	binary.BigEndian.PutUint16(out[6:8], b.RowStart)
	binary.BigEndian.PutUint32(out[8:12], b.FrameSeq)
	binary.BigEndian.PutUint64(out[12:20], uint64(b.TimestampNanos))
	binary.BigEndian.PutUint16(out[20:22], b.Width)
	binary.BigEndian.PutUint16(out[22:24], b.Height)
	copy(out[BandHeaderSize:], b.Pixels)
	return out, nil
}
