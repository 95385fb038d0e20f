package rtp

import (
	"fmt"

	"github.com/pion/rtp"
)

// MinHeaderSize is the fixed part of an RTP header.
const MinHeaderSize = 12

// rtpVersion is the only RTP version accepted.
const rtpVersion = 2

// Header is the subset of an RTP header the receiver acts on.
type Header struct {
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Marker         bool
	// PayloadOffset is 12 + 4*CSRC count, plus 4 + 4*length when an
	// extension is present.
	PayloadOffset int
}

// ParseHeader parses the RTP header at the start of data.
//
// Returns ErrNotRTP for datagrams shorter than MinHeaderSize or with a
// version other than 2, and ErrTruncated when CSRC or extension words run
// past the end of the datagram.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < MinHeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrNotRTP, len(data))
	}
	if v := data[0] >> 6; v != rtpVersion {
		return Header{}, fmt.Errorf("%w: version %d", ErrNotRTP, v)
	}

	var h rtp.Header
	n, err := h.Unmarshal(data)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	return Header{
		PayloadType:    h.PayloadType,
		SequenceNumber: h.SequenceNumber,
		Timestamp:      h.Timestamp,
		SSRC:           h.SSRC,
		Marker:         h.Marker,
		PayloadOffset:  n,
	}, nil
}

// Payload returns the payload bytes of a datagram whose header has already
// been parsed, with any RTP padding removed. The result aliases data.
func Payload(data []byte, h Header) []byte {
	if h.PayloadOffset >= len(data) {
		return nil
	}
	end := len(data)
	if data[0]&0x20 != 0 {
		pad := int(data[end-1])
		if pad == 0 || end-pad < h.PayloadOffset {
			return nil
		}
		end -= pad
	}
	return data[h.PayloadOffset:end]
}

// buildSilencePacket marshals a PCMU packet used for NAT pinholes and
// keepalives. An empty payload keeps the datagram at the 12 byte minimum.
func buildSilencePacket(seq uint16, ts, ssrc uint32) ([]byte, error) {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        rtpVersion,
			PayloadType:    0,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           ssrc,
		},
	}
	return pkt.Marshal()
}
