package rtp

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/opd-ai/phonecheck/av/audio"
	"github.com/opd-ai/phonecheck/limits"
	"github.com/opd-ai/phonecheck/transport"
	"github.com/sirupsen/logrus"
)

// NAT pinhole and keepalive timing for 20 ms PCMU.
const (
	PunchPacketCount = 5
	PacketInterval   = 20 * time.Millisecond
	samplesPerPacket = 160
	keepaliveSeqBase = 100
)

// ReceiverConfig configures an RTP receiver.
type ReceiverConfig struct {
	// ListenAddr is the local bind address; port 0 selects an ephemeral port.
	ListenAddr string
	Jitter     JitterConfig
}

// DefaultReceiverConfig binds an ephemeral port on all IPv4 interfaces.
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{ListenAddr: "0.0.0.0:0", Jitter: DefaultJitterConfig()}
}

// ReceiverStats counts what the receive loop did with each datagram.
type ReceiverStats struct {
	Datagrams          uint64
	Malformed          uint64
	UnsupportedCodec   uint64
	PayloadTypeChanged uint64
	Jitter             JitterStats
}

// Receiver collects one call's G.711 audio from a UDP socket.
//
// Decoding happens inline in the receive loop: packets pass through the
// jitter buffer and their payloads are appended to a growing 8 kHz PCM
// buffer. A Receiver is owned by a single call and is not safe for
// concurrent use.
type Receiver struct {
	sock      *transport.UDPSocket
	jitter    *JitterBuffer
	decoder   *audio.G711Decoder
	pt        uint8
	ptLocked  bool
	pcm       []int16
	stats     ReceiverStats
	keepalive *net.UDPAddr
	ssrc      uint32
	kaSeq     uint16
	firstFrom *net.UDPAddr
}

// NewReceiver binds a socket and returns a receiver for it.
func NewReceiver(config ReceiverConfig) (*Receiver, error) {
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultReceiverConfig().ListenAddr
	}
	sock, err := transport.ListenUDP(config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind RTP socket: %w", err)
	}
	return NewReceiverWithSocket(sock, config.Jitter), nil
}

// NewReceiverWithSocket builds a receiver on an already bound socket, for
// example one that was used for STUN discovery first.
func NewReceiverWithSocket(sock *transport.UDPSocket, jitter JitterConfig) *Receiver {
	var b [4]byte
	_, _ = rand.Read(b[:])

	r := &Receiver{
		sock:   sock,
		jitter: NewJitterBuffer(jitter),
		pcm:    make([]int16, 0, 8000*10),
		ssrc:   binary.BigEndian.Uint32(b[:]),
		kaSeq:  keepaliveSeqBase,
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewReceiver",
		"local_addr": sock.LocalAddr().String(),
	}).Debug("RTP receiver ready")

	return r
}

// Socket exposes the underlying socket, for STUN discovery on the media port.
func (r *Receiver) Socket() *transport.UDPSocket {
	return r.sock
}

// LocalPort returns the bound RTP port.
func (r *Receiver) LocalPort() int {
	return r.sock.LocalPort()
}

// EnableKeepalive makes ReceiveFor send an empty PCMU packet to remote every
// PacketInterval, keeping symmetric NAT bindings open while listening.
func (r *Receiver) EnableKeepalive(remote *net.UDPAddr) {
	r.keepalive = remote
}

// PunchNAT sends PunchPacketCount empty PCMU packets to remote, 20 ms apart,
// so that inbound media is allowed through the local NAT.
func (r *Receiver) PunchNAT(ctx context.Context, remote *net.UDPAddr) error {
	logrus.WithFields(logrus.Fields{
		"function": "Receiver.PunchNAT",
		"remote":   remote.String(),
	}).Info("Sending NAT hole-punch packets")

	for i := 0; i < PunchPacketCount; i++ {
		pkt, err := buildSilencePacket(uint16(i), uint32(i*samplesPerPacket), r.ssrc)
		if err != nil {
			return fmt.Errorf("failed to build punch packet: %w", err)
		}
		if err := r.sock.WriteTo(pkt, remote); err != nil {
			return fmt.Errorf("failed to send punch packet: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PacketInterval):
		}
	}
	return nil
}

// ReceiveFor reads media until duration elapses or ctx is cancelled, then
// flushes the jitter buffer. It returns true when the full duration elapsed
// and false when ctx ended the wait early. Samples collected so far are kept
// either way.
func (r *Receiver) ReceiveFor(ctx context.Context, duration time.Duration) (bool, error) {
	defer r.Flush()

	buf := make([]byte, limits.MaxRTPDatagram)
	deadline := time.Now().Add(duration)
	lastKeepalive := time.Time{}
	completed := true

	for {
		if ctx.Err() != nil {
			completed = false
			break
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		if r.keepalive != nil && time.Since(lastKeepalive) >= PacketInterval {
			r.sendKeepalive()
			lastKeepalive = time.Now()
		}

		wait := remaining
		if r.keepalive != nil && wait > PacketInterval {
			wait = PacketInterval
		}

		n, from, err := r.sock.ReadFrom(ctx, buf, wait)
		switch {
		case err == nil:
			if r.firstFrom == nil {
				r.firstFrom = from
				logrus.WithFields(logrus.Fields{
					"function": "Receiver.ReceiveFor",
					"from":     from.String(),
					"bytes":    n,
				}).Info("First RTP packet received")
			}
			r.HandleDatagram(buf[:n])
		case errors.Is(err, transport.ErrReadTimeout):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			completed = false
		case errors.Is(err, transport.ErrClosed):
			return false, ErrReceiverClosed
		default:
			logrus.WithFields(logrus.Fields{
				"function": "Receiver.ReceiveFor",
				"error":    err.Error(),
			}).Warn("RTP receive error")
		}
		if !completed {
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Receiver.ReceiveFor",
		"completed": completed,
		"packets":   r.stats.Datagrams,
		"samples":   len(r.pcm),
		"malformed": r.stats.Malformed,
	}).Info("RTP receive done")

	return completed, nil
}

func (r *Receiver) sendKeepalive() {
	pkt, err := buildSilencePacket(r.kaSeq, uint32(r.kaSeq)*samplesPerPacket, r.ssrc)
	if err != nil {
		return
	}
	r.kaSeq++
	if err := r.sock.WriteTo(pkt, r.keepalive); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.sendKeepalive",
			"error":    err.Error(),
		}).Debug("Keepalive send failed")
	}
}

// HandleDatagram processes one received datagram. Anything that is not a
// G.711 RTP packet of the stream's payload type is counted and dropped.
func (r *Receiver) HandleDatagram(data []byte) {
	r.stats.Datagrams++

	h, err := ParseHeader(data)
	if err != nil {
		r.stats.Malformed++
		return
	}

	if !r.ptLocked {
		dec, ok := audio.DecoderForPayloadType(h.PayloadType)
		if !ok {
			r.stats.UnsupportedCodec++
			logrus.WithFields(logrus.Fields{
				"function":     "Receiver.HandleDatagram",
				"payload_type": h.PayloadType,
			}).Warn("Unsupported RTP payload type")
			return
		}
		r.decoder = dec
		r.pt = h.PayloadType
		r.ptLocked = true
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.HandleDatagram",
			"codec":    dec.Law().String(),
			"ssrc":     h.SSRC,
		}).Debug("Codec selected from first packet")
	} else if h.PayloadType != r.pt {
		r.stats.PayloadTypeChanged++
		return
	}

	payload := Payload(data, h)
	if len(payload) == 0 {
		return
	}

	owned := make([]byte, len(payload))
	copy(owned, payload)
	r.jitter.Insert(BufferedPacket{
		Sequence:  h.SequenceNumber,
		Timestamp: h.Timestamp,
		Payload:   owned,
	})

	for {
		pkt, ok := r.jitter.Pop()
		if !ok {
			break
		}
		r.pcm = r.decoder.DecodeInto(pkt.Payload, r.pcm)
	}
}

// Flush drains the jitter buffer into the PCM buffer.
func (r *Receiver) Flush() {
	if r.decoder == nil {
		return
	}
	for _, pkt := range r.jitter.Drain() {
		r.pcm = r.decoder.DecodeInto(pkt.Payload, r.pcm)
	}
}

// SamplesPCM returns the decoded 8 kHz samples. The slice aliases internal
// storage.
func (r *Receiver) SamplesPCM() []int16 {
	return r.pcm
}

// SamplesF32 returns the collected audio as normalised 16 kHz samples.
func (r *Receiver) SamplesF32() []float32 {
	return audio.Upsample8kTo16k(r.pcm)
}

// Stats returns receive counters including the jitter buffer snapshot.
func (r *Receiver) Stats() ReceiverStats {
	s := r.stats
	s.Jitter = r.jitter.Stats()
	return s
}

// Close releases the socket.
func (r *Receiver) Close() error {
	return r.sock.Close()
}
