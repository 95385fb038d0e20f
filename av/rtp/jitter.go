package rtp

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// seqHalfRange is the wraparound midpoint of the 16-bit sequence space.
const seqHalfRange = 0x8000

// JitterConfig holds the jitter buffer tuning knobs.
type JitterConfig struct {
	TargetDepth int // packets held before the first emit
	MaxSize     int // upper bound on buffered packets
	MaxGap      int // missing packets tolerated before skipping ahead
}

// DefaultJitterConfig returns the defaults used for 20 ms telephone audio.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{TargetDepth: 3, MaxSize: 50, MaxGap: 10}
}

// BufferedPacket is the part of an RTP packet the jitter buffer keeps.
type BufferedPacket struct {
	Sequence  uint16
	Timestamp uint32
	Payload   []byte
}

// JitterStats is a snapshot of the jitter buffer counters.
type JitterStats struct {
	Received uint64
	Output   uint64
	Dropped  uint64
	Lost     uint64
	Depth    int
}

// JitterBuffer reorders packets by sequence number with wraparound-aware
// comparison, dropping late and duplicate packets and skipping over gaps
// wider than MaxGap.
//
// JitterBuffer is not safe for concurrent use; the receive loop owns it.
type JitterBuffer struct {
	config   JitterConfig
	packets  map[uint16]BufferedPacket
	nextSeq  uint16
	started  bool
	received uint64
	output   uint64
	dropped  uint64
	lost     uint64
}

// NewJitterBuffer creates a jitter buffer. Non-positive fields fall back to
// the defaults.
func NewJitterBuffer(config JitterConfig) *JitterBuffer {
	def := DefaultJitterConfig()
	if config.TargetDepth <= 0 {
		config.TargetDepth = def.TargetDepth
	}
	if config.MaxSize <= 0 {
		config.MaxSize = def.MaxSize
	}
	if config.MaxGap <= 0 {
		config.MaxGap = def.MaxGap
	}
	return &JitterBuffer{
		config:  config,
		packets: make(map[uint16]BufferedPacket, config.MaxSize+1),
	}
}

// IsBefore reports whether sequence a precedes b in 16-bit wraparound
// arithmetic, that is (b-a) mod 2^16 lies in (0, 2^15). Sequences exactly
// 2^15 apart are not before each other in either direction.
func IsBefore(a, b uint16) bool {
	diff := b - a
	return diff > 0 && diff < seqHalfRange
}

// distance is the forward distance from the next expected sequence.
func (jb *JitterBuffer) distance(seq uint16) uint16 {
	return seq - jb.nextSeq
}

// Insert offers a packet to the buffer and reports whether it was accepted.
//
// Packets before the next expected sequence, duplicates, and packets exactly
// half the sequence space away are rejected. When the buffer grows past
// MaxSize the oldest entry is evicted and counted as dropped.
func (jb *JitterBuffer) Insert(pkt BufferedPacket) bool {
	jb.received++
	seq := pkt.Sequence

	if !jb.started {
		jb.nextSeq = seq
		jb.started = true
		logrus.WithFields(logrus.Fields{
			"function": "JitterBuffer.Insert",
			"sequence": seq,
		}).Debug("Jitter buffer initialized")
	}

	if IsBefore(seq, jb.nextSeq) {
		jb.dropped++
		return false
	}
	if jb.distance(seq) == seqHalfRange {
		jb.dropped++
		logrus.WithFields(logrus.Fields{
			"function": "JitterBuffer.Insert",
			"sequence": seq,
			"next_seq": jb.nextSeq,
		}).Warn("Rejected packet at ambiguous sequence distance")
		return false
	}
	if _, dup := jb.packets[seq]; dup {
		jb.dropped++
		return false
	}

	jb.packets[seq] = pkt

	for len(jb.packets) > jb.config.MaxSize {
		oldest, _ := jb.oldest()
		delete(jb.packets, oldest)
		jb.dropped++
		logrus.WithFields(logrus.Fields{
			"function": "JitterBuffer.Insert",
			"sequence": oldest,
			"max_size": jb.config.MaxSize,
		}).Warn("Jitter buffer overflow, dropped oldest packet")
	}

	return true
}

// oldest returns the buffered sequence closest to the next expected one.
func (jb *JitterBuffer) oldest() (uint16, bool) {
	var (
		best  uint16
		bestD uint16
		found bool
	)
	for seq := range jb.packets {
		d := jb.distance(seq)
		if !found || d < bestD {
			best, bestD, found = seq, d, true
		}
	}
	return best, found
}

// Pop returns the next packet in sequence order, or false when the caller
// should wait for more packets.
func (jb *JitterBuffer) Pop() (BufferedPacket, bool) {
	if !jb.started {
		return BufferedPacket{}, false
	}

	warm := uint64(jb.config.TargetDepth)
	if jb.output < warm && len(jb.packets) < jb.config.TargetDepth {
		return BufferedPacket{}, false
	}

	if pkt, ok := jb.packets[jb.nextSeq]; ok {
		return jb.emit(pkt), true
	}

	first, ok := jb.oldest()
	if !ok {
		return BufferedPacket{}, false
	}
	gap := jb.distance(first)
	if int(gap) <= jb.config.MaxGap {
		return BufferedPacket{}, false
	}

	jb.lost += uint64(gap)
	logrus.WithFields(logrus.Fields{
		"function": "JitterBuffer.Pop",
		"from_seq": jb.nextSeq,
		"to_seq":   first,
		"skipped":  gap,
	}).Debug("Skipping missing packets")
	jb.nextSeq = first
	return jb.emit(jb.packets[first]), true
}

func (jb *JitterBuffer) emit(pkt BufferedPacket) BufferedPacket {
	delete(jb.packets, pkt.Sequence)
	jb.nextSeq = pkt.Sequence + 1
	jb.output++
	return pkt
}

// Drain empties the buffer, returning every remaining packet in sequence
// order starting at the next expected sequence. Holes are skipped and
// counted as lost.
func (jb *JitterBuffer) Drain() []BufferedPacket {
	if len(jb.packets) == 0 {
		return nil
	}

	seqs := make([]uint16, 0, len(jb.packets))
	for seq := range jb.packets {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool {
		return jb.distance(seqs[i]) < jb.distance(seqs[j])
	})

	out := make([]BufferedPacket, 0, len(seqs))
	for i, seq := range seqs {
		// The initial hole is not a loss; the stream is being flushed.
		if i > 0 {
			jb.lost += uint64(jb.distance(seq))
		}
		out = append(out, jb.emit(jb.packets[seq]))
	}
	return out
}

// Stats returns the current counters.
func (jb *JitterBuffer) Stats() JitterStats {
	return JitterStats{
		Received: jb.received,
		Output:   jb.output,
		Dropped:  jb.dropped,
		Lost:     jb.lost,
		Depth:    len(jb.packets),
	}
}
