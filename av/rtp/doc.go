// Package rtp receives the media side of an outbound phone check call.
//
// The package parses RTP version 2 headers with github.com/pion/rtp,
// reorders packets in a wraparound-aware jitter buffer, and decodes G.711
// payloads into an accumulating PCM buffer.
//
// # Architecture Overview
//
//   - ParseHeader / Payload: header fields and payload offset, honouring
//     CSRC lists, header extensions and padding
//   - JitterBuffer: ordered delivery keyed by sequence number, bounded size,
//     late and duplicate drop, gap skipping with loss accounting
//   - Receiver: UDP receive loop with cancellation, NAT pinhole punching and
//     keepalives, codec selection from the first packet
//
// # Receiving Audio
//
//	r, err := rtp.NewReceiver(rtp.DefaultReceiverConfig())
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	completed, err := r.ReceiveFor(ctx, 10*time.Second)
//	samples := r.SamplesF32() // 16 kHz, normalised
//
// # Sequence Arithmetic
//
// Sequence a is before b when (b-a) mod 2^16 lies in (0, 2^15). Packets
// exactly 2^15 away from the next expected sequence are rejected because
// their order cannot be decided.
//
// # Thread Safety
//
// A Receiver and its JitterBuffer belong to one call and must be used from a
// single goroutine.
package rtp
