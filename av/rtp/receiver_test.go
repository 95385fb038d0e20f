package rtp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/phonecheck/av/audio"
)

func newTestReceiver(t *testing.T) *Receiver {
	t.Helper()
	r, err := NewReceiver(ReceiverConfig{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func g711Packet(t testing.TB, pt uint8, seq uint16, fill byte) []byte {
	payload := make([]byte, 160)
	for i := range payload {
		payload[i] = fill
	}
	return marshalPacket(t, rtp.Header{PayloadType: pt, SequenceNumber: seq, Timestamp: uint32(seq) * 160, SSRC: 0xCAFE}, payload)
}

func TestReceiver_HandleDatagram_Reorders(t *testing.T) {
	r := newTestReceiver(t)

	order := []uint16{0, 2, 1, 3, 5, 4}
	for _, seq := range order {
		r.HandleDatagram(g711Packet(t, 0, seq, byte(0x80+seq)))
	}
	r.Flush()

	pcm := r.SamplesPCM()
	require.Len(t, pcm, 6*160)
	dec := audio.NewG711Decoder(audio.ULaw)
	for seq := 0; seq < 6; seq++ {
		want := dec.DecodeSample(byte(0x80 + seq))
		assert.Equal(t, want, pcm[seq*160], "packet %d", seq)
		assert.Equal(t, want, pcm[seq*160+159], "packet %d", seq)
	}
	assert.Len(t, r.SamplesF32(), 2*6*160)
}

func TestReceiver_HandleDatagram_LocksPayloadType(t *testing.T) {
	r := newTestReceiver(t)

	r.HandleDatagram(g711Packet(t, 8, 0, 0xD5))
	r.HandleDatagram(g711Packet(t, 0, 1, 0xFF))
	r.HandleDatagram(g711Packet(t, 8, 2, 0xD5))
	r.HandleDatagram(g711Packet(t, 8, 3, 0xD5))
	r.Flush()

	stats := r.Stats()
	assert.Equal(t, uint64(4), stats.Datagrams)
	assert.Equal(t, uint64(1), stats.PayloadTypeChanged)
	assert.Len(t, r.SamplesPCM(), 3*160)
}

func TestReceiver_HandleDatagram_DropsGarbage(t *testing.T) {
	r := newTestReceiver(t)

	r.HandleDatagram([]byte{0x01, 0x02})
	r.HandleDatagram(make([]byte, 20))
	r.HandleDatagram(g711Packet(t, 96, 0, 0x00))
	r.Flush()

	stats := r.Stats()
	assert.Equal(t, uint64(2), stats.Malformed)
	assert.Equal(t, uint64(1), stats.UnsupportedCodec)
	assert.Empty(t, r.SamplesPCM())
	assert.Empty(t, r.SamplesF32())
}

func TestReceiver_ReceiveFor_Loopback(t *testing.T) {
	r := newTestReceiver(t)

	sender, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: r.LocalPort()})
	require.NoError(t, err)
	defer sender.Close()

	packets := make([][]byte, 10)
	for i := range packets {
		packets[i] = g711Packet(t, 0, uint16(i), 0xFF)
	}
	go func() {
		for _, p := range packets {
			_, _ = sender.Write(p)
			time.Sleep(2 * time.Millisecond)
		}
	}()

	completed, err := r.ReceiveFor(context.Background(), 300*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Len(t, r.SamplesPCM(), 10*160)
	assert.Len(t, r.SamplesF32(), 10*320)
	assert.Equal(t, uint64(10), r.Stats().Jitter.Output)
}

func TestReceiver_ReceiveFor_Cancelled(t *testing.T) {
	r := newTestReceiver(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	completed, err := r.ReceiveFor(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReceiver_ReceiveFor_CancelledMidway(t *testing.T) {
	r := newTestReceiver(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	completed, err := r.ReceiveFor(ctx, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReceiver_PunchNAT(t *testing.T) {
	r := newTestReceiver(t)

	remote, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer remote.Close()

	require.NoError(t, r.PunchNAT(context.Background(), remote.LocalAddr().(*net.UDPAddr)))

	buf := make([]byte, 64)
	for i := 0; i < PunchPacketCount; i++ {
		_ = remote.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := remote.ReadFromUDP(buf)
		require.NoError(t, err)
		h, err := ParseHeader(buf[:n])
		require.NoError(t, err)
		assert.Equal(t, uint16(i), h.SequenceNumber)
		assert.Equal(t, uint32(i*160), h.Timestamp)
		assert.Equal(t, uint8(0), h.PayloadType)
	}
}

func TestReceiver_Keepalive(t *testing.T) {
	r := newTestReceiver(t)

	remote, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer remote.Close()

	r.EnableKeepalive(remote.LocalAddr().(*net.UDPAddr))
	_, err = r.ReceiveFor(context.Background(), 150*time.Millisecond)
	require.NoError(t, err)

	count := 0
	buf := make([]byte, 64)
	for {
		_ = remote.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		if _, _, err := remote.ReadFromUDP(buf); err != nil {
			break
		}
		count++
	}
	assert.GreaterOrEqual(t, count, 2)
}

func TestReceiver_ClosedSocket(t *testing.T) {
	r, err := NewReceiver(ReceiverConfig{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.ReceiveFor(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrReceiverClosed)
}
