// Package capture writes the datagrams of a phone check to a pcap file so
// a failing call can be inspected in Wireshark.
//
// Sockets only see UDP payloads, so each datagram is wrapped in a
// synthesized IPv4/UDP header and written with the raw-IP link type.
package capture

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/opd-ai/phonecheck/transport"
	"github.com/sirupsen/logrus"
)

// snapLen is the pcap snapshot length.
const snapLen = 65536

// ErrClosed is returned when closing a writer twice.
var ErrClosed = errors.New("pcap writer closed")

// PcapWriter implements transport.PacketTap.
type PcapWriter struct {
	mu      sync.Mutex
	file    *os.File
	writer  *pcapgo.Writer
	packets int
	err     error
	closed  bool
	now     func() time.Time
}

// Create truncates path and writes the pcap file header.
func Create(path string) (*PcapWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap file: %w", err)
	}

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "capture.Create",
		"file":     path,
	}).Info("Created pcap capture")

	return &PcapWriter{file: f, writer: w, now: time.Now}, nil
}

// Capture implements transport.PacketTap. Write failures are remembered
// and reported by Err and Close; they never disturb the call.
func (p *PcapWriter) Capture(dir transport.Direction, local, remote *net.UDPAddr, data []byte) {
	src, dst := local, remote
	if dir == transport.Inbound {
		src, dst = remote, local
	}

	frame, err := encapsulate(src, dst, data)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.err != nil {
		return
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "PcapWriter.Capture",
			"error":    err.Error(),
		}).Debug("Skipping datagram")
		return
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     p.now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := p.writer.WritePacket(ci, frame); err != nil {
		p.err = fmt.Errorf("failed to write packet: %w", err)
		return
	}
	p.packets++
}

func encapsulate(src, dst *net.UDPAddr, payload []byte) ([]byte, error) {
	if src == nil || dst == nil {
		return nil, errors.New("missing address")
	}
	srcIP, dstIP := src.IP.To4(), dst.IP.To4()
	if srcIP == nil || dstIP == nil {
		return nil, errors.New("only IPv4 is captured")
	}
	if srcIP.IsUnspecified() {
		srcIP = net.IPv4(127, 0, 0, 1).To4()
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Packets returns the number of datagrams written.
func (p *PcapWriter) Packets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.packets
}

// Err returns the first write error, if any.
func (p *PcapWriter) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close flushes and closes the file.
func (p *PcapWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true

	logrus.WithFields(logrus.Fields{
		"function": "PcapWriter.Close",
		"packets":  p.packets,
	}).Info("Closing pcap capture")

	if err := p.file.Close(); err != nil && p.err == nil {
		p.err = err
	}
	return p.err
}
