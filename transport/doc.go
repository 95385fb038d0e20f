// Package transport provides the UDP plumbing shared by the SIP dialog,
// the RTP receiver and the STUN client.
//
// # UDP Sockets
//
// UDPSocket wraps a *net.UDPConn with reads that honour both a timeout and
// context cancellation. Reads poll in short slices (DefaultPollInterval) so
// a cancelled context is noticed promptly without closing the socket:
//
//	sock, err := transport.ListenUDP("0.0.0.0:0")
//	if err != nil {
//	    return err
//	}
//	defer sock.Close()
//	n, from, err := sock.ReadFrom(ctx, buf, 2*time.Second)
//	if errors.Is(err, transport.ErrReadTimeout) {
//	    // nothing arrived
//	}
//
// # STUN
//
// STUNClient sends RFC 5389 Binding requests from a caller's socket and
// returns the XOR-MAPPED-ADDRESS, which is the address the SIP server and
// the far end will see for that socket:
//
//	public, err := transport.NewSTUNClient("stun.l.google.com:19302").DiscoverOn(ctx, sock)
//
// Failures are reported as *STUNError with a kind (resolution, timeout,
// malformed response) so callers can decide whether to fall back.
//
// # Packet Taps
//
// A PacketTap installed with SetTap sees every datagram sent or received on
// a socket. The capture package implements one that writes pcap files.
package transport
