// Package limits provides centralized datagram size constants and validation
// functions for the phone check. This package ensures consistent size
// enforcement across the SIP transport, the RTP receiver and the STUN client.
//
// # Size Limits
//
//   - MaxSIPMessage (4096 bytes): the largest SIP message built or accepted.
//     Larger messages would risk IP fragmentation over UDP.
//
//   - MaxRTPDatagram (2048 bytes): the RTP receive buffer. G.711 packets with
//     20 ms ptime are 172 bytes.
//
//   - MaxSTUNMessage (1024 bytes): the STUN receive buffer.
//
// # Validation Functions
//
// Each validation function checks for empty or short messages and size limit
// violations:
//
//	if err := limits.ValidateSIPMessage(msg); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 512)
package limits
