package sip

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pion/sdp/v3"
)

// SDP identity of the offer.
const (
	sdpUsername    = "phonecheck"
	sdpSessionName = "Phone Check Session"
	sdpPtimeMs     = 20
)

// Offer describes the media address advertised in the SDP body.
type Offer struct {
	// Addr is the address media should be sent to: the STUN-discovered
	// or configured public address when known, else the local RTP bind.
	Addr *net.UDPAddr
	// SessionID and SessionVersion fill the o= line; zero picks random values.
	SessionID      uint64
	SessionVersion uint64
}

// BuildOffer renders the receive-only PCMU/PCMA offer.
func BuildOffer(o Offer) (string, error) {
	if o.Addr == nil || o.Addr.IP == nil {
		return "", fmt.Errorf("sdp offer has no media address")
	}
	ip4 := o.Addr.IP.To4()
	if ip4 == nil {
		return "", fmt.Errorf("sdp offer address %s is not IPv4", o.Addr.IP)
	}
	if o.SessionID == 0 {
		o.SessionID = randomUint64()
	}
	if o.SessionVersion == 0 {
		o.SessionVersion = randomUint64()
	}
	ip := ip4.String()

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       sdpUsername,
			SessionID:      o.SessionID,
			SessionVersion: o.SessionVersion,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ip,
		},
		SessionName: sdp.SessionName(sdpSessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ip},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: o.Addr.Port},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{"0", "8"},
				},
				Attributes: []sdp.Attribute{
					sdp.NewAttribute("rtpmap", "0 PCMU/8000"),
					sdp.NewAttribute("rtpmap", "8 PCMA/8000"),
					sdp.NewAttribute("ptime", strconv.Itoa(sdpPtimeMs)),
					sdp.NewPropertyAttribute("recvonly"),
				},
			},
		},
	}

	out, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal sdp offer: %w", err)
	}
	return string(out), nil
}

// Answer is the part of the remote SDP the call needs.
type Answer struct {
	// RTPAddr is where the remote party sends and expects media.
	RTPAddr *net.UDPAddr
	// PayloadTypes lists the audio formats of the first audio stream in
	// preference order.
	PayloadTypes []uint8
}

// ParseAnswer extracts the remote audio address from an SDP body. A
// media-level c= line wins over the session-level one.
func ParseAnswer(body string) (*Answer, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(body)); err != nil {
		return nil, fmt.Errorf("failed to parse sdp answer: %w", err)
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" || md.MediaName.Port.Value == 0 {
			continue
		}
		conn := md.ConnectionInformation
		if conn == nil {
			conn = sd.ConnectionInformation
		}
		if conn == nil || conn.Address == nil {
			return nil, fmt.Errorf("%w: audio stream has no connection address", ErrNoMedia)
		}
		ip := net.ParseIP(conn.Address.Address)
		if ip == nil {
			return nil, fmt.Errorf("%w: bad connection address %q", ErrNoMedia, conn.Address.Address)
		}

		ans := &Answer{RTPAddr: &net.UDPAddr{IP: ip, Port: md.MediaName.Port.Value}}
		for _, f := range md.MediaName.Formats {
			if pt, err := strconv.ParseUint(f, 10, 7); err == nil {
				ans.PayloadTypes = append(ans.PayloadTypes, uint8(pt))
			}
		}
		return ans, nil
	}
	return nil, ErrNoMedia
}

// ExtractRTPAddress returns the remote RTP address from a response's SDP.
func ExtractRTPAddress(msg string) (*net.UDPAddr, bool) {
	body := Body(msg)
	if body == "" {
		return nil, false
	}
	ans, err := ParseAnswer(body)
	if err != nil {
		return nil, false
	}
	return ans.RTPAddr, true
}
