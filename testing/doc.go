// Package testing provides simulated collaborators and a loopback SIP peer
// for deterministic tests of the phone check.
//
// # Overview
//
// Production runs talk to a real PBX, a real speech recogniser and a real
// SMS gateway. Tests replace all three with in-memory or loopback
// implementations from this package:
//
//   - [SimulatedUAS] answers SIP over UDP on 127.0.0.1 and streams G.711
//     audio over RTP after the caller's ACK.
//   - [SimulatedTranscriber] returns a scripted transcript.
//   - [SimulatedAlerter] records alerts in memory.
//
// The simulated collaborators satisfy the interfaces in package interfaces
// and are selected by the factory package when UseSimulation is set.
//
// # Usage
//
// Script a server that challenges once and then plays one second of PCMU:
//
//	uas, err := testing.NewSimulatedUAS(testing.UASConfig{
//	    Challenge: &digest.Challenge{Realm: "pbx", Nonce: "abc", Algorithm: "MD5"},
//	    Username:  "alice",
//	    Password:  "secret",
//	    Stream:    testing.StreamConfig{Packets: 50, PayloadType: 0, Fill: 0xFF},
//	})
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer uas.Close()
//
//	// point the client at uas.Addr(), place the call, then inspect:
//	invites := uas.Requests("INVITE")
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. The UAS serves from its
// own goroutines until Close returns.
package testing
