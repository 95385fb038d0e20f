// Package sip implements the user agent client side of a single outbound
// call over UDP.
//
// The package is organised in layers:
//
//   - headers.go and messages.go build requests and pull the few fields the
//     client needs out of responses. Parsers are total on any input.
//   - digest.go answers RFC 2617 MD5 and MD5-sess challenges.
//   - sdp.go writes the receive-only G.711 offer and reads the answer.
//   - transport.go runs the INVITE client transaction with Timer A
//     retransmission and Timer B timeout.
//   - state.go and dialog.go hold the call state machine and the rules for
//     ACK, digest retry and BYE.
//   - client.go ties them to the RTP receiver and produces a CallResult.
//
// Example:
//
//	client, err := sip.NewClient(ctx, sip.ClientConfig{
//		Username:       "1000",
//		Password:       secret,
//		Server:         "sip.example.com",
//		Port:           5060,
//		Target:         "5551234567",
//		ListenDuration: 10 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	res := client.PlaceCall(ctx)
//	if res.Err != nil {
//		log.Println(res.ErrorText())
//	}
package sip
