// Package interfaces defines the collaborators the phone check depends on
// but does not implement itself.
//
// The call engine in package sip produces audio; everything after that is
// reached through the interfaces here so that production backends and
// in-memory simulations can be swapped without touching the checker.
//
// # Core Interfaces
//
// [ICallPlacer] places one call and returns a sip.CallResult:
//
//	res := placer.PlaceCall(ctx)
//	if !res.Connected {
//	    log.Printf("call failed: %s", res.ErrorText())
//	}
//
// [ITranscriber] converts the collected 16 kHz samples to text. It is
// called only after the call has been torn down, so implementations may
// hold locks or large models for as long as they need:
//
//	text, err := transcriber.Transcribe(ctx, res.Samples)
//
// [IPhraseMatcher] compares the lowercased transcript with the expected
// greeting, and [IAlerter] delivers the failure alert.
//
// # Configuration
//
// [CollaboratorConfig] selects between real and simulated backends:
//
//	config := &interfaces.CollaboratorConfig{
//	    UseSimulation:      false,
//	    TranscriberURL:     "http://127.0.0.1:8080/inference",
//	    TranscriberTimeout: 60000, // milliseconds
//	    AlertRetryAttempts: 3,
//	}
//	if err := config.Validate(); err != nil {
//	    log.Fatalf("invalid config: %v", err)
//	}
//
// # Implementation Selection
//
// The factory package creates implementations based on configuration:
//   - UseSimulation=true: simulated transcriber and alerter from the testing package
//   - UseSimulation=false: speech.HTTPTranscriber and notify.SMSAlerter
//
// # Thread Safety
//
// Implementations must be safe for concurrent use, although the checker
// only ever runs one check at a time.
package interfaces
