// Package factory creates the collaborators a phone check depends on:
// the transcriber, the phrase matcher and the alerter.
//
// The factory hides the choice between production backends
// (speech.HTTPTranscriber, notify.SMSAlerter) and the in-memory
// simulations from the testing package, so the checker and the CLI never
// reference either directly.
//
// # Configuration
//
// The starting configuration usually comes from config.Config and can be
// overridden by environment variables:
//   - PHONECHECK_USE_SIMULATION: "true" or "false" to simulate every collaborator
//   - PHONECHECK_TRANSCRIBER_TIMEOUT: transcription timeout in milliseconds
//   - PHONECHECK_ALERT_ATTEMPTS: SMS delivery attempts per alert
//
// # Usage
//
//	f := factory.NewCollaboratorFactory(cfg.CollaboratorConfig())
//	transcriber, err := f.CreateTranscriber()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	alerter := f.CreateAlerter()
//
// # Testing Support
//
//	sims := factory.NewCollaboratorFactory(nil).CreateSimulationForTesting()
//	sims.Transcriber.SetTranscript("thank you for calling")
//
// # Mode Switching
//
//	f.SwitchToSimulation()
//	f.SwitchToReal()
package factory
