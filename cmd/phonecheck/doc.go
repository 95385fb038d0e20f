// Package main provides the phonecheck command.
//
// phonecheck places an outbound SIP call to a target number at the top of
// every business hour, transcribes the greeting that answers, and sends an
// SMS alert when the expected phrase is missing or the call fails.
//
// Usage:
//
//	phonecheck [flags]
//
// Flags:
//
//	--once              Run a single check and exit
//	--validate          Validate configuration and exit
//	--save-audio[=PATH] Save captured audio as WAV (default captured_audio.wav)
//	--config PATH       YAML configuration file
//	--env-file PATH     dotenv file (default .env, ignored when missing)
//	--pcap PATH         Capture SIP and RTP traffic to a pcap file
//	--log-level LEVEL   debug, info, warn or error
//	--log-json          Log as JSON
//
// Exit status is 1 when configuration is invalid, another instance holds
// the lock, or a --once check fails.
package main
