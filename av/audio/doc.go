// Package audio provides the audio side of the phone check call pipeline.
//
// Telephone audio arrives as G.711 (PCMU or PCMA) at 8 kHz. The package
// decodes it into linear PCM and converts the result into the normalised
// 16 kHz float samples consumed by speech recognition:
//
//	dec, ok := audio.DecoderForPayloadType(pt)
//	pcm = dec.DecodeInto(payload, pcm)
//	samples := audio.Upsample8kTo16k(pcm)
//
// # Components
//
//   - G711Decoder: bit-exact table lookup decode per ITU-T G.711
//   - Resampler: fused int16 to float32 conversion with linear upsampling
//   - Level analysis: RMS and peak measurement of captured audio
//   - WriteWAV / SaveWAV: 16-bit mono WAV export of captured audio
//
// # Thread Safety
//
// The G.711 lookup tables are immutable after package initialisation and the
// decoders hold no mutable state, so both may be shared across goroutines.
package audio
