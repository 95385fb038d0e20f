// Package speech turns collected call audio into a pass/fail verdict.
//
// [HTTPTranscriber] sends the samples to a whisper.cpp compatible server,
// [Guarded] serialises access to a transcriber that is not safe for
// concurrent use, and [PhraseMatcher] compares the transcript with the
// expected greeting.
package speech
