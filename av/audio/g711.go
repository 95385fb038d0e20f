package audio

import "github.com/sirupsen/logrus"

// Payload types carried by G.711 RTP streams.
const (
	PayloadTypePCMU uint8 = 0
	PayloadTypePCMA uint8 = 8
)

// G711Law identifies the companding law of a G.711 stream.
type G711Law uint8

const (
	// ULaw is PCMU, payload type 0.
	ULaw G711Law = iota
	// ALaw is PCMA, payload type 8.
	ALaw
)

// String returns the RTP encoding name of the law.
func (l G711Law) String() string {
	switch l {
	case ULaw:
		return "PCMU"
	case ALaw:
		return "PCMA"
	default:
		return "unknown"
	}
}

// ulawToPCM maps every μ-law byte to 16-bit linear PCM (ITU-T G.711).
var ulawToPCM = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

// alawToPCM maps every A-law byte to 16-bit linear PCM (ITU-T G.711).
var alawToPCM = [256]int16{
	-5504, -5248, -6016, -5760, -4480, -4224, -4992, -4736,
	-7552, -7296, -8064, -7808, -6528, -6272, -7040, -6784,
	-2752, -2624, -3008, -2880, -2240, -2112, -2496, -2368,
	-3776, -3648, -4032, -3904, -3264, -3136, -3520, -3392,
	-22016, -20992, -24064, -23040, -17920, -16896, -19968, -18944,
	-30208, -29184, -32256, -31232, -26112, -25088, -28160, -27136,
	-11008, -10496, -12032, -11520, -8960, -8448, -9984, -9472,
	-15104, -14592, -16128, -15616, -13056, -12544, -14080, -13568,
	-344, -328, -376, -360, -280, -264, -312, -296,
	-472, -456, -504, -488, -408, -392, -440, -424,
	-88, -72, -120, -104, -24, -8, -56, -40,
	-216, -200, -248, -232, -152, -136, -184, -168,
	-1376, -1312, -1504, -1440, -1120, -1056, -1248, -1184,
	-1888, -1824, -2016, -1952, -1632, -1568, -1760, -1696,
	-688, -656, -752, -720, -560, -528, -624, -592,
	-944, -912, -1008, -976, -816, -784, -880, -848,
	5504, 5248, 6016, 5760, 4480, 4224, 4992, 4736,
	7552, 7296, 8064, 7808, 6528, 6272, 7040, 6784,
	2752, 2624, 3008, 2880, 2240, 2112, 2496, 2368,
	3776, 3648, 4032, 3904, 3264, 3136, 3520, 3392,
	22016, 20992, 24064, 23040, 17920, 16896, 19968, 18944,
	30208, 29184, 32256, 31232, 26112, 25088, 28160, 27136,
	11008, 10496, 12032, 11520, 8960, 8448, 9984, 9472,
	15104, 14592, 16128, 15616, 13056, 12544, 14080, 13568,
	344, 328, 376, 360, 280, 264, 312, 296,
	472, 456, 504, 488, 408, 392, 440, 424,
	88, 72, 120, 104, 24, 8, 56, 40,
	216, 200, 248, 232, 152, 136, 184, 168,
	1376, 1312, 1504, 1440, 1120, 1056, 1248, 1184,
	1888, 1824, 2016, 1952, 1632, 1568, 1760, 1696,
	688, 656, 752, 720, 560, 528, 624, 592,
	944, 912, 1008, 976, 816, 784, 880, 848,
}

// G711Decoder converts companded G.711 bytes into linear PCM.
//
// A decoder holds no mutable state and may be shared between goroutines.
type G711Decoder struct {
	law   G711Law
	table *[256]int16
}

// NewG711Decoder creates a decoder for the given companding law.
func NewG711Decoder(law G711Law) *G711Decoder {
	table := &ulawToPCM
	if law == ALaw {
		table = &alawToPCM
	}
	return &G711Decoder{law: law, table: table}
}

// DecoderForPayloadType selects a decoder by RTP payload type.
//
// Parameters:
//   - pt: RTP payload type (low 7 bits of the second header byte)
//
// Returns:
//   - *G711Decoder: decoder for PCMU (0) or PCMA (8)
//   - bool: false when the payload type is not G.711
func DecoderForPayloadType(pt uint8) (*G711Decoder, bool) {
	switch pt {
	case PayloadTypePCMU:
		return NewG711Decoder(ULaw), true
	case PayloadTypePCMA:
		return NewG711Decoder(ALaw), true
	default:
		logrus.WithFields(logrus.Fields{
			"function":     "DecoderForPayloadType",
			"payload_type": pt,
		}).Debug("Unsupported payload type")
		return nil, false
	}
}

// Law reports the companding law of the decoder.
func (d *G711Decoder) Law() G711Law {
	return d.law
}

// DecodeSample decodes a single companded byte.
func (d *G711Decoder) DecodeSample(b byte) int16 {
	return d.table[b]
}

// Decode converts a payload into a newly allocated PCM slice of equal length.
func (d *G711Decoder) Decode(payload []byte) []int16 {
	out := make([]int16, 0, len(payload))
	return d.DecodeInto(payload, out)
}

// DecodeInto appends the decoded samples of payload to dst and returns the
// extended slice. No allocation happens when dst has enough capacity.
func (d *G711Decoder) DecodeInto(payload []byte, dst []int16) []int16 {
	for _, b := range payload {
		dst = append(dst, d.table[b])
	}
	return dst
}
