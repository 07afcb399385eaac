package hw

import "math"

// Ramp coefficients for the "S-shaped" amplitude curve (§4.1):
//
//	f(x) = x + c1*sin(2*pi*x) + c2*sin(4*pi*x) + c3*sin(6*pi*x) +
//	       c4*sin(8*pi*x) + c5*sin(10*pi*x)
const (
	rampC1 = -0.12182865361171612
	rampC2 = -0.018557469249199286
	rampC3 = -0.0009378783245428506
	rampC4 = 0.0008567571519403228
	rampC5 = 0.00018706912431472442
)

const rampSaturation = (1 << 23) - 1 // 24-bit signed full scale

// RampDomain describes the sample rate and RAM length/duration clipping
// governed by the protocol in use (§4.1).
type RampDomain struct {
	SampleRateHz int     // 48000 for protocol-1 sidetone, 192000 for protocol-2
	MinMs        float64 // always 3ms
	MaxMs        float64 // 10ms before firmware 14, 20ms from firmware 14
}

// RampDomainFor returns the clipping domain for a given protocol/firmware
// combination, per §4.1.
func RampDomainFor(protocol2 bool, firmwareVersion int) RampDomain {
	rate := 48000
	if protocol2 {
		rate = 192000
	}

	maxMs := 10.0
	if firmwareVersion >= 14 {
		maxMs = 20.0
	}

	return RampDomain{SampleRateHz: rate, MinMs: 3, MaxMs: maxMs}
}

// Clip clamps a requested ramp duration into [MinMs, MaxMs].
func (d RampDomain) Clip(ms float64) float64 {
	if ms < d.MinMs {
		return d.MinMs
	}

	if ms > d.MaxMs {
		return d.MaxMs
	}

	return ms
}

// RampGenerator computes and caches the 24-bit-signed ramp curve, and skips
// regeneration when neither the length nor the protocol has changed
// (§4.1 "Regeneration is skipped if both (length, protocol) match the
// previous call").
type RampGenerator struct {
	lastLengthWords int
	lastProtocol2   bool
	haveLast        bool
}

// Samples computes the ramp curve for the given duration (already clipped
// by the caller via RampDomain.Clip) and sample rate. Index 0 is near 0,
// index N-1 is near 2^23-1, and the curve is monotonically non-decreasing
// (§8).
func Samples(durationMs float64, domain RampDomain) []int32 {
	period := 1.0 / float64(domain.SampleRateHz)
	n := int(math.Ceil((durationMs / 1000.0) / period))
	if n < 1 {
		n = 1
	}

	out := make([]int32, n)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1)
		if n == 1 {
			x = 1
		}

		y := x +
			rampC1*math.Sin(2*math.Pi*x) +
			rampC2*math.Sin(4*math.Pi*x) +
			rampC3*math.Sin(6*math.Pi*x) +
			rampC4*math.Sin(8*math.Pi*x) +
			rampC5*math.Sin(10*math.Pi*x)

		if y < 0 {
			y = 0
		}

		if y > 1 {
			y = 1
		}

		out[i] = int32(math.Round(y * rampSaturation))
	}

	// Enforce non-decreasing order: the coefficient sum is very close to
	// monotone across [0,1] but round-trip rounding can in principle
	// introduce a one-LSB regression near the inflection points.
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			out[i] = out[i-1]
		}
	}

	return out
}

// WordsNeeded returns the length field to store in the keyer configuration
// register: a word address from firmware 14 onward, a byte address before
// that (§4.1).
func WordsNeeded(sampleCount int, firmwareVersion int) uint32 {
	if firmwareVersion >= 14 {
		return uint32(sampleCount)
	}

	return uint32(sampleCount) * 4 // byte address, 4 bytes per RAM word
}

// Regenerate regenerates the ramp curve and writes it (plus a
// saturation-filled remainder) into the RAM window, skipping the write
// entirely if the clipped sample count and protocol2 match the previous
// call.
func (g *RampGenerator) Regenerate(t RegisterTransport, ramOffset uint32, ramWords int, lengthMs float64, protocol2 bool, firmwareVersion int) (samples []int32, skipped bool, err error) {
	domain := RampDomainFor(protocol2, firmwareVersion)
	clipped := domain.Clip(lengthMs)
	s := Samples(clipped, domain)

	if g.haveLast && g.lastLengthWords == len(s) && g.lastProtocol2 == protocol2 {
		return s, true, nil
	}

	words := make([]uint32, ramWords)
	for i := range words {
		if i < len(s) {
			words[i] = uint32(s[i])
		} else {
			words[i] = rampSaturation
		}
	}

	if err := t.WriteRAM(ramOffset, words); err != nil {
		return nil, false, &TransportError{Op: "ramp write RAM", Err: err}
	}

	g.lastLengthWords = len(s)
	g.lastProtocol2 = protocol2
	g.haveLast = true

	return s, false, nil
}
