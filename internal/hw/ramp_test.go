package hw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRampDomainForClipsByFirmware(t *testing.T) {
	tests := []struct {
		name            string
		protocol2       bool
		firmwareVersion int
		wantRate        int
		wantMaxMs       float64
	}{
		{"protocol1 pre-14", false, 10, 48000, 10},
		{"protocol2 pre-14", true, 10, 192000, 10},
		{"protocol2 post-14", true, 14, 192000, 20},
		{"protocol1 post-14", false, 20, 48000, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := RampDomainFor(tt.protocol2, tt.firmwareVersion)
			assert.Equal(t, tt.wantRate, d.SampleRateHz)
			assert.Equal(t, 3.0, d.MinMs)
			assert.Equal(t, tt.wantMaxMs, d.MaxMs)
		})
	}
}

func TestRampDomainClip(t *testing.T) {
	d := RampDomain{MinMs: 3, MaxMs: 10}

	assert.Equal(t, 3.0, d.Clip(0))
	assert.Equal(t, 10.0, d.Clip(100))
	assert.Equal(t, 5.0, d.Clip(5))
}

func TestSamplesMonotonicAndBounded(t *testing.T) {
	domain := RampDomainFor(true, 20)

	samples := Samples(10, domain)
	require.NotEmpty(t, samples)

	assert.InDelta(t, 0, samples[0], float64(1<<16))
	assert.InDelta(t, rampSaturation, samples[len(samples)-1], float64(1<<16))

	for i := 1; i < len(samples); i++ {
		assert.GreaterOrEqualf(t, samples[i], samples[i-1], "ramp regressed at index %d", i)
	}
}

func TestSamplesMonotonicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ms := rapid.Float64Range(3, 20).Draw(t, "durationMs")
		rate := rapid.SampledFrom([]int{48000, 192000}).Draw(t, "rate")

		domain := RampDomain{SampleRateHz: rate, MinMs: 3, MaxMs: 20}
		samples := Samples(ms, domain)

		for i := 1; i < len(samples); i++ {
			if samples[i] < samples[i-1] {
				t.Fatalf("ramp not monotone at %d: %d < %d", i, samples[i], samples[i-1])
			}
		}

		for _, s := range samples {
			if s < 0 || s > rampSaturation {
				t.Fatalf("sample %d out of 24-bit range", s)
			}
		}
	})
}

func TestWordsNeededAddressingMode(t *testing.T) {
	assert.Equal(t, uint32(40), WordsNeeded(10, 13)) // byte address pre-14
	assert.Equal(t, uint32(10), WordsNeeded(10, 14)) // word address from 14
}

func TestRegenerateSkipsUnchangedLengthAndProtocol(t *testing.T) {
	transport := NewSimRegisters()
	gen := &RampGenerator{}

	_, skipped, err := gen.Regenerate(transport, 0, 64, 5, true, 20)
	require.NoError(t, err)
	assert.False(t, skipped)

	_, skipped, err = gen.Regenerate(transport, 0, 64, 5, true, 20)
	require.NoError(t, err)
	assert.True(t, skipped, "second call with identical (length, protocol) should be skipped")

	_, skipped, err = gen.Regenerate(transport, 0, 64, 8, true, 20)
	require.NoError(t, err)
	assert.False(t, skipped, "changed length must regenerate")
}

func TestRegenerateFillsRemainderWithSaturation(t *testing.T) {
	transport := NewSimRegisters()
	gen := &RampGenerator{}

	samples, _, err := gen.Regenerate(transport, 100, 8192, 3, true, 20)
	require.NoError(t, err)
	require.Less(t, len(samples), 8192)

	assert.Equal(t, uint32(rampSaturation), transport.RAMAt(100+uint32(len(samples))))
}
