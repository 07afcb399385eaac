package hw

import "math"

// DriveROM holds the two 256-entry lookup tables mapping an 8-bit
// "intended attenuation" demand to a 6-bit step-attenuator value and an
// 8-bit PWM current drive (§4.1 "Drive-level ROMs"). Built once at
// start-up.
type DriveROM struct {
	Step    [256]byte
	Current [256]byte
}

// BuildDriveROM computes the two ROMs per the formula in §4.1:
//
//	N == 0            -> step = 63, current = 0 (full attenuation)
//	N in [1, 255]      -> desired attenuation dB = 20*log10(255/N);
//	                       step realises the largest multiple of 0.5 dB
//	                       below that, saturating at 31.5 dB (63 steps of
//	                       0.5 dB); the residual is realised by the current
//	                       DAC as 255 / 10^(residual/20).
func BuildDriveROM() DriveROM {
	var rom DriveROM

	rom.Step[0] = 63
	rom.Current[0] = 0

	for n := 1; n < 256; n++ {
		desiredDB := 20 * math.Log10(255.0/float64(n))

		stepIdx := int(math.Floor(desiredDB / 0.5))
		if stepIdx > 63 {
			stepIdx = 63
		}

		if stepIdx < 0 {
			stepIdx = 0
		}

		stepDB := float64(stepIdx) * 0.5
		residualDB := desiredDB - stepDB

		current := 255.0 / math.Pow(10, residualDB/20)
		if current > 255 {
			current = 255
		}

		if current < 0 {
			current = 0
		}

		rom.Step[n] = byte(stepIdx)
		rom.Current[n] = byte(math.Round(current))
	}

	return rom
}

// Lookup returns (step, current) for a drive-level demand 0..255.
func (r DriveROM) Lookup(demand byte) (step byte, current byte) {
	return r.Step[demand], r.Current[demand]
}
