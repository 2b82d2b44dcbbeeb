package frame

import "math"

const (
	// Audio level of digital silence, in -dBov.
	LevelSilence = 127
	// Audio level of a full-scale signal, in -dBov.
	LevelMax = 0
)

// Calculate the audio level of a frame as the negated RMS power in dBov,
// clamped to [LevelMax, LevelSilence]. Lower values are louder.
//
// Empty frames are considered silent.
func AudioLevel(f PCMFrame) int {
	if len(f) == 0 {
		return LevelSilence
	}

	var sum float64
	for _, sample := range f {
		s := float64(sample)
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(f)))
	if rms == 0 {
		return LevelSilence
	}

	level := int(math.Round(-20 * math.Log10(rms)))
	if level < LevelMax {
		return LevelMax
	}
	if level > LevelSilence {
		return LevelSilence
	}
	return level
}
