package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAudioLevel(t *testing.T) {
	assert.Equal(t, LevelSilence, AudioLevel(nil), "empty frame is silent")
	assert.Equal(t, LevelSilence, AudioLevel(PCMFrame{0, 0, 0, 0}))
	assert.Equal(t, LevelMax, AudioLevel(PCMFrame{1, -1, 1, -1}), "full scale square wave")
	assert.Equal(t, LevelMax, AudioLevel(PCMFrame{4, -4}), "samples above full scale are clipped")

	// 0.1 amplitude square wave is -20 dBov
	assert.Equal(t, 20, AudioLevel(PCMFrame{0.1, -0.1, 0.1, -0.1}))
}

func TestAudioLevelLouderIsLower(t *testing.T) {
	quiet := AudioLevel(PCMFrame{0.01, -0.01})
	loud := AudioLevel(PCMFrame{0.5, -0.5})
	assert.Less(t, loud, quiet)
}
