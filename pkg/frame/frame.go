package frame

// Interleaved PCM samples, nominally in the range [-1, 1].
type PCMFrame []float32

// A frame of encoded (e.g. RTP payload) audio or video.
type EncodedFrame []byte
