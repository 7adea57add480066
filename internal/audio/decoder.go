package audio

import "errors"

var ErrDecoderUnavailable = errors.New("voice note decoder not built in")

// PCM is interleaved signed 16-bit little-endian audio.
type PCM struct {
	Samples    []byte
	SampleRate int
	Channels   int
}

func (p PCM) Seconds() float64 {
	if p.SampleRate == 0 || p.Channels == 0 {
		return 0
	}
	return float64(len(p.Samples)/2/p.Channels) / float64(p.SampleRate)
}

type Decoder interface {
	// DecodeVoiceNote decodes an Ogg/Opus voice note.
	DecodeVoiceNote(data []byte) (PCM, error)
}
