//go:build !opus

package audio

import "github.com/foxseedlab/brainwire/internal/audio"

type noopDecoder struct{}

func NewOpusDecoder() audio.Decoder {
	return &noopDecoder{}
}

func (d *noopDecoder) DecodeVoiceNote(_ []byte) (audio.PCM, error) {
	return audio.PCM{}, audio.ErrDecoderUnavailable
}
