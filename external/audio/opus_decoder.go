//go:build opus

package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/foxseedlab/brainwire/internal/audio"
	"github.com/hraban/opus"
)

const (
	sampleRate = 48000
	// WhatsApp voice notes are mono.
	channels        = 1
	frameSizeMs     = 60
	samplesPerFrame = sampleRate * frameSizeMs * channels / 1000
	maxVoiceNoteSec = 15 * 60
)

type OpusDecoder struct{}

func NewOpusDecoder() audio.Decoder {
	return &OpusDecoder{}
}

func (d *OpusDecoder) DecodeVoiceNote(data []byte) (audio.PCM, error) {
	if len(data) == 0 {
		return audio.PCM{}, errors.New("empty voice note")
	}
	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return audio.PCM{}, fmt.Errorf("open ogg opus stream: %w", err)
	}
	defer stream.Close()

	var out bytes.Buffer
	pcm := make([]int16, samplesPerFrame)
	total := 0
	for {
		n, err := stream.Read(pcm)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return audio.PCM{}, fmt.Errorf("decode opus frame: %w", err)
		}
		if n == 0 {
			break
		}
		samples := n * channels
		if samples > len(pcm) {
			samples = len(pcm)
		}
		writePCM(&out, pcm[:samples])
		total += n
		if total > maxVoiceNoteSec*sampleRate {
			return audio.PCM{}, fmt.Errorf("voice note longer than %d seconds", maxVoiceNoteSec)
		}
	}
	return audio.PCM{Samples: out.Bytes(), SampleRate: sampleRate, Channels: channels}, nil
}

func writePCM(buf *bytes.Buffer, samples []int16) {
	var b [2]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		buf.Write(b[:])
	}
}
