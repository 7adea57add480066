package transcriber

import (
	"context"
	"errors"
)

var (
	ErrEmptyAudio    = errors.New("audio payload is empty")
	ErrNotConfigured = errors.New("transcription is not configured")
)

// Audio is one complete recording, e.g. a voice note.
type Audio struct {
	Data     []byte
	MimeType string
	Seconds  uint32
}

type Transcript struct {
	Text string
	// Language is the BCP-47 code reported by the recognizer, if any.
	Language string
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio, languages []string) (Transcript, error)
}

// Disabled is used when no speech backend is configured.
type Disabled struct{}

func (Disabled) Transcribe(context.Context, Audio, []string) (Transcript, error) {
	return Transcript{}, ErrNotConfigured
}
