package transcriber

import (
	"context"
	"errors"
	"io"
	"testing"

	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/brainwire/internal/audio"
	"github.com/foxseedlab/brainwire/internal/transcriber"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeStream struct {
	grpc.ClientStream
	sent      []*speechpb.StreamingRecognizeRequest
	responses []*speechpb.StreamingRecognizeResponse
}

func (s *fakeStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	s.sent = append(s.sent, req)
	return nil
}

func (s *fakeStream) CloseSend() error { return nil }

func (s *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	if len(s.responses) == 0 {
		return nil, io.EOF
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

type fakeSpeechClient struct {
	recognizeReq *speechpb.RecognizeRequest
	results      []*speechpb.SpeechRecognitionResult
	stream       *fakeStream
}

func (c *fakeSpeechClient) Recognize(_ context.Context, req *speechpb.RecognizeRequest, _ ...gax.CallOption) (*speechpb.RecognizeResponse, error) {
	c.recognizeReq = req
	return &speechpb.RecognizeResponse{Results: c.results}, nil
}

func (c *fakeSpeechClient) StreamingRecognize(context.Context, ...gax.CallOption) (speechpb.Speech_StreamingRecognizeClient, error) {
	return c.stream, nil
}

func (c *fakeSpeechClient) Close() error { return nil }

type fakeDecoder struct {
	pcm audio.PCM
	err error
}

func (d fakeDecoder) DecodeVoiceNote([]byte) (audio.PCM, error) { return d.pcm, d.err }

func newTestTranscriber(client *fakeSpeechClient, dec audio.Decoder) *CloudSpeechTranscriber {
	t := NewCloudSpeechTranscriber(CloudSpeechConfig{ProjectID: "p", Model: "long"}, dec)
	t.newClient = func(context.Context) (speechClient, error) { return client, nil }
	return t
}

func alt(text, lang string) *speechpb.SpeechRecognitionResult {
	return &speechpb.SpeechRecognitionResult{
		Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text}},
		LanguageCode: lang,
	}
}

func TestTranscribe_AutoDecodingWithoutDecoder(t *testing.T) {
	client := &fakeSpeechClient{results: []*speechpb.SpeechRecognitionResult{alt("buy milk", "en-us"), alt(" tomorrow ", "")}}
	tr := newTestTranscriber(client, fakeDecoder{err: audio.ErrDecoderUnavailable})

	got, err := tr.Transcribe(context.Background(), transcriber.Audio{Data: []byte("ogg"), Seconds: 3}, []string{"en-US", "ru-RU"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "buy milk tomorrow" || got.Language != "en-us" {
		t.Fatalf("unexpected transcript: %+v", got)
	}
	req := client.recognizeReq
	if req.GetRecognizer() != "projects/p/locations/global/recognizers/_" {
		t.Fatalf("unexpected recognizer: %s", req.GetRecognizer())
	}
	if req.GetConfig().GetAutoDecodingConfig() == nil {
		t.Fatal("expected auto decoding config")
	}
	if string(req.GetContent()) != "ogg" {
		t.Fatalf("expected raw payload, got %q", req.GetContent())
	}
}

func TestTranscribe_DecodedLinear16(t *testing.T) {
	client := &fakeSpeechClient{results: []*speechpb.SpeechRecognitionResult{alt("привет", "ru-ru")}}
	pcm := audio.PCM{Samples: []byte{1, 0, 2, 0}, SampleRate: 48000, Channels: 1}
	tr := newTestTranscriber(client, fakeDecoder{pcm: pcm})

	if _, err := tr.Transcribe(context.Background(), transcriber.Audio{Data: []byte("ogg"), Seconds: 3}, []string{"ru-RU"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	explicit := client.recognizeReq.GetConfig().GetExplicitDecodingConfig()
	if explicit == nil || explicit.GetEncoding() != speechpb.ExplicitDecodingConfig_LINEAR16 || explicit.GetSampleRateHertz() != 48000 {
		t.Fatalf("unexpected decoding config: %+v", explicit)
	}
	if len(client.recognizeReq.GetContent()) != 4 {
		t.Fatal("expected decoded pcm payload")
	}
}

func TestTranscribe_LongAudioStreams(t *testing.T) {
	stream := &fakeStream{responses: []*speechpb.StreamingRecognizeResponse{
		{Results: []*speechpb.StreamingRecognitionResult{{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "interim"}}}}},
		{Results: []*speechpb.StreamingRecognitionResult{{IsFinal: true, LanguageCode: "en-us", Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "first part"}}}}},
		{Results: []*speechpb.StreamingRecognitionResult{{IsFinal: true, Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "second part"}}}}},
	}}
	client := &fakeSpeechClient{stream: stream}
	tr := newTestTranscriber(client, nil)

	data := make([]byte, streamChunkBytes*2+10)
	got, err := tr.Transcribe(context.Background(), transcriber.Audio{Data: data, Seconds: 120}, []string{"en-US"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "first part second part" || got.Language != "en-us" {
		t.Fatalf("unexpected transcript: %+v", got)
	}
	if client.recognizeReq != nil {
		t.Fatal("expected streaming, not Recognize")
	}
	if len(stream.sent) != 4 || stream.sent[0].GetStreamingConfig() == nil {
		t.Fatalf("expected config plus 3 audio chunks, got %d requests", len(stream.sent))
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	tr := newTestTranscriber(&fakeSpeechClient{}, nil)
	if _, err := tr.Transcribe(context.Background(), transcriber.Audio{}, nil); !errors.Is(err, transcriber.ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestIsReconnectableStreamError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"eof", io.EOF, true},
		{"max duration", status.Error(codes.Aborted, "Exceeded max duration of 5 minutes"), true},
		{"other abort", status.Error(codes.Aborted, "something else"), false},
		{"invalid", status.Error(codes.InvalidArgument, "bad config"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isReconnectableStreamError(tt.err); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSpeechClientMatchesSDK(t *testing.T) {
	var _ speechClient = (*speech.Client)(nil)
}
