package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/brainwire/internal/audio"
	"github.com/foxseedlab/brainwire/internal/transcriber"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	speechAPIEndpointPort = 443
	// Recognize accepts up to one minute of audio; longer notes are streamed.
	maxSyncSeconds      = 55
	streamChunkBytes    = 25 * 1024
	maxLanguageHints    = 3
	streamReconnectOnce = 1
)

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
}

// speechClient is the subset of *speech.Client used here.
type speechClient interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	StreamingRecognize(ctx context.Context, opts ...gax.CallOption) (speechpb.Speech_StreamingRecognizeClient, error)
	Close() error
}

type CloudSpeechTranscriber struct {
	projectID       string
	credentialsJSON string
	location        string
	model           string
	decoder         audio.Decoder

	once      sync.Once
	client    speechClient
	clientErr error
	newClient func(ctx context.Context) (speechClient, error)
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig, decoder audio.Decoder) *CloudSpeechTranscriber {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	t := &CloudSpeechTranscriber{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		location:        location,
		model:           strings.TrimSpace(cfg.Model),
		decoder:         decoder,
	}
	t.newClient = t.dial
	return t
}

func (t *CloudSpeechTranscriber) dial(ctx context.Context) (speechClient, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if t.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
	}
	return speech.NewClient(context.WithoutCancel(ctx), opts...)
}

func (t *CloudSpeechTranscriber) getClient(ctx context.Context) (speechClient, error) {
	t.once.Do(func() {
		t.client, t.clientErr = t.newClient(ctx)
		if t.clientErr == nil {
			slog.Info("cloud speech client initialized", "location", t.location, "model", t.model)
		}
	})
	return t.client, t.clientErr
}

func (t *CloudSpeechTranscriber) Transcribe(ctx context.Context, a transcriber.Audio, languages []string) (transcriber.Transcript, error) {
	if len(a.Data) == 0 {
		return transcriber.Transcript{}, transcriber.ErrEmptyAudio
	}
	client, err := t.getClient(ctx)
	if err != nil {
		return transcriber.Transcript{}, err
	}
	if len(languages) > maxLanguageHints {
		languages = languages[:maxLanguageHints]
	}

	payload, cfg := t.recognitionConfig(a, languages)
	recognizer := fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location)
	slog.Debug("transcribing voice note", "bytes", len(payload), "seconds", a.Seconds, "languages", languages)

	if a.Seconds > maxSyncSeconds {
		var out transcriber.Transcript
		for attempt := 0; ; attempt++ {
			out, err = t.stream(ctx, client, recognizer, cfg, payload)
			if err == nil || attempt >= streamReconnectOnce || !isReconnectableStreamError(err) {
				break
			}
			slog.Warn("speech stream aborted; retrying", "error", err)
		}
		return out, err
	}

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer:  recognizer,
		Config:      cfg,
		AudioSource: &speechpb.RecognizeRequest_Content{Content: payload},
	})
	if err != nil {
		return transcriber.Transcript{}, fmt.Errorf("recognize: %w", err)
	}
	return joinResults(resp.GetResults()), nil
}

// recognitionConfig prefers decoded LINEAR16 when the opus decoder is built in
// and lets the service detect the container otherwise.
func (t *CloudSpeechTranscriber) recognitionConfig(a transcriber.Audio, languages []string) ([]byte, *speechpb.RecognitionConfig) {
	cfg := &speechpb.RecognitionConfig{
		Model:         t.model,
		LanguageCodes: languages,
		Features:      &speechpb.RecognitionFeatures{EnableAutomaticPunctuation: true},
	}
	if t.decoder != nil {
		pcm, err := t.decoder.DecodeVoiceNote(a.Data)
		if err == nil && len(pcm.Samples) > 0 {
			cfg.DecodingConfig = &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   int32(pcm.SampleRate),
					AudioChannelCount: int32(pcm.Channels),
				},
			}
			return pcm.Samples, cfg
		}
		if !errors.Is(err, audio.ErrDecoderUnavailable) {
			slog.Warn("voice note decode failed; using service decoding", "mime_type", a.MimeType, "error", err)
		}
	}
	cfg.DecodingConfig = &speechpb.RecognitionConfig_AutoDecodingConfig{
		AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
	}
	return a.Data, cfg
}

func (t *CloudSpeechTranscriber) stream(ctx context.Context, client speechClient, recognizer string, cfg *speechpb.RecognitionConfig, payload []byte) (transcriber.Transcript, error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := client.StreamingRecognize(sctx)
	if err != nil {
		return transcriber.Transcript{}, err
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		Recognizer: recognizer,
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{Config: cfg},
		},
	}); err != nil {
		return transcriber.Transcript{}, fmt.Errorf("send stream config: %w", err)
	}

	sendErr := make(chan error, 1)
	go func() {
		defer close(sendErr)
		for off := 0; off < len(payload); off += streamChunkBytes {
			end := min(off+streamChunkBytes, len(payload))
			if err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: payload[off:end]},
			}); err != nil {
				sendErr <- err
				return
			}
		}
		if err := stream.CloseSend(); err != nil {
			sendErr <- err
		}
	}()

	var parts []string
	var language string
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transcriber.Transcript{}, fmt.Errorf("receive stream result: %w", err)
		}
		for _, result := range resp.GetResults() {
			if !result.GetIsFinal() || len(result.GetAlternatives()) == 0 {
				continue
			}
			parts = append(parts, strings.TrimSpace(result.GetAlternatives()[0].GetTranscript()))
			if language == "" {
				language = result.GetLanguageCode()
			}
		}
	}
	if err := <-sendErr; err != nil && !errors.Is(err, io.EOF) {
		return transcriber.Transcript{}, fmt.Errorf("send audio: %w", err)
	}
	return transcriber.Transcript{Text: strings.Join(parts, " "), Language: language}, nil
}

func joinResults(results []*speechpb.SpeechRecognitionResult) transcriber.Transcript {
	var parts []string
	var language string
	for _, result := range results {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		text := strings.TrimSpace(result.GetAlternatives()[0].GetTranscript())
		if text == "" {
			continue
		}
		parts = append(parts, text)
		if language == "" {
			language = result.GetLanguageCode()
		}
	}
	return transcriber.Transcript{Text: strings.Join(parts, " "), Language: language}
}

func (t *CloudSpeechTranscriber) Close() error {
	if t.client == nil {
		return nil
	}
	return t.client.Close()
}

func isReconnectableStreamError(err error) bool {
	if errors.Is(err, io.EOF) || strings.Contains(strings.ToLower(err.Error()), "eof") {
		return true
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}
