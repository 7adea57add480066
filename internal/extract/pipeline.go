package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/brainwire/internal/chatid"
	"github.com/foxseedlab/brainwire/internal/ingest"
	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/foxseedlab/brainwire/internal/repository"
	"github.com/foxseedlab/brainwire/internal/transcriber"
	"github.com/foxseedlab/brainwire/internal/transport"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultConcurrency      = 4
	DefaultProcessorTimeout = 60 * time.Second

	maxLinksPerMessage = 5
	sinkTimeout        = 15 * time.Second
	replyTimeout       = 30 * time.Second
)

var ErrNoMedia = errors.New("message has no downloadable media")

type LinkPreviewer interface {
	Preview(ctx context.Context, url string) (monitor.LinkPreview, error)
}

type ImageProcessor interface {
	Analyze(ctx context.Context, data []byte, mimeType string) (monitor.ImageAnalysis, error)
}

// MediaDownloader and Replier are the parts of the session transport the
// pipeline uses.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, ref *transport.MediaRef) ([]byte, error)
}

type Replier interface {
	Send(ctx context.Context, msg transport.OutgoingMessage) (string, error)
}

type Config struct {
	Concurrency        int
	ProcessorTimeout   time.Duration
	DefaultLanguage    string
	ProcessOwnMessages bool
	// SendRate limits acknowledgements per second; 0 disables the limit.
	SendRate float64
}

type Processors struct {
	Transcriber transcriber.Transcriber
	Extractor   StructuredExtractor
	Links       LinkPreviewer
	Images      ImageProcessor
}

// Outcome describes one processed message.
type Outcome struct {
	Skipped    string
	Kinds      []monitor.Kind
	Transcript string
	Language   string
	Results    []monitor.Result
	Ack        string
	Errors     []error
}

// Pipeline runs extraction for one account. Each message is processed on its own
// goroutine, bounded by Concurrency.
type Pipeline struct {
	account  string
	cfg      Config
	monitors monitor.Source
	sink     monitor.Sink
	proc     Processors
	media    MediaDownloader
	reply    Replier
	limiter  *rate.Limiter

	sem   chan struct{}
	wg    sync.WaitGroup
	newID func() string
	now   func() time.Time
}

func NewPipeline(account string, cfg Config, monitors monitor.Source, sink monitor.Sink, proc Processors, media MediaDownloader, reply Replier) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ProcessorTimeout <= 0 {
		cfg.ProcessorTimeout = DefaultProcessorTimeout
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = LanguageEnglish
	}
	if proc.Extractor == nil {
		proc.Extractor = HeuristicExtractor{}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), 1)
	}
	return &Pipeline{
		account:  account,
		cfg:      cfg,
		monitors: monitors,
		sink:     sink,
		proc:     proc,
		media:    media,
		reply:    reply,
		limiter:  limiter,
		sem:      make(chan struct{}, cfg.Concurrency),
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
	}
}

// Run consumes messages until ctx is done or the channel closes, then waits for
// in-flight work.
func (p *Pipeline) Run(ctx context.Context, messages <-chan ingest.MessageEvent) {
	defer p.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-messages:
			if !ok {
				return
			}
			if !p.interesting(ev.Message) {
				continue
			}
			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer func() { <-p.sem }()
				if _, err := p.Process(ctx, ev); err != nil {
					slog.Error("extraction failed", "account", p.account, "chat_id", ev.Message.ChatID, "message_id", ev.Message.ID, "error", err)
				}
			}()
		}
	}
}

func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) interesting(m repository.Message) bool {
	return m.MediaKind == repository.MediaVoice || m.MediaKind == repository.MediaImage || len(m.Links) > 0
}

type eligible struct {
	mon   repository.Monitor
	kinds map[monitor.Kind]bool
}

// Process handles one message synchronously.
func (p *Pipeline) Process(ctx context.Context, ev ingest.MessageEvent) (Outcome, error) {
	msg := ev.Message
	var out Outcome
	if msg.Direction == repository.DirectionOutgoing && !p.cfg.ProcessOwnMessages {
		out.Skipped = "outgoing message"
		return out, nil
	}
	if !p.interesting(msg) {
		out.Skipped = "no processable content"
		return out, nil
	}

	keys := chatid.Keys(msg.ChatID, ev.Chat.DisplayName)
	mons, err := p.monitors.MonitorsForChat(ctx, p.account, keys)
	if err != nil {
		return out, fmt.Errorf("failed to look up monitors: %w", err)
	}
	subs, kinds := p.eligibleMonitors(msg, mons)
	if len(subs) == 0 {
		out.Skipped = "no subscribed monitor"
		return out, nil
	}
	out.Kinds = kinds

	var (
		items     []monitor.Item
		locations []string
		previews  []monitor.LinkPreview
		image     *monitor.ImageAnalysis
	)
	out.Language = p.cfg.DefaultLanguage
	for _, k := range kinds {
		switch k {
		case monitor.KindVoice:
			transcript, err := p.transcribe(ctx, msg)
			if err != nil {
				out.Errors = append(out.Errors, err)
				slog.Warn("voice note produced no content", "account", p.account, "message_id", msg.ID, "error", err)
				continue
			}
			out.Transcript = transcript.Text
			out.Language = DetectLanguage(transcript.Text, p.cfg.DefaultLanguage)
			locations = ExtractLocations(transcript.Text)
			items, err = p.structure(ctx, transcript.Text, out.Language)
			if err != nil {
				out.Errors = append(out.Errors, err)
				slog.Warn("structured extraction failed; keeping transcript", "account", p.account, "message_id", msg.ID, "error", err)
			}
		case monitor.KindImage:
			analysis, err := p.analyzeImage(ctx, msg)
			if err != nil {
				out.Errors = append(out.Errors, err)
				slog.Warn("image produced no content", "account", p.account, "message_id", msg.ID, "error", err)
				continue
			}
			image = &analysis
		case monitor.KindLink:
			previews = p.previewLinks(ctx, msg, &out)
			if msg.MediaKind == repository.MediaNone {
				out.Language = DetectLanguage(msg.Body, p.cfg.DefaultLanguage)
			}
		}
	}

	for _, sub := range subs {
		r := monitor.Result{
			ID:        p.newID(),
			MonitorID: sub.mon.ID,
			UserID:    sub.mon.UserID,
			Account:   p.account,
			ChatID:    msg.ChatID,
			MessageID: msg.ID,
			Kind:      kinds[0],
			Language:  out.Language,
			CreatedAt: p.now(),
		}
		if sub.kinds[monitor.KindVoice] {
			r.Transcript = out.Transcript
			r.Items = append([]monitor.Item(nil), items...)
			r.Locations = append([]string(nil), locations...)
		}
		if sub.kinds[monitor.KindImage] && image != nil {
			img := *image
			r.Image = &img
		}
		if sub.kinds[monitor.KindLink] {
			r.Links = append([]monitor.LinkPreview(nil), previews...)
		}
		if r.Transcript == "" && r.Image == nil && len(r.Links) == 0 {
			continue
		}
		out.Results = append(out.Results, r)
		p.deliver(ctx, r)
	}

	if p.wantsFeedback(subs) {
		out.Ack = Acknowledgement(aggregate(items, locations, previews, image), out.Language)
		if err := p.sendAck(ctx, msg.ChatID, out.Ack); err != nil {
			out.Errors = append(out.Errors, err)
			slog.Warn("failed to send acknowledgement", "account", p.account, "chat_id", msg.ChatID, "error", err)
		}
	}
	slog.Info("message processed",
		"account", p.account,
		"chat_id", msg.ChatID,
		"message_id", msg.ID,
		"monitors", len(subs),
		"results", len(out.Results),
		"errors", len(out.Errors))
	return out, nil
}

// eligibleMonitors keeps monitors whose feature flags match at least one content
// kind of msg. Kinds are returned in processing order.
func (p *Pipeline) eligibleMonitors(msg repository.Message, mons []repository.Monitor) ([]eligible, []monitor.Kind) {
	var subs []eligible
	want := map[monitor.Kind]bool{}
	for _, m := range mons {
		if !m.Active {
			continue
		}
		k := map[monitor.Kind]bool{}
		if msg.MediaKind == repository.MediaVoice && m.Features.ProcessVoiceNotes {
			k[monitor.KindVoice] = true
		}
		if msg.MediaKind == repository.MediaImage && m.Features.SaveAllImages {
			k[monitor.KindImage] = true
		}
		if len(msg.Links) > 0 && m.Features.CaptureLinks {
			k[monitor.KindLink] = true
		}
		if len(k) == 0 {
			continue
		}
		for kind := range k {
			want[kind] = true
		}
		subs = append(subs, eligible{mon: m, kinds: k})
	}
	var kinds []monitor.Kind
	for _, k := range []monitor.Kind{monitor.KindVoice, monitor.KindImage, monitor.KindLink} {
		if want[k] {
			kinds = append(kinds, k)
		}
	}
	return subs, kinds
}

func (p *Pipeline) transcribe(ctx context.Context, msg repository.Message) (transcriber.Transcript, error) {
	if p.proc.Transcriber == nil {
		return transcriber.Transcript{}, errors.New("no transcriber configured")
	}
	data, mime, err := p.download(ctx, msg)
	if err != nil {
		return transcriber.Transcript{}, err
	}
	var seconds uint32
	if msg.Media != nil {
		seconds = msg.Media.Seconds
	}
	tctx, cancel := context.WithTimeout(ctx, p.cfg.ProcessorTimeout)
	defer cancel()
	t, err := p.proc.Transcriber.Transcribe(tctx, transcriber.Audio{Data: data, MimeType: mime, Seconds: seconds}, speechLanguageCodes(p.cfg.DefaultLanguage))
	if err != nil {
		return transcriber.Transcript{}, fmt.Errorf("transcription failed: %w", err)
	}
	t.Text = strings.TrimSpace(t.Text)
	if t.Text == "" {
		return transcriber.Transcript{}, errors.New("transcription returned no text")
	}
	return t, nil
}

func (p *Pipeline) structure(ctx context.Context, text, language string) ([]monitor.Item, error) {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.ProcessorTimeout)
	defer cancel()
	items, err := p.proc.Extractor.Extract(sctx, text, language)
	if err != nil {
		return nil, fmt.Errorf("structured extraction failed: %w", err)
	}
	return items, nil
}

func (p *Pipeline) analyzeImage(ctx context.Context, msg repository.Message) (monitor.ImageAnalysis, error) {
	if p.proc.Images == nil {
		return monitor.ImageAnalysis{}, errors.New("no image processor configured")
	}
	data, mime, err := p.download(ctx, msg)
	if err != nil {
		return monitor.ImageAnalysis{}, err
	}
	ictx, cancel := context.WithTimeout(ctx, p.cfg.ProcessorTimeout)
	defer cancel()
	a, err := p.proc.Images.Analyze(ictx, data, mime)
	if err != nil {
		return monitor.ImageAnalysis{}, fmt.Errorf("image analysis failed: %w", err)
	}
	return a, nil
}

func (p *Pipeline) previewLinks(ctx context.Context, msg repository.Message, out *Outcome) []monitor.LinkPreview {
	links := msg.Links
	if len(links) > maxLinksPerMessage {
		links = links[:maxLinksPerMessage]
	}
	previews := make([]monitor.LinkPreview, 0, len(links))
	for _, u := range links {
		preview := monitor.LinkPreview{URL: u}
		if p.proc.Links != nil {
			lctx, cancel := context.WithTimeout(ctx, p.cfg.ProcessorTimeout)
			got, err := p.proc.Links.Preview(lctx, u)
			cancel()
			if err != nil {
				out.Errors = append(out.Errors, err)
				slog.Debug("link preview failed", "account", p.account, "url", u, "error", err)
			} else {
				preview = got
				preview.URL = u
			}
		}
		previews = append(previews, preview)
	}
	return previews
}

func (p *Pipeline) download(ctx context.Context, msg repository.Message) ([]byte, string, error) {
	if msg.Media == nil || p.media == nil {
		return nil, "", ErrNoMedia
	}
	dctx, cancel := context.WithTimeout(ctx, p.cfg.ProcessorTimeout)
	defer cancel()
	data, err := p.media.DownloadMedia(dctx, msg.Media)
	if err != nil {
		return nil, "", fmt.Errorf("media download failed: %w", err)
	}
	return data, msg.Media.MimeType, nil
}

func (p *Pipeline) deliver(ctx context.Context, r monitor.Result) {
	dctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	if err := p.sink.OnExtractionResult(dctx, r.UserID, r.ChatID, r); err != nil {
		slog.Error("failed to deliver extraction result", "account", p.account, "user_id", r.UserID, "result_id", r.ID, "error", err)
	}
}

func (p *Pipeline) wantsFeedback(subs []eligible) bool {
	for _, s := range subs {
		if s.mon.Features.SendFeedback {
			return true
		}
	}
	return false
}

func (p *Pipeline) sendAck(ctx context.Context, chatID, text string) error {
	if p.reply == nil {
		return errors.New("no reply transport")
	}
	sctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if err := p.limiter.Wait(sctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}
	if _, err := p.reply.Send(sctx, transport.OutgoingMessage{ChatID: chatID, Text: text}); err != nil {
		return fmt.Errorf("send acknowledgement: %w", err)
	}
	return nil
}

func aggregate(items []monitor.Item, locations []string, previews []monitor.LinkPreview, image *monitor.ImageAnalysis) monitor.Counts {
	r := monitor.Result{Items: items, Locations: locations, Links: previews, Image: image}
	return r.Counts()
}
