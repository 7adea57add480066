package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/brainwire/internal/config"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env      string `env:"ENV" envDefault:"production"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	Transport string   `env:"TRANSPORT" envDefault:"gateway"`
	Accounts  []string `env:"ACCOUNTS" envDefault:"default" envSeparator:","`

	GatewayBaseURL string        `env:"GATEWAY_BASE_URL"`
	GatewayAPIKey  string        `env:"GATEWAY_API_KEY"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"30s"`
	WebhookSecret  string        `env:"WEBHOOK_SECRET"`

	WhatsAppStoreDialect string `env:"WHATSAPP_STORE_DIALECT" envDefault:"sqlite"`
	WhatsAppStoreDSN     string `env:"WHATSAPP_STORE_DSN" envDefault:"file:whatsapp.db?_pragma=foreign_keys(1)"`
	PrintQRTerminal      bool   `env:"PRINT_QR_TERMINAL" envDefault:"false"`

	MessagesPerChat    int           `env:"MESSAGES_PER_CHAT" envDefault:"100"`
	MaxChats           int           `env:"MAX_CHATS" envDefault:"0"`
	StatusPollInterval time.Duration `env:"STATUS_POLL_INTERVAL" envDefault:"5s"`
	QRReuseWindow      time.Duration `env:"QR_REUSE_WINDOW" envDefault:"25s"`
	QRMinInterval      time.Duration `env:"QR_MIN_INTERVAL" envDefault:"5s"`
	PairingExpiry      time.Duration `env:"PAIRING_EXPIRY" envDefault:"160s"`

	HealthInterval        time.Duration `env:"HEALTH_INTERVAL" envDefault:"1m"`
	SoftRecoveryThreshold int           `env:"SOFT_RECOVERY_THRESHOLD" envDefault:"3"`
	SweepInterval         time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	Retention             time.Duration `env:"RETENTION" envDefault:"24h"`
	KeepRecent            int           `env:"KEEP_RECENT" envDefault:"20"`

	BackoffBase         time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`
	BackoffCap          time.Duration `env:"BACKOFF_CAP" envDefault:"5m"`
	BackoffMaxAttempts  int           `env:"BACKOFF_MAX_ATTEMPTS" envDefault:"10"`
	ConflictDelay       time.Duration `env:"CONFLICT_DELAY" envDefault:"2m"`
	ConflictMaxAttempts int           `env:"CONFLICT_MAX_ATTEMPTS" envDefault:"3"`

	DatabaseURL string `env:"DATABASE_URL"`

	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`

	ImageProcessorURL string `env:"IMAGE_PROCESSOR_URL"`
	ResultWebhookURL  string `env:"RESULT_WEBHOOK_URL"`
	NATSURL           string `env:"NATS_URL"`
	NATSSubject       string `env:"NATS_SUBJECT" envDefault:"brainwire.results"`

	DiscordToken          string `env:"DISCORD_TOKEN"`
	DiscordAlertChannelID string `env:"DISCORD_ALERT_CHANNEL_ID"`

	DefaultLanguage     string        `env:"DEFAULT_LANGUAGE" envDefault:"en"`
	ProcessorTimeout    time.Duration `env:"PROCESSOR_TIMEOUT" envDefault:"60s"`
	PipelineConcurrency int           `env:"PIPELINE_CONCURRENCY" envDefault:"4"`
	SendRatePerSecond   float64       `env:"SEND_RATE_PER_SECOND" envDefault:"1"`
	ProcessOwnMessages  bool          `env:"PROCESS_OWN_MESSAGES" envDefault:"false"`
	MonitorsJSON        string        `env:"MONITORS_JSON"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*internalconfig.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		HTTPAddr:                   raw.HTTPAddr,
		Transport:                  strings.ToLower(strings.TrimSpace(raw.Transport)),
		Accounts:                   cleanAccounts(raw.Accounts),
		GatewayBaseURL:             strings.TrimRight(raw.GatewayBaseURL, "/"),
		GatewayAPIKey:              raw.GatewayAPIKey,
		GatewayTimeout:             raw.GatewayTimeout,
		WebhookSecret:              raw.WebhookSecret,
		WhatsAppStoreDialect:       raw.WhatsAppStoreDialect,
		WhatsAppStoreDSN:           raw.WhatsAppStoreDSN,
		PrintQRTerminal:            raw.PrintQRTerminal,
		MessagesPerChat:            raw.MessagesPerChat,
		MaxChats:                   raw.MaxChats,
		StatusPollInterval:         raw.StatusPollInterval,
		QRReuseWindow:              raw.QRReuseWindow,
		QRMinInterval:              raw.QRMinInterval,
		PairingExpiry:              raw.PairingExpiry,
		HealthInterval:             raw.HealthInterval,
		SoftRecoveryThreshold:      raw.SoftRecoveryThreshold,
		SweepInterval:              raw.SweepInterval,
		Retention:                  raw.Retention,
		KeepRecent:                 raw.KeepRecent,
		BackoffBase:                raw.BackoffBase,
		BackoffCap:                 raw.BackoffCap,
		BackoffMaxAttempts:         raw.BackoffMaxAttempts,
		ConflictDelay:              raw.ConflictDelay,
		ConflictMaxAttempts:        raw.ConflictMaxAttempts,
		DatabaseURL:                raw.DatabaseURL,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		GeminiAPIKey:               raw.GeminiAPIKey,
		GeminiModel:                raw.GeminiModel,
		ImageProcessorURL:          raw.ImageProcessorURL,
		ResultWebhookURL:           raw.ResultWebhookURL,
		NATSURL:                    raw.NATSURL,
		NATSSubject:                raw.NATSSubject,
		DiscordToken:               raw.DiscordToken,
		DiscordAlertChannelID:      raw.DiscordAlertChannelID,
		DefaultLanguage:            raw.DefaultLanguage,
		ProcessorTimeout:           raw.ProcessorTimeout,
		PipelineConcurrency:        raw.PipelineConcurrency,
		SendRatePerSecond:          raw.SendRatePerSecond,
		ProcessOwnMessages:         raw.ProcessOwnMessages,
		MonitorsJSON:               raw.MonitorsJSON,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func cleanAccounts(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
