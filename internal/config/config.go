package config

import (
	"fmt"
	"time"
)

const (
	TransportGateway   = "gateway"
	TransportWhatsmeow = "whatsmeow"

	minHealthInterval = time.Minute
)

type Config struct {
	Env      string
	HTTPAddr string

	Transport string
	Accounts  []string

	GatewayBaseURL string
	GatewayAPIKey  string
	GatewayTimeout time.Duration
	WebhookSecret  string

	WhatsAppStoreDialect string
	WhatsAppStoreDSN     string
	PrintQRTerminal      bool

	MessagesPerChat    int
	MaxChats           int
	StatusPollInterval time.Duration
	QRReuseWindow      time.Duration
	QRMinInterval      time.Duration
	PairingExpiry      time.Duration

	HealthInterval        time.Duration
	SoftRecoveryThreshold int
	SweepInterval         time.Duration
	Retention             time.Duration
	KeepRecent            int

	BackoffBase         time.Duration
	BackoffCap          time.Duration
	BackoffMaxAttempts  int
	ConflictDelay       time.Duration
	ConflictMaxAttempts int

	DatabaseURL string

	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string

	GeminiAPIKey string
	GeminiModel  string

	ImageProcessorURL string
	ResultWebhookURL  string
	NATSURL           string
	NATSSubject       string

	DiscordToken          string
	DiscordAlertChannelID string

	DefaultLanguage     string
	ProcessorTimeout    time.Duration
	PipelineConcurrency int
	SendRatePerSecond   float64
	ProcessOwnMessages  bool
	MonitorsJSON        string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.Transport {
	case TransportGateway:
		if c.GatewayBaseURL == "" {
			return fmt.Errorf("GATEWAY_BASE_URL is required when TRANSPORT=gateway")
		}
	case TransportWhatsmeow:
		if c.WhatsAppStoreDialect != "sqlite" && c.WhatsAppStoreDialect != "pgx" {
			return fmt.Errorf("WHATSAPP_STORE_DIALECT must be sqlite or pgx, got %q", c.WhatsAppStoreDialect)
		}
		if c.WhatsAppStoreDSN == "" {
			return fmt.Errorf("WHATSAPP_STORE_DSN is required when TRANSPORT=whatsmeow")
		}
	default:
		return fmt.Errorf("TRANSPORT must be gateway or whatsmeow, got %q", c.Transport)
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("ACCOUNTS must name at least one account")
	}
	for _, p := range c.positiveIntChecks() {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}
	for _, p := range c.positiveDurationChecks() {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", p.name, p.value)
		}
	}
	if c.HealthInterval < minHealthInterval {
		return fmt.Errorf("HEALTH_INTERVAL must be at least %s, got %s", minHealthInterval, c.HealthInterval)
	}
	if c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("BACKOFF_CAP (%s) must not be below BACKOFF_BASE (%s)", c.BackoffCap, c.BackoffBase)
	}
	if c.KeepRecent < 0 {
		return fmt.Errorf("KEEP_RECENT must not be negative, got %d", c.KeepRecent)
	}
	if c.MaxChats < 0 {
		return fmt.Errorf("MAX_CHATS must not be negative, got %d", c.MaxChats)
	}
	if c.DefaultLanguage != "en" && c.DefaultLanguage != "ru" {
		return fmt.Errorf("DEFAULT_LANGUAGE must be en or ru, got %q", c.DefaultLanguage)
	}
	if (c.DiscordToken == "") != (c.DiscordAlertChannelID == "") {
		return fmt.Errorf("DISCORD_TOKEN and DISCORD_ALERT_CHANNEL_ID must be set together")
	}
	if c.GoogleCloudProjectID != "" && c.GoogleCloudCredentialsJSON == "" {
		return fmt.Errorf("GOOGLE_CLOUD_CREDENTIALS_JSON is required when GOOGLE_CLOUD_PROJECT_ID is set")
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "HTTP_ADDR", value: c.HTTPAddr},
		{name: "TRANSPORT", value: c.Transport},
		{name: "DEFAULT_LANGUAGE", value: c.DefaultLanguage},
	}
}

type positiveIntField struct {
	name  string
	value int
}

func (c *Config) positiveIntChecks() []positiveIntField {
	return []positiveIntField{
		{name: "MESSAGES_PER_CHAT", value: c.MessagesPerChat},
		{name: "SOFT_RECOVERY_THRESHOLD", value: c.SoftRecoveryThreshold},
		{name: "BACKOFF_MAX_ATTEMPTS", value: c.BackoffMaxAttempts},
		{name: "CONFLICT_MAX_ATTEMPTS", value: c.ConflictMaxAttempts},
		{name: "PIPELINE_CONCURRENCY", value: c.PipelineConcurrency},
	}
}

type positiveDurationField struct {
	name  string
	value time.Duration
}

func (c *Config) positiveDurationChecks() []positiveDurationField {
	return []positiveDurationField{
		{name: "STATUS_POLL_INTERVAL", value: c.StatusPollInterval},
		{name: "QR_REUSE_WINDOW", value: c.QRReuseWindow},
		{name: "QR_MIN_INTERVAL", value: c.QRMinInterval},
		{name: "PAIRING_EXPIRY", value: c.PairingExpiry},
		{name: "SWEEP_INTERVAL", value: c.SweepInterval},
		{name: "RETENTION", value: c.Retention},
		{name: "BACKOFF_BASE", value: c.BackoffBase},
		{name: "BACKOFF_CAP", value: c.BackoffCap},
		{name: "CONFLICT_DELAY", value: c.ConflictDelay},
		{name: "PROCESSOR_TIMEOUT", value: c.ProcessorTimeout},
		{name: "GATEWAY_TIMEOUT", value: c.GatewayTimeout},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) TranscriptionEnabled() bool {
	return c.GoogleCloudProjectID != ""
}

func (c *Config) AlertsEnabled() bool {
	return c.DiscordToken != ""
}
