// Package config defines the global configuration structure for the renewal
// pipeline. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the process to exit
// immediately on startup (fail fast).
package config

import (
	"time"

	"policypulse/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the renewal pipeline.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"policypulse"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	Reminders     ReminderConfig
	Jobs          JobsConfig
	Email         EmailConfig
	Messaging     MessagingConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// ReminderConfig holds the scheduling and dispatch behavior knobs.
type ReminderConfig struct {
	// Windows is the ordered set of lead-time windows, in days before
	// renewal_date, at which reminders are generated.
	Windows []int `envconfig:"REMINDER_WINDOWS" default:"30,15,7,1" validate:"min=1,dive,gt=0"`

	// DispatchBatchSize caps how many due reminders one dispatcher tick
	// processes, bounding per-tick runtime.
	DispatchBatchSize int `envconfig:"DISPATCH_BATCH_SIZE" default:"50" validate:"gt=0,lte=500"`

	// MaxRetries is the ceiling on dispatch attempts per reminder.
	MaxRetries int `envconfig:"REMINDER_MAX_RETRIES" default:"3" validate:"gt=0"`

	// RenewalHorizonDays is how far before renewal_date an active policy
	// moves to pending_renewal.
	RenewalHorizonDays int `envconfig:"RENEWAL_HORIZON_DAYS" default:"30" validate:"gt=0"`

	// OutreachHorizonDays bounds retention outreach to policies renewing
	// within this many days.
	OutreachHorizonDays int `envconfig:"OUTREACH_HORIZON_DAYS" default:"7" validate:"gt=0"`

	// OutreachCooldown is the minimum gap between retention contacts for
	// the same (customer, policy) pair.
	OutreachCooldown time.Duration `envconfig:"OUTREACH_COOLDOWN" default:"72h"`
}

// JobsConfig holds the tick intervals and lock settings for the periodic
// jobs. Each job runs single-flight: a tick is skipped when the previous
// run of the same job still holds its lock.
type JobsConfig struct {
	SchedulerInterval  time.Duration `envconfig:"JOB_SCHEDULER_INTERVAL" default:"1h"`
	DispatcherInterval time.Duration `envconfig:"JOB_DISPATCHER_INTERVAL" default:"5m"`
	LifecycleInterval  time.Duration `envconfig:"JOB_LIFECYCLE_INTERVAL" default:"24h"`
	EngagementInterval time.Duration `envconfig:"JOB_ENGAGEMENT_INTERVAL" default:"24h"`
	RetentionInterval  time.Duration `envconfig:"JOB_RETENTION_INTERVAL" default:"24h"`
	ArchiveInterval    time.Duration `envconfig:"JOB_ARCHIVE_INTERVAL" default:"24h"`

	// LockTTL is how long a job lock is held before it is considered stale
	// and reclaimable by another worker.
	LockTTL time.Duration `envconfig:"JOB_LOCK_TTL" default:"15m"`
}

// EmailConfig holds email delivery provider credentials. An empty API key
// leaves the email channel unconfigured; sends through it yield a skipped
// outcome rather than an error.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"renewals@policypulse.io"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"PolicyPulse Renewals"`

	// WebhookPublicKey is the base64 Elliptic Curve public key from the
	// SendGrid Event Webhook settings. Empty disables event ingestion.
	WebhookPublicKey string `envconfig:"SENDGRID_WEBHOOK_PUBLIC_KEY"`
}

// MessagingConfig holds Twilio credentials for the SMS and WhatsApp
// channels. Empty credentials leave those channels unconfigured.
type MessagingConfig struct {
	TwilioAccountSID   string       `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    SecretString `envconfig:"TWILIO_AUTH_TOKEN"`
	SMSFromNumber      string       `envconfig:"TWILIO_SMS_FROM"`
	WhatsAppFrom       string       `envconfig:"TWILIO_WHATSAPP_FROM"`
	DefaultCountryCode string       `envconfig:"DEFAULT_COUNTRY_CODE" default:"+91"`
}

// ArchiveConfig holds settings for the outreach-log archival job.
type ArchiveConfig struct {
	// Dir is the destination directory for gzip JSONL exports. Empty
	// disables archival.
	Dir           string `envconfig:"OUTREACH_ARCHIVE_DIR"`
	RetentionDays int    `envconfig:"OUTREACH_RETENTION_DAYS" default:"365" validate:"gt=0"`
	BatchSize     int    `envconfig:"OUTREACH_ARCHIVE_BATCH" default:"1000" validate:"gt=0"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"PolicyPulse"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
	AWSRegion       string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
