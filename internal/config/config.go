// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the outreach mailer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shineum/outreach-mailer/internal/email"
	"github.com/shineum/outreach-mailer/internal/outreach"
)

// stdoutSender is the From address used when nothing else is configured and
// mail is only printed.
const stdoutSender = "outreach@localhost"

// Config holds the complete application configuration.
type Config struct {
	Provider string         `yaml:"provider" validate:"oneof=ses smtp graph stdout"`
	Leads    LeadsConfig    `yaml:"leads"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Message  MessageConfig  `yaml:"message"`
	SES      SESConfig      `yaml:"ses"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Graph    GraphConfig    `yaml:"graph"`
	IMAP     IMAPConfig     `yaml:"imap"`
	Bounce   BounceConfig   `yaml:"bounce"`
	Admin    AdminConfig    `yaml:"admin"`
	TLS      TLSConfig      `yaml:"tls"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LeadsConfig locates the lead workbook.
type LeadsConfig struct {
	Path  string `yaml:"path" validate:"required"`
	Sheet string `yaml:"sheet" validate:"required"`
}

// ScheduleConfig holds the send window and daemon trigger times. All clock
// values are HH:MM in Timezone.
type ScheduleConfig struct {
	Timezone              string `yaml:"timezone" validate:"required,timezone"`
	CurfewTime            string `yaml:"curfew_time" validate:"required,datetime=15:04"`
	PacingIntervalSeconds int    `yaml:"pacing_interval_seconds" validate:"min=1"`
	SendAt                string `yaml:"send_at" validate:"required,datetime=15:04"`
	VerifyAt              string `yaml:"verify_at" validate:"required,datetime=15:04"`
}

// MessageConfig holds the outreach message templates. BodyFile, when set,
// takes precedence over Body.
type MessageConfig struct {
	From     string `yaml:"from" validate:"omitempty,email"`
	Subject  string `yaml:"subject"`
	Body     string `yaml:"body"`
	BodyFile string `yaml:"body_file"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// SMTPConfig holds the outbound SMTP relay configuration.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSL      bool   `yaml:"ssl"`
	Sender   string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// IMAPConfig holds the mailbox that receives bounce notifications.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
	Folder   string `yaml:"folder"`
}

// BounceConfig shapes the mailbox search for bounce notifications.
type BounceConfig struct {
	LookbackDays int      `yaml:"lookback_days" validate:"min=1"`
	MaxResults   int      `yaml:"max_results" validate:"min=1"`
	Senders      []string `yaml:"senders"`
	Subjects     []string `yaml:"subjects"`
}

// AdminConfig lists the addresses that receive run summaries.
type AdminConfig struct {
	Emails []string `yaml:"emails" validate:"dive,email"`
}

// TLSConfig holds client TLS settings for the SMTP and IMAP connections.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the structural constraints declared in the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// SMTPConfigured returns true if the relay host and sender are set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.Sender != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// IMAPConfigured returns true if the bounce mailbox can be logged into.
func (c *Config) IMAPConfigured() bool {
	return c.IMAP.Host != "" && c.IMAP.Username != "" && c.IMAP.Password != ""
}

// Sender returns the From address for outreach mail: message.from when set,
// otherwise the selected provider's sender.
func (c *Config) Sender() string {
	if c.Message.From != "" {
		return c.Message.From
	}
	switch c.Provider {
	case "ses":
		return c.SES.Sender
	case "smtp":
		return c.SMTP.Sender
	case "graph":
		return c.Graph.Sender
	}
	return stdoutSender
}

// Settings resolves the job settings: it loads the time zone, parses the
// curfew and compiles the message templates.
func (c *Config) Settings() (outreach.Settings, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return outreach.Settings{}, fmt.Errorf("load timezone: %w", err)
	}
	curfew, err := outreach.ParseClock(c.Schedule.CurfewTime)
	if err != nil {
		return outreach.Settings{}, fmt.Errorf("curfew_time: %w", err)
	}

	body := c.Message.Body
	if c.Message.BodyFile != "" {
		data, err := os.ReadFile(c.Message.BodyFile)
		if err != nil {
			return outreach.Settings{}, fmt.Errorf("failed to read body file: %w", err)
		}
		body = string(data)
	}
	templates, err := outreach.ParseTemplates(c.Message.Subject, body)
	if err != nil {
		return outreach.Settings{}, err
	}

	return outreach.Settings{
		Location:  loc,
		Curfew:    curfew,
		Pacing:    time.Duration(c.Schedule.PacingIntervalSeconds) * time.Second,
		From:      c.Sender(),
		Templates: templates,
		Query: email.SearchQuery{
			Senders:       c.Bounce.Senders,
			Subjects:      c.Bounce.Subjects,
			NewerThanDays: c.Bounce.LookbackDays,
			MaxResults:    c.Bounce.MaxResults,
		},
		Admins: c.Admin.Emails,
	}, nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = "stdout"
	c.Leads.Sheet = "Sheet1"
	c.Schedule.Timezone = "Asia/Kolkata"
	c.Schedule.CurfewTime = "03:00"
	c.Schedule.PacingIntervalSeconds = 90
	c.Schedule.SendAt = "23:00"
	c.Schedule.VerifyAt = "09:30"
	c.SMTP.Port = 587
	c.IMAP.Port = 993
	c.IMAP.TLS = true
	c.IMAP.Folder = "INBOX"
	c.Bounce.LookbackDays = 2
	c.Bounce.MaxResults = 500
	c.Bounce.Senders = []string{"mailer-daemon", "postmaster"}
	c.Bounce.Subjects = []string{
		"Delivery Status Notification",
		"Undeliverable",
		"Mail delivery failed",
		"failure",
	}
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values. Numbers and
// booleans that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString(&c.Leads.Path, "LEADS_PATH")
	setString(&c.Leads.Sheet, "LEADS_SHEET")

	setString(&c.Schedule.Timezone, "SCHEDULE_TIMEZONE")
	setString(&c.Schedule.CurfewTime, "SCHEDULE_CURFEW_TIME")
	setInt(&c.Schedule.PacingIntervalSeconds, "SCHEDULE_PACING_INTERVAL_SECONDS")
	setString(&c.Schedule.SendAt, "SCHEDULE_SEND_AT")
	setString(&c.Schedule.VerifyAt, "SCHEDULE_VERIFY_AT")

	setString(&c.Message.From, "MESSAGE_FROM")
	setString(&c.Message.Subject, "MESSAGE_SUBJECT")
	setString(&c.Message.BodyFile, "MESSAGE_BODY_FILE")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.SES.Sender, "SES_SENDER")

	setString(&c.SMTP.Host, "SMTP_HOST")
	setInt(&c.SMTP.Port, "SMTP_PORT")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setBool(&c.SMTP.SSL, "SMTP_SSL")
	setString(&c.SMTP.Sender, "SMTP_SENDER")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Graph.Sender, "GRAPH_SENDER")

	setString(&c.IMAP.Host, "IMAP_HOST")
	setInt(&c.IMAP.Port, "IMAP_PORT")
	setString(&c.IMAP.Username, "IMAP_USERNAME")
	setString(&c.IMAP.Password, "IMAP_PASSWORD")
	setBool(&c.IMAP.TLS, "IMAP_TLS")
	setString(&c.IMAP.Folder, "IMAP_FOLDER")

	setInt(&c.Bounce.LookbackDays, "BOUNCE_LOOKBACK_DAYS")
	setInt(&c.Bounce.MaxResults, "BOUNCE_MAX_RESULTS")

	if v := os.Getenv("ADMIN_EMAILS"); v != "" {
		c.Admin.Emails = splitList(v)
	}

	setString(&c.TLS.CAFile, "TLS_CA_FILE")
	setBool(&c.TLS.InsecureSkipVerify, "TLS_INSECURE_SKIP_VERIFY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
