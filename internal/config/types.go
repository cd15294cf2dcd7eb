package config

// Config is the non-secret file configuration (YAML or JSON).
//
// SMTP credentials and addresses deliberately live outside this file: they
// are injected through the environment (see Secrets) and are not
// hot-reloadable.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Campaign  CampaignConfig  `json:"campaign"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Mailer    MailerConfig    `json:"mailer,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the campaign trigger.
//
// Spec accepts a cron expression ("0 6 * * 1"), a descriptor ("@weekly"),
// an interval ("168h"), or HH:MM interval shorthand. Defaults to weekly
// Monday 06:00 when omitted.
type SchedulerConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"`
	// Trigger timezone (IANA name). Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// CampaignConfig controls a campaign run.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type CampaignConfig struct {
	// RecipientsPath points at the recipients JSON array.
	RecipientsPath string `json:"recipients_path"`

	Workers    int `json:"workers,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`

	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	// SuppressWindow skips recipients already mailed within the window.
	// "0s" disables suppression (every run mails everyone).
	SuppressWindow string `json:"suppress_window,omitempty"`

	// DryRun writes rendered emails to DryRunDir instead of dialing SMTP.
	DryRun    bool   `json:"dry_run,omitempty"`
	DryRunDir string `json:"dry_run_dir,omitempty"`

	SenderName string `json:"sender_name,omitempty"`
	BookingURL string `json:"booking_url,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./packmail_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MailerConfig holds non-secret SMTP transport knobs.
type MailerConfig struct {
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
	SendTimeout        string `json:"send_timeout,omitempty"` // per-message bound
}
