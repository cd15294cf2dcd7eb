package config

import (
	"fmt"
	"os"
	"strings"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Secrets is the process-environment contract: SMTP coordinates and
// credentials plus the admin recipient. All five are required; they are read
// once at startup and never written to disk or to the config file.
type Secrets struct {
	SMTPServer    string `env:"SMTP_SERVER,required,notEmpty"`
	SMTPPort      int    `env:"SMTP_PORT,required,notEmpty"`
	EmailAddress  string `env:"EMAIL_ADDRESS,required,notEmpty"`
	EmailPassword string `env:"EMAIL_PASSWORD,required,notEmpty"`
	AdminEmail    string `env:"ADMIN_EMAIL,required,notEmpty"`
}

// LoadSecrets loads an optional dotenv file and parses the required
// environment variables. A missing dotenv file is not an error (the secrets
// may come straight from the environment, e.g. a secret store); a missing or
// malformed variable is.
func LoadSecrets(envFile string) (Secrets, error) {
	if path := strings.TrimSpace(envFile); path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return Secrets{}, fmt.Errorf("load env file %q: %w", path, err)
		}
	} else {
		// Default ".env" in the working directory, if present.
		_ = godotenv.Load()
	}

	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, fmt.Errorf("smtp environment: %w", err)
	}
	if err := s.validate(); err != nil {
		return Secrets{}, err
	}
	return s, nil
}

func (s Secrets) validate() error {
	if s.SMTPPort <= 0 || s.SMTPPort > 65535 {
		return fmt.Errorf("SMTP_PORT: invalid port %d", s.SMTPPort)
	}
	if !strings.Contains(s.EmailAddress, "@") {
		return fmt.Errorf("EMAIL_ADDRESS: %q is not an email address", s.EmailAddress)
	}
	if !strings.Contains(s.AdminEmail, "@") {
		return fmt.Errorf("ADMIN_EMAIL: %q is not an email address", s.AdminEmail)
	}
	return nil
}
