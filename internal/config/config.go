package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return errors.New("invalid duration")
	}
}

type Configuration struct {
	Listen         string         `json:"listen" validate:"omitempty,hostname_port"`
	FetchInterval  Duration       `json:"fetchInterval"`
	BatchSize      int            `json:"batchSize" validate:"min=1"`
	MaxBodySize    int64          `json:"maxBodySize" validate:"min=1024"`
	MaxDecodedSize int64          `json:"maxDecodedSize" validate:"min=1024"`
	DNS            DNSConfig      `json:"dns"`
	ImapConfig     IMAPConfig     `json:"imap"`
	Database       DatabaseConfig `json:"database"`
	S3             S3Config       `json:"s3"`
}

type DNSConfig struct {
	Enabled        bool     `json:"enabled"`
	Server         string   `json:"server" validate:"omitempty,hostname_port"`
	ConnectTimeout Duration `json:"connectTimeout"`
	Timeout        Duration `json:"timeout"`
	CacheTimeout   Duration `json:"cacheTimeout"`
}

type IMAPConfig struct {
	Host       string   `json:"host" validate:"omitempty,hostname_port"`
	SSL        bool     `json:"ssl"`
	User       string   `json:"user" validate:"required_with=Host"`
	Pass       string   `json:"pass" validate:"required_with=Host"`
	Folder     string   `json:"folder" validate:"required_with=Host"`
	IgnoreCert bool     `json:"ignoreCert"`
	Timeout    Duration `json:"timeout"`
}

type DatabaseConfig struct {
	DSN          string `json:"dsn" validate:"required"`
	CreateSchema bool   `json:"createSchema"`
}

type S3Config struct {
	Endpoint  string `json:"endpoint" validate:"omitempty,url"`
	Region    string `json:"region" validate:"required_with=Bucket"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"accessKey" validate:"required_with=Bucket"`
	SecretKey string `json:"secretKey" validate:"required_with=Bucket"`
	PathStyle bool   `json:"pathStyle"`
	Prefix    string `json:"prefix"`
	PublicURL string `json:"publicURL" validate:"omitempty,url"`
}

// Defaults returns the configuration values used for settings missing from
// the config file.
func Defaults() Configuration {
	return Configuration{
		Listen: "127.0.0.1:8080",
		FetchInterval: Duration{
			Duration: 1 * time.Hour,
		},
		BatchSize:      30,
		MaxBodySize:    50 * 1024 * 1024,
		MaxDecodedSize: 100 * 1024 * 1024,
		DNS: DNSConfig{
			ConnectTimeout: Duration{Duration: 1 * time.Second},
			Timeout:        Duration{Duration: 10 * time.Second},
			CacheTimeout:   Duration{Duration: 1 * time.Hour},
		},
		ImapConfig: IMAPConfig{
			Folder:  "INBOX",
			Timeout: Duration{Duration: 1 * time.Minute},
		},
		S3: S3Config{
			Region: "us-east-1",
			Prefix: "dmarc-reports",
		},
	}
}

func GetConfig(defaults Configuration, f string) (*Configuration, error) {
	if f == "" {
		return nil, fmt.Errorf("please provide a valid config file")
	}

	b, err := os.ReadFile(f) // nolint: gosec
	if err != nil {
		return nil, err
	}
	reader := bytes.NewReader(b)

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err = decoder.Decode(&defaults); err != nil {
		return nil, err
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(defaults); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if defaults.Listen == "" && defaults.ImapConfig.Host == "" {
		return nil, errors.New("neither listen nor imap host configured, nothing to do")
	}

	if defaults.ImapConfig.Host != "" && defaults.FetchInterval.Duration <= 0 {
		return nil, fmt.Errorf("invalid config: fetchInterval must be positive, got %s", defaults.FetchInterval.Duration)
	}

	return &defaults, nil
}
