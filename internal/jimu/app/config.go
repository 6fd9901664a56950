package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/bdobrica/Jimu/internal/jimu/matrix"
)

// Config holds process configuration, read from the environment by
// LoadConfig.
type Config struct {
	DatabasePath string `env:"JIMU_DATABASE_PATH" envDefault:"jimu.db"`

	MatrixHomeserver  string   `env:"MATRIX_HOMESERVER"`
	MatrixUserID      string   `env:"MATRIX_USER_ID"`
	MatrixAccessToken string   `env:"MATRIX_ACCESS_TOKEN"`
	MatrixAdminRooms  []string `env:"MATRIX_ADMIN_ROOMS" envSeparator:","`
	// AuditRoomID receives a notice for every executed plan, approval and
	// routine run. Empty disables the notices.
	AuditRoomID string `env:"MATRIX_AUDIT_ROOM"`
	// AdminSenders restricts who may send commands. Empty allows any member
	// of an admin room.
	AdminSenders []string `env:"MATRIX_ADMIN_SENDERS" envSeparator:","`

	// HTTPAddr enables the health server when set, e.g. ":8080".
	HTTPAddr     string        `env:"JIMU_HTTP_ADDR"`
	TickInterval time.Duration `env:"JIMU_TICK_INTERVAL" envDefault:"1m"`
	ApprovalTTL  time.Duration `env:"JIMU_APPROVAL_TTL" envDefault:"24h"`

	// RedisAddr enables the scope lock. Without it executions on the same
	// scope may overlap.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	LockTTL       time.Duration `env:"JIMU_LOCK_TTL" envDefault:"2m"`

	ComplianceRulesPath string `env:"JIMU_COMPLIANCE_RULES"`
	VocabularyPath      string `env:"JIMU_VOCABULARY"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// LoadConfig parses the environment into a Config.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate reports missing settings that New cannot do without.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("JIMU_DATABASE_PATH is required"))
	}
	if c.MatrixHomeserver == "" {
		errs = append(errs, errors.New("MATRIX_HOMESERVER is required"))
	}
	if c.MatrixUserID == "" {
		errs = append(errs, errors.New("MATRIX_USER_ID is required"))
	}
	if c.MatrixAccessToken == "" {
		errs = append(errs, errors.New("MATRIX_ACCESS_TOKEN is required"))
	}
	if len(c.MatrixAdminRooms) == 0 {
		errs = append(errs, errors.New("MATRIX_ADMIN_ROOMS is required"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("JIMU_TICK_INTERVAL must be positive, got %s", c.TickInterval))
	}
	return errors.Join(errs...)
}

// matrixConfig returns the Matrix client settings. New adds the database.
func (c *Config) matrixConfig() matrix.Config {
	return matrix.Config{
		Homeserver:  c.MatrixHomeserver,
		UserID:      c.MatrixUserID,
		AccessToken: c.MatrixAccessToken,
		AdminRooms:  c.MatrixAdminRooms,
	}
}
