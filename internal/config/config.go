// Package config loads the nodemon configuration file.
//
// The file is YAML, read over DefaultConfig and then validated against the
// embedded CUE schema (schema.cue).
package config

import (
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/nodemon/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// Config is the service configuration.
type Config struct {
	InstanceName      string        `yaml:"instance_name"`
	RootURL           string        `yaml:"root_url"`
	EmailFrom         string        `yaml:"email_from"`
	Database          string        `yaml:"database"`
	ActionSigningKey  string        `yaml:"action_signing_key"`
	TokenMaxAge       time.Duration `yaml:"token_max_age"`
	NodesURL          string        `yaml:"nodes_url"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	AbsentNodeStatus  string        `yaml:"absent_node_status"`
	Listen            string        `yaml:"listen"`
	StaticDir         string        `yaml:"static_dir"`
	SMTP              SMTP          `yaml:"smtp"`
}

// SMTP configures the outgoing mail relay.
type SMTP struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the defaults every file is loaded over. The
// defaults alone do not validate: instance, URLs, sender and signing key
// must be configured.
func DefaultConfig() Config {
	return Config{
		Database:          "nodemon.db",
		TokenMaxAge:       72 * time.Hour,
		ReconcileInterval: 5 * time.Minute,
		AbsentNodeStatus:  string(model.StatusOffline),
		Listen:            "127.0.0.1:8000",
		StaticDir:         "static",
		SMTP: SMTP{
			Host:    "localhost",
			Port:    25,
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("no configuration file given")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(content)
}

// Parse decodes YAML content over DefaultConfig and validates the result.
func Parse(content []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// schemaView is the shape checked against #Config.
type schemaView struct {
	InstanceName             string     `json:"instance_name"`
	RootURL                  string     `json:"root_url"`
	EmailFrom                string     `json:"email_from"`
	Database                 string     `json:"database"`
	ActionSigningKey         string     `json:"action_signing_key"`
	TokenMaxAgeSeconds       int64      `json:"token_max_age_seconds"`
	ReconcileIntervalSeconds int64      `json:"reconcile_interval_seconds"`
	NodesURL                 string     `json:"nodes_url"`
	AbsentNodeStatus         string     `json:"absent_node_status"`
	Listen                   string     `json:"listen"`
	StaticDir                string     `json:"static_dir"`
	SMTP                     smtpSchema `json:"smtp"`
}

type smtpSchema struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	TimeoutSeconds int64  `json:"timeout_seconds"`
}

func (c Config) view() schemaView {
	return schemaView{
		InstanceName:             c.InstanceName,
		RootURL:                  c.RootURL,
		EmailFrom:                c.EmailFrom,
		Database:                 c.Database,
		ActionSigningKey:         c.ActionSigningKey,
		TokenMaxAgeSeconds:       int64(c.TokenMaxAge / time.Second),
		ReconcileIntervalSeconds: int64(c.ReconcileInterval / time.Second),
		NodesURL:                 c.NodesURL,
		AbsentNodeStatus:         c.AbsentNodeStatus,
		Listen:                   c.Listen,
		StaticDir:                c.StaticDir,
		SMTP: smtpSchema{
			Host:     c.SMTP.Host,
			Port:     c.SMTP.Port,
			Username: c.SMTP.Username,
			Password:       c.SMTP.Password,
			TimeoutSeconds: int64(c.SMTP.Timeout / time.Second),
		},
	}
}

// Validate checks c against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c.view()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Checks the schema cannot express.
	if _, err := url.Parse(c.RootURL); err != nil {
		return fmt.Errorf("invalid config: root_url: %w", err)
	}
	if c.TokenMaxAge < 0 {
		return errors.New("invalid config: token_max_age must not be negative")
	}
	return nil
}

// SigningKey decodes the hex master key for action tokens.
func (c Config) SigningKey() ([]byte, error) {
	key, err := hex.DecodeString(c.ActionSigningKey)
	if err != nil {
		return nil, fmt.Errorf("action_signing_key: %w", err)
	}
	return key, nil
}

// Root returns the parsed public base URL.
func (c Config) Root() (*url.URL, error) {
	u, err := url.Parse(c.RootURL)
	if err != nil {
		return nil, fmt.Errorf("root_url: %w", err)
	}
	return u, nil
}

// AbsentStatus returns the status assumed for nodes missing from a snapshot.
func (c Config) AbsentStatus() model.Status {
	return model.Status(c.AbsentNodeStatus)
}

// UsesPostgres reports whether Database is a PostgreSQL connection URL
// rather than a SQLite file path.
func (c Config) UsesPostgres() bool {
	return strings.HasPrefix(c.Database, "postgres://") || strings.HasPrefix(c.Database, "postgresql://")
}
