package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

const (
	EnvConfig   = "PANIC_CONFIG"
	EnvLogLevel = "PANIC_LOG_LEVEL"

	defaultConfigPath = "panicctl.toml"
)

// Store backends.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

type StoreConfig struct {
	Backend          string
	Path             string
	ProjectID        string
	CollectionPrefix string
}

type DeliveryConfig struct {
	RoutingServiceURL string
	PubsubProjectID   string
	Timeout           time.Duration
	ClientCert        string
	ClientKey         string
	CACert            string
}

type ServerConfig struct {
	Addr     string
	Cert     string
	Key      string
	ClientCA string
	// AdoptPartner selects responder behaviour for inbound CONNECT.
	AdoptPartner bool
}

type Config struct {
	SelfID      string
	ManifestDir string
	Store       StoreConfig
	Delivery    DeliveryConfig
	Server      ServerConfig
}

func DefaultConfig() Config {
	return Config{
		ManifestDir: "manifests",
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    "panic.db",
		},
		Delivery: DeliveryConfig{
			Timeout: 15 * time.Second,
		},
		Server: ServerConfig{
			Addr: ":8443",
		},
	}
}

type fileConfig struct {
	SelfID      string `toml:"self_id"`
	ManifestDir string `toml:"manifest_dir"`
	Store       struct {
		Backend          string `toml:"backend"`
		Path             string `toml:"path"`
		ProjectID        string `toml:"project_id"`
		CollectionPrefix string `toml:"collection_prefix"`
	} `toml:"store"`
	Delivery struct {
		RoutingServiceURL string `toml:"routing_service_url"`
		PubsubProjectID   string `toml:"pubsub_project_id"`
		Timeout           string `toml:"timeout"`
		ClientCert        string `toml:"client_cert"`
		ClientKey         string `toml:"client_key"`
		CACert            string `toml:"ca_cert"`
	} `toml:"delivery"`
	Server struct {
		Addr         string `toml:"addr"`
		Cert         string `toml:"cert"`
		Key          string `toml:"key"`
		ClientCA     string `toml:"client_ca"`
		AdoptPartner bool   `toml:"adopt_partner"`
	} `toml:"server"`
}

// configPath picks the flag value, then PANIC_CONFIG, then the default file.
func configPath(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(EnvConfig)); v != "" {
		return v
	}
	return defaultConfigPath
}

func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load panicctl config: %w", err)
	}

	if meta.IsDefined("self_id") {
		cfg.SelfID = strings.TrimSpace(raw.SelfID)
	}
	if meta.IsDefined("manifest_dir") {
		cfg.ManifestDir = strings.TrimSpace(raw.ManifestDir)
	}

	if meta.IsDefined("store", "backend") {
		cfg.Store.Backend = strings.ToLower(strings.TrimSpace(raw.Store.Backend))
	}
	if meta.IsDefined("store", "path") {
		cfg.Store.Path = strings.TrimSpace(raw.Store.Path)
	}
	if meta.IsDefined("store", "project_id") {
		cfg.Store.ProjectID = strings.TrimSpace(raw.Store.ProjectID)
	}
	if meta.IsDefined("store", "collection_prefix") {
		cfg.Store.CollectionPrefix = strings.TrimSpace(raw.Store.CollectionPrefix)
	}

	if meta.IsDefined("delivery", "routing_service_url") {
		cfg.Delivery.RoutingServiceURL = strings.TrimRight(strings.TrimSpace(raw.Delivery.RoutingServiceURL), "/")
	}
	if meta.IsDefined("delivery", "pubsub_project_id") {
		cfg.Delivery.PubsubProjectID = strings.TrimSpace(raw.Delivery.PubsubProjectID)
	}
	if meta.IsDefined("delivery", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Delivery.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse delivery.timeout: %w", err)
		}
		cfg.Delivery.Timeout = d
	}
	if meta.IsDefined("delivery", "client_cert") {
		cfg.Delivery.ClientCert = strings.TrimSpace(raw.Delivery.ClientCert)
	}
	if meta.IsDefined("delivery", "client_key") {
		cfg.Delivery.ClientKey = strings.TrimSpace(raw.Delivery.ClientKey)
	}
	if meta.IsDefined("delivery", "ca_cert") {
		cfg.Delivery.CACert = strings.TrimSpace(raw.Delivery.CACert)
	}

	if meta.IsDefined("server", "addr") {
		cfg.Server.Addr = strings.TrimSpace(raw.Server.Addr)
	}
	if meta.IsDefined("server", "cert") {
		cfg.Server.Cert = strings.TrimSpace(raw.Server.Cert)
	}
	if meta.IsDefined("server", "key") {
		cfg.Server.Key = strings.TrimSpace(raw.Server.Key)
	}
	if meta.IsDefined("server", "client_ca") {
		cfg.Server.ClientCA = strings.TrimSpace(raw.Server.ClientCA)
	}
	if meta.IsDefined("server", "adopt_partner") {
		cfg.Server.AdoptPartner = raw.Server.AdoptPartner
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.SelfID == "" {
		return errors.New("config missing self_id")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.Path == "" {
			return errors.New("config missing store.path for sqlite backend")
		}
	case BackendFirestore:
		if c.Store.ProjectID == "" {
			return errors.New("config missing store.project_id for firestore backend")
		}
	default:
		return fmt.Errorf("config has unknown store.backend %q", c.Store.Backend)
	}
	if (c.Delivery.ClientCert == "") != (c.Delivery.ClientKey == "") {
		return errors.New("config needs both delivery.client_cert and delivery.client_key")
	}
	if c.Delivery.Timeout <= 0 {
		return errors.New("config delivery.timeout must be positive")
	}
	return nil
}

// logLevel reads PANIC_LOG_LEVEL; unknown or empty values keep info.
func logLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
