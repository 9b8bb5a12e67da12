// Package config reads the process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iziplay/crm-indexer/pkg/database"
	"github.com/iziplay/crm-indexer/pkg/fetch"
	"github.com/iziplay/crm-indexer/pkg/index/elastic"
	"github.com/iziplay/crm-indexer/pkg/salesforce"
)

// DefaultRunTimeout bounds a run when RUN_TIMEOUT is not set.
const DefaultRunTimeout = 30 * time.Minute

// Index backends.
const (
	BackendElasticsearch = "elasticsearch"
	BackendPostgres      = "postgres"
)

type API struct {
	Port      string
	Host      string
	JWTSecret string
}

// Addr is the listen address, ":80" when no port is set.
func (a API) Addr() string {
	if a.Port == "" {
		return ":80"
	}
	return ":" + a.Port
}

// URL is the public server URL advertised in the API documentation.
func (a API) URL() string {
	if a.Host != "" {
		return a.Host
	}
	return "http://localhost" + a.Addr()
}

type Config struct {
	Salesforce salesforce.Credentials
	Elastic    elastic.Config
	Postgres   database.Config
	API        API

	// IndexBackend selects where documents are written.
	IndexBackend string
	Workers      int
	LogLevel     string
	// RunTimeout bounds every pipeline run.
	RunTimeout   time.Duration
	// SyncInterval enables periodic runs in serve mode when non-zero.
	SyncInterval time.Duration
	SyncPipeline string
	SyncFile     string
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv builds the configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Load builds the configuration from lookup.
func Load(lookup LookupFunc) (Config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	cfg := Config{
		Salesforce: salesforce.Credentials{
			LoginURL:      get("SF_LOGIN_URL", salesforce.DefaultLoginURL),
			ClientID:      get("SF_CLIENT_ID", ""),
			ClientSecret:  get("SF_CLIENT_SECRET", ""),
			Username:      get("SF_USERNAME", ""),
			Password:      get("SF_PASSWORD", ""),
			SecurityToken: get("SF_SECURITY_TOKEN", ""),
			AccessToken:   get("SF_ACCESS_TOKEN", ""),
			InstanceURL:   get("SF_INSTANCE_URL", ""),
			APIVersion:    get("SF_API_VERSION", salesforce.DefaultAPIVersion),
			Timeout:       salesforce.DefaultTimeout,
		},
		Elastic: elastic.Config{
			URL:      get("ES_CLUSTER_URL", ""),
			Username: get("ES_USERNAME", ""),
			Password: get("ES_PASSWORD", ""),
			APIKey:   get("ES_API_KEY", ""),
			Index:    get("ES_INDEX", ""),
			Timeout:  elastic.DefaultTimeout,
		},
		Postgres: database.Config{
			Host:     get("POSTGRES_HOST", ""),
			User:     get("POSTGRES_USER", ""),
			Password: get("POSTGRES_PASSWORD", ""),
			Database: get("POSTGRES_DATABASE", ""),
			Port:     get("POSTGRES_PORT", "5432"),
		},
		API: API{
			Port:      get("API_PORT", ""),
			Host:      get("API_HOST", ""),
			JWTSecret: get("API_JWT_SECRET", ""),
		},
		IndexBackend: strings.ToLower(get("INDEX_BACKEND", BackendElasticsearch)),
		Workers:      fetch.DefaultWorkers,
		RunTimeout:   DefaultRunTimeout,
		LogLevel:     strings.ToLower(get("LOG_LEVEL", "info")),
		SyncPipeline: get("SYNC_PIPELINE", ""),
		SyncFile:     get("SYNC_FILE", ""),
	}

	var err error
	if cfg.Elastic.VerifyCerts, err = parseBool(get("ES_VERIFY_CERTS", "true")); err != nil {
		return Config{}, fmt.Errorf("ES_VERIFY_CERTS: %w", err)
	}
	if cfg.Elastic.Refresh, err = parseBool(get("ES_REFRESH", "false")); err != nil {
		return Config{}, fmt.Errorf("ES_REFRESH: %w", err)
	}
	if v := get("ES_TIMEOUT", ""); v != "" {
		if cfg.Elastic.Timeout, err = parseDuration(v); err != nil {
			return Config{}, fmt.Errorf("ES_TIMEOUT: %w", err)
		}
	}
	if v := get("SF_TIMEOUT", ""); v != "" {
		if cfg.Salesforce.Timeout, err = parseDuration(v); err != nil || cfg.Salesforce.Timeout <= 0 {
			return Config{}, fmt.Errorf("SF_TIMEOUT: expected a positive duration, got %q", v)
		}
	}
	if v := get("RUN_TIMEOUT", ""); v != "" {
		if cfg.RunTimeout, err = parseDuration(v); err != nil || cfg.RunTimeout <= 0 {
			return Config{}, fmt.Errorf("RUN_TIMEOUT: expected a positive duration, got %q", v)
		}
	}
	if v := get("PIPELINE_WORKERS", ""); v != "" {
		if cfg.Workers, err = strconv.Atoi(v); err != nil || cfg.Workers < 1 {
			return Config{}, fmt.Errorf("PIPELINE_WORKERS: expected a positive integer, got %q", v)
		}
	}
	if v := get("SYNC_INTERVAL", ""); v != "" {
		if cfg.SyncInterval, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("SYNC_INTERVAL: %w", err)
		}
	}

	switch cfg.IndexBackend {
	case BackendElasticsearch, BackendPostgres:
	default:
		return Config{}, fmt.Errorf("INDEX_BACKEND: unknown backend %q", cfg.IndexBackend)
	}

	return cfg, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// parseDuration accepts a Go duration or a number of seconds.
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}
