package config

import (
	"testing"
	"time"

	"github.com/iziplay/crm-indexer/pkg/salesforce"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(env(nil))
	require.NoError(t, err)

	assert.Equal(t, salesforce.DefaultLoginURL, cfg.Salesforce.LoginURL)
	assert.Equal(t, salesforce.DefaultAPIVersion, cfg.Salesforce.APIVersion)
	assert.True(t, cfg.Elastic.VerifyCerts)
	assert.Equal(t, 30*time.Second, cfg.Elastic.Timeout)
	assert.Equal(t, BackendElasticsearch, cfg.IndexBackend)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, ":80", cfg.API.Addr())
	assert.Equal(t, "http://localhost:80", cfg.API.URL())
	assert.False(t, cfg.Postgres.Enabled())
	assert.Zero(t, cfg.SyncInterval)
	assert.Equal(t, DefaultRunTimeout, cfg.RunTimeout)
	assert.Equal(t, salesforce.DefaultTimeout, cfg.Salesforce.Timeout)
}

func TestLoad(t *testing.T) {
	cfg, err := Load(env(map[string]string{
		"SF_USERNAME":       "ops@example.com",
		"SF_ACCESS_TOKEN":   "token",
		"SF_INSTANCE_URL":   "https://example.my.salesforce.com",
		"ES_CLUSTER_URL":    "https://es.example.com:9200",
		"ES_API_KEY":        "key",
		"ES_INDEX":          "crm",
		"ES_VERIFY_CERTS":   "false",
		"ES_TIMEOUT":        "45",
		"ES_REFRESH":        "yes",
		"POSTGRES_HOST":     "db",
		"API_PORT":          "8080",
		"API_HOST":          "https://crm.example.com",
		"API_JWT_SECRET":    "s3cret",
		"PIPELINE_WORKERS":  "8",
		"INDEX_BACKEND":     "Postgres",
		"SYNC_INTERVAL":     "6h",
		"RUN_TIMEOUT":       "10m",
		"SF_TIMEOUT":        "90",
		"SYNC_PIPELINE":     "account-cases",
		"LOG_LEVEL":         "DEBUG",
		"SF_SECURITY_TOKEN": " padded ",
	}))
	require.NoError(t, err)

	assert.Equal(t, "token", cfg.Salesforce.AccessToken)
	assert.Equal(t, "padded", cfg.Salesforce.SecurityToken)
	assert.NoError(t, cfg.Elastic.Validate())
	assert.False(t, cfg.Elastic.VerifyCerts)
	assert.Equal(t, 45*time.Second, cfg.Elastic.Timeout)
	assert.True(t, cfg.Elastic.Refresh)
	assert.True(t, cfg.Postgres.Enabled())
	assert.Equal(t, "5432", cfg.Postgres.Port)
	assert.Equal(t, ":8080", cfg.API.Addr())
	assert.Equal(t, "https://crm.example.com", cfg.API.URL())
	assert.Equal(t, "s3cret", cfg.API.JWTSecret)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, BackendPostgres, cfg.IndexBackend)
	assert.Equal(t, 6*time.Hour, cfg.SyncInterval)
	assert.Equal(t, 10*time.Minute, cfg.RunTimeout)
	assert.Equal(t, 90*time.Second, cfg.Salesforce.Timeout)
	assert.Equal(t, "account-cases", cfg.SyncPipeline)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	tests := map[string]map[string]string{
		"ES_VERIFY_CERTS":  {"ES_VERIFY_CERTS": "maybe"},
		"ES_TIMEOUT":       {"ES_TIMEOUT": "soon"},
		"ES_REFRESH":       {"ES_REFRESH": "later"},
		"PIPELINE_WORKERS": {"PIPELINE_WORKERS": "0"},
		"SYNC_INTERVAL":    {"SYNC_INTERVAL": "daily"},
		"RUN_TIMEOUT":      {"RUN_TIMEOUT": "0"},
		"SF_TIMEOUT":       {"SF_TIMEOUT": "forever"},
		"INDEX_BACKEND":    {"INDEX_BACKEND": "solr"},
	}

	for name, values := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(env(values))
			assert.ErrorContains(t, err, name)
		})
	}
}

func TestElasticValidate(t *testing.T) {
	cfg, err := Load(env(map[string]string{"ES_CLUSTER_URL": "http://es:9200", "ES_INDEX": "crm", "ES_USERNAME": "elastic"}))
	require.NoError(t, err)
	assert.Error(t, cfg.Elastic.Validate())
}
