package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:        "0.0.0.0",
			ReadTimeout: 30 * time.Second,
		},
		Ingress: IngressConfig{
			Port:             8080,
			MaxBodyBytes:     5 << 20,
			RequestTimeoutMs: 5000,
		},
		EventBus: EventBusConfig{
			URL:          "redis://localhost:6379/0",
			StreamMaxLen: 1_000_000,
		},
		MetadataStore: MetadataStoreConfig{URL: "postgres://localhost/agentscope"},
		ColumnarStore: ColumnarStoreConfig{
			URL:               "clickhouse://localhost:9000/agentscope",
			InsertRetryBudget: 10,
		},
		Worker:    WorkerConfig{BatchSize: 1000, FlushIntervalMs: 1000},
		Broadcast: BroadcastConfig{SubscriberQueueSize: 256},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func TestConfig_ValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestIngressConfig_RejectsInvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Ingress.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestIngressConfig_RejectsZeroMaxBodyBytes(t *testing.T) {
	cfg := validConfig()
	cfg.Ingress.MaxBodyBytes = 0
	assert.Error(t, cfg.Validate())
}

func TestEventBusConfig_RejectsEmptyURL(t *testing.T) {
	cfg := validConfig()
	cfg.EventBus.URL = ""
	assert.Error(t, cfg.Validate())
}

func TestColumnarStoreConfig_RejectsZeroRetryBudget(t *testing.T) {
	cfg := validConfig()
	cfg.ColumnarStore.InsertRetryBudget = 0
	assert.Error(t, cfg.Validate())
}

func TestWorkerConfig_RejectsZeroBatchSize(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.BatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestBroadcastConfig_RejectsZeroQueueSize(t *testing.T) {
	cfg := validConfig()
	cfg.Broadcast.SubscriberQueueSize = 0
	assert.Error(t, cfg.Validate())
}

func TestLoggingConfig_RejectsInvalidLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestConfig_IsDevelopmentAndIsProduction(t *testing.T) {
	dev := validConfig()
	dev.Environment = "development"
	assert.True(t, dev.IsDevelopment())
	assert.False(t, dev.IsProduction())

	prod := validConfig()
	prod.Environment = "production"
	assert.True(t, prod.IsProduction())
	assert.False(t, prod.IsDevelopment())
}

func TestConfig_GetServerAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Host = "0.0.0.0"
	cfg.Ingress.Port = 8080
	assert.Equal(t, "0.0.0.0:8080", cfg.GetServerAddress())
}
