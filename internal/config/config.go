package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures every setting required to boot the incident agent.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Weaviate   WeaviateConfig   `yaml:"weaviate"`
	LLM        LLMConfig        `yaml:"llm"`
	Azure      AzureConfig      `yaml:"azure"`
	AWS        AWSConfig        `yaml:"aws"`
	ServiceNow ServiceNowConfig `yaml:"serviceNow"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Cache      CacheConfig      `yaml:"cache"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Logs       LogsConfig       `yaml:"logs"`
}

// ServerConfig controls the webhook, health and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DatabaseConfig configures the Postgres pool holding runbooks and incidents.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
}

// WeaviateConfig configures the runbook vector index.
type WeaviateConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"apiKey"`
	ClassName string        `yaml:"className"`
	TopK      int           `yaml:"topK"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LLMConfig selects and tunes the completion and embedding providers.
type LLMConfig struct {
	CompletionProvider  string        `yaml:"completionProvider"`
	EmbeddingProvider   string        `yaml:"embeddingProvider"`
	OpenAIKey           string        `yaml:"openAIKey"`
	OpenAIBaseURL       string        `yaml:"openAIBaseURL"`
	CompletionModel     string        `yaml:"completionModel"`
	EmbeddingModel      string        `yaml:"embeddingModel"`
	EmbeddingDimensions int           `yaml:"embeddingDimensions"`
	Temperature         float32       `yaml:"temperature"`
	MaxTokens           int           `yaml:"maxTokens"`
	AzureEndpoint       string        `yaml:"azureEndpoint"`
	AzureAPIKey         string        `yaml:"azureAPIKey"`
	AzureAPIVersion     string        `yaml:"azureAPIVersion"`
	AzureDeployment     string        `yaml:"azureDeployment"`
	BedrockModel        string        `yaml:"bedrockModel"`
	RequestsPerSecond   float64       `yaml:"requestsPerSecond"`
	RetryInitial        time.Duration `yaml:"retryInitial"`
	RetryMax            time.Duration `yaml:"retryMax"`
	RetryAttempts       uint          `yaml:"retryAttempts"`
}

// AzureConfig holds the service principal and automation account coordinates.
type AzureConfig struct {
	TenantID           string `yaml:"tenantID"`
	ClientID           string `yaml:"clientID"`
	ClientSecret       string `yaml:"clientSecret"`
	SubscriptionID     string `yaml:"subscriptionID"`
	ResourceGroup      string `yaml:"resourceGroup"`
	AutomationAccount  string `yaml:"automationAccount"`
	WebhookEndpointURL string `yaml:"webhookEndpointURL"`
	WebhookName        string `yaml:"webhookName"`
	PortalDomain       string `yaml:"portalDomain"`
	ManagementURL      string `yaml:"managementURL"`
	RegisterAlerts     bool   `yaml:"registerAlerts"`
}

// AWSConfig holds credentials used by the Bedrock embedder and handed to runbooks.
type AWSConfig struct {
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	Region          string `yaml:"region"`
}

// ServiceNowConfig configures the ticketing instance.
type ServiceNowConfig struct {
	InstanceURL string        `yaml:"instanceURL"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Timeout     time.Duration `yaml:"timeout"`
}

// IndexerConfig controls the runbook indexing loop.
type IndexerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// ExecutorConfig controls automation job polling.
type ExecutorConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxWait      time.Duration `yaml:"maxWait"`
}

// CacheConfig controls Valkey-backed caching of embeddings.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	EmbeddingTTL time.Duration `yaml:"embeddingTTL"`
}

// TracingConfig controls OTLP span export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"serviceName"`
}

// LogsConfig controls the log analysis endpoint. With no allowed hosts the endpoint is disabled.
type LogsConfig struct {
	AllowedHosts []string      `yaml:"allowedHosts"`
	ChunkLines   int           `yaml:"chunkLines"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Load initialises Config from a YAML file, an optional .env file and environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("INCIDENT_AGENT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	envFile := os.Getenv("INCIDENT_AGENT_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects provider kinds and intervals the agent cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.CompletionProvider {
	case "openai", "azure_openai":
	default:
		return fmt.Errorf("unsupported completion provider %q", c.LLM.CompletionProvider)
	}
	switch c.LLM.EmbeddingProvider {
	case "openai", "azure_openai", "bedrock":
	default:
		return fmt.Errorf("unsupported embedding provider %q", c.LLM.EmbeddingProvider)
	}
	if strings.TrimSpace(c.Weaviate.Endpoint) == "" {
		return fmt.Errorf("weaviate endpoint is required")
	}
	if c.Executor.PollInterval <= 0 {
		return fmt.Errorf("executor poll interval must be positive")
	}
	if c.Indexer.Interval <= 0 {
		return fmt.Errorf("indexer interval must be positive")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8000",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  5 * time.Second,
		},
		Weaviate: WeaviateConfig{
			Endpoint:  "http://localhost:8080",
			ClassName: "RunbookVector",
			TopK:      5,
			Timeout:   10 * time.Second,
		},
		LLM: LLMConfig{
			CompletionProvider:  "openai",
			EmbeddingProvider:   "openai",
			CompletionModel:     "gpt-4o-mini",
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingDimensions: 512,
			Temperature:         0.2,
			MaxTokens:           4000,
			AzureAPIVersion:     "2024-06-01",
			BedrockModel:        "amazon.titan-embed-text-v2:0",
			RequestsPerSecond:   5,
			RetryInitial:        time.Second,
			RetryMax:            40 * time.Second,
			RetryAttempts:       5,
		},
		Azure: AzureConfig{
			WebhookName:   "automation-webhook",
			ManagementURL: "https://management.azure.com",
		},
		ServiceNow: ServiceNowConfig{Timeout: 15 * time.Second},
		Indexer:    IndexerConfig{Enabled: true, Interval: 300 * time.Second},
		Executor:   ExecutorConfig{PollInterval: 30 * time.Second, MaxWait: 2 * time.Hour},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			EmbeddingTTL: 24 * time.Hour,
		},
		Tracing: TracingConfig{ServiceName: "incident-agent"},
		Logs:    LogsConfig{ChunkLines: 1000, Timeout: 30 * time.Second},
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Address, "INCIDENT_AGENT_SERVER_ADDRESS")
	setString(&cfg.Server.GRPCAddress, "INCIDENT_AGENT_GRPC_ADDRESS")
	setString(&cfg.Server.MetricsAddress, "INCIDENT_AGENT_METRICS_ADDRESS")
	setString(&cfg.Logging.Level, "INCIDENT_AGENT_LOG_LEVEL")
	if v := os.Getenv("INCIDENT_AGENT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}

	setString(&cfg.Database.URL, "DATABASE_URL", "INCIDENT_AGENT_DATABASE_URL")
	setString(&cfg.Weaviate.Endpoint, "INCIDENT_AGENT_WEAVIATE_URL")
	setString(&cfg.Weaviate.APIKey, "INCIDENT_AGENT_WEAVIATE_API_KEY")
	setInt(&cfg.Weaviate.TopK, "INCIDENT_AGENT_TOP_K")

	setString(&cfg.LLM.CompletionProvider, "INCIDENT_AGENT_COMPLETION_PROVIDER")
	setString(&cfg.LLM.EmbeddingProvider, "INCIDENT_AGENT_EMBEDDING_PROVIDER")
	setString(&cfg.LLM.OpenAIKey, "OPENAI_API_KEY", "INCIDENT_AGENT_OPENAI_API_KEY")
	setString(&cfg.LLM.OpenAIBaseURL, "INCIDENT_AGENT_OPENAI_BASE_URL")
	setString(&cfg.LLM.CompletionModel, "INCIDENT_AGENT_COMPLETION_MODEL")
	setString(&cfg.LLM.EmbeddingModel, "INCIDENT_AGENT_EMBEDDING_MODEL")
	setString(&cfg.LLM.AzureEndpoint, "AZURE_OPENAI_ENDPOINT", "INCIDENT_AGENT_AZURE_OPENAI_ENDPOINT")
	setString(&cfg.LLM.AzureAPIKey, "AZURE_OPENAI_API_KEY", "INCIDENT_AGENT_AZURE_OPENAI_API_KEY")
	setString(&cfg.LLM.AzureDeployment, "INCIDENT_AGENT_AZURE_OPENAI_DEPLOYMENT")
	setString(&cfg.LLM.BedrockModel, "INCIDENT_AGENT_BEDROCK_MODEL")
	if v := os.Getenv("INCIDENT_AGENT_LLM_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.RequestsPerSecond = rps
		}
	}

	setString(&cfg.Azure.TenantID, "TENANT_ID", "INCIDENT_AGENT_TENANT_ID")
	setString(&cfg.Azure.ClientID, "CLIENT_ID", "INCIDENT_AGENT_CLIENT_ID")
	setString(&cfg.Azure.ClientSecret, "CLIENT_SECRET", "INCIDENT_AGENT_CLIENT_SECRET")
	setString(&cfg.Azure.SubscriptionID, "SUBSCRIPTION_ID", "INCIDENT_AGENT_SUBSCRIPTION_ID")
	setString(&cfg.Azure.ResourceGroup, "RESOURCE_GROUP", "INCIDENT_AGENT_RESOURCE_GROUP")
	setString(&cfg.Azure.AutomationAccount, "AUTOMATION_ACCOUNT", "INCIDENT_AGENT_AUTOMATION_ACCOUNT")
	setString(&cfg.Azure.WebhookEndpointURL, "WEBHOOK_ENDPOINT_URL", "INCIDENT_AGENT_WEBHOOK_ENDPOINT_URL")
	setString(&cfg.Azure.WebhookName, "WEBHOOK_NAME", "INCIDENT_AGENT_WEBHOOK_NAME")
	setString(&cfg.Azure.PortalDomain, "INCIDENT_AGENT_PORTAL_DOMAIN")
	setBool(&cfg.Azure.RegisterAlerts, "INCIDENT_AGENT_REGISTER_ALERTS")

	setString(&cfg.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&cfg.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&cfg.AWS.Region, "AWS_REGION")

	setString(&cfg.ServiceNow.InstanceURL, "SERVICE_NOW_URL", "INCIDENT_AGENT_SERVICE_NOW_URL")
	setString(&cfg.ServiceNow.Username, "SERVICE_NOW_USERNAME", "INCIDENT_AGENT_SERVICE_NOW_USERNAME")
	setString(&cfg.ServiceNow.Password, "SERVICE_NOW_PASSWORD", "INCIDENT_AGENT_SERVICE_NOW_PASSWORD")

	setBool(&cfg.Indexer.Enabled, "INCIDENT_AGENT_INDEXER_ENABLED")
	setDuration(&cfg.Indexer.Interval, "INCIDENT_AGENT_INDEXER_INTERVAL")
	setDuration(&cfg.Executor.PollInterval, "INCIDENT_AGENT_POLL_INTERVAL")
	setDuration(&cfg.Executor.MaxWait, "INCIDENT_AGENT_POLL_MAX_WAIT")

	setBool(&cfg.Cache.Enabled, "INCIDENT_AGENT_CACHE_ENABLED")
	setString(&cfg.Cache.Addr, "INCIDENT_AGENT_CACHE_ADDR")
	setString(&cfg.Cache.Username, "INCIDENT_AGENT_CACHE_USERNAME")
	setString(&cfg.Cache.Password, "INCIDENT_AGENT_CACHE_PASSWORD")
	setInt(&cfg.Cache.DB, "INCIDENT_AGENT_CACHE_DB")
	setBool(&cfg.Cache.TLS, "INCIDENT_AGENT_CACHE_TLS")
	setDuration(&cfg.Cache.EmbeddingTTL, "INCIDENT_AGENT_CACHE_EMBEDDING_TTL")

	if v := os.Getenv("INCIDENT_AGENT_LOG_ALLOWED_HOSTS"); v != "" {
		cfg.Logs.AllowedHosts = splitList(v)
	}
	setInt(&cfg.Logs.ChunkLines, "INCIDENT_AGENT_LOG_CHUNK_LINES")

	setBool(&cfg.Tracing.Enabled, "INCIDENT_AGENT_TRACING_ENABLED")
	setString(&cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// setString applies each set variable in order, so later names take precedence.
func setString(dst *string, names ...string) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setDuration(dst *time.Duration, name string) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
