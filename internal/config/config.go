package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/liliang-cn/solace/internal/domain"
	"github.com/spf13/viper"
)

// turnMargin is kept free of a chat turn for writing the response
const turnMargin = 5 * time.Second

// Config holds all configuration for Solace
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	RAG      RAGConfig      `mapstructure:"rag"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Chat     ChatConfig     `mapstructure:"chat"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowOrigins   []string      `mapstructure:"allow_origins"`
}

// AdminConfig holds admin authentication configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig holds transcript database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// RAGConfig holds retrieval configuration
type RAGConfig struct {
	Backend          string          `mapstructure:"backend"`
	DBPath           string          `mapstructure:"db_path"`
	PostgresDSN      string          `mapstructure:"postgres_dsn"`
	CollectionName   string          `mapstructure:"collection_name"`
	EmbeddingDim     int             `mapstructure:"embedding_dim"`
	BatchSize        int             `mapstructure:"batch_size"`
	NResults         int             `mapstructure:"n_results"`
	MinTextLength    int             `mapstructure:"min_text_length"`
	EmbedConcurrency int             `mapstructure:"embed_concurrency"`
	Source           string          `mapstructure:"source"`
	SourceDir        string          `mapstructure:"source_dir"`
	HFBaseURL        string          `mapstructure:"hf_base_url"`
	HFPageSize       int             `mapstructure:"hf_page_size"`
	HFToken          string          `mapstructure:"hf_token"`
	Corpora          []domain.Corpus `mapstructure:"corpora"`
}

// LLMConfig holds generation and embedding provider configuration
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	EmbeddingProvider string        `mapstructure:"embedding_provider"`
	EmbeddingModel    string        `mapstructure:"embedding_model"`
	Temperature       float32       `mapstructure:"temperature"`
	TopP              float32       `mapstructure:"top_p"`
	TopK              int32         `mapstructure:"top_k"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
}

// ChatConfig holds orchestrator tuning
type ChatConfig struct {
	MaxHistory  int           `mapstructure:"max_history"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("SOLACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.RAG.Corpora) == 0 {
		cfg.RAG.Corpora = DefaultCorpora()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout", 2*time.Minute)
	v.SetDefault("server.allow_origins", []string{"http://localhost:3000"})

	v.SetDefault("admin.api_key", "")

	v.SetDefault("database.path", "./data/sessions.db")

	v.SetDefault("log.format", "json")
	v.SetDefault("log.level", "info")

	v.SetDefault("rag.backend", "sqlite")
	v.SetDefault("rag.db_path", "./data/therapy_vectors.db")
	v.SetDefault("rag.postgres_dsn", "")
	v.SetDefault("rag.collection_name", "therapy_conversations")
	v.SetDefault("rag.embedding_dim", 768)
	v.SetDefault("rag.batch_size", 64)
	v.SetDefault("rag.n_results", 3)
	v.SetDefault("rag.min_text_length", 10)
	v.SetDefault("rag.embed_concurrency", 4)
	v.SetDefault("rag.source", "huggingface")
	v.SetDefault("rag.source_dir", "./data/corpora")
	v.SetDefault("rag.hf_base_url", "https://datasets-server.huggingface.co")
	v.SetDefault("rag.hf_page_size", 100)
	v.SetDefault("rag.hf_token", "")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("llm.embedding_provider", "gemini")
	v.SetDefault("llm.embedding_model", "text-embedding-004")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.top_p", 0.8)
	v.SetDefault("llm.top_k", 40)
	v.SetDefault("llm.call_timeout", 60*time.Second)

	v.SetDefault("chat.max_history", 10)
	v.SetDefault("chat.max_attempts", 3)
	v.SetDefault("chat.max_backoff", 30*time.Second)
}

// DefaultCorpora returns the counselling corpora indexed when none are configured
func DefaultCorpora() []domain.Corpus {
	return []domain.Corpus{
		{Name: "Amod/mental_health_counseling_conversations", TextColumns: []string{"Context", "Response"}},
		{Name: "LuangMV97/Empathetic_counseling_Dataset", TextColumn: "input"},
		{Name: "ShenLab/MentalChat16K", TextColumns: []string{"instruction", "input", "output"}},
		{Name: "IINOVAII/therapy-conversations-combined", TextColumns: []string{"instruction", "input", "output"}},
		{Name: "anirudh2403/therapy-conversation-synthetic", TextColumn: "Conversations"},
		{Name: "MeetX/mental-health-dataset-mistral7b", TextColumn: "text"},
		{Name: "marmikpandya/mental-health", TextColumns: []string{"instruction", "output"}},
		{Name: "dair-ai/emotion", TextColumn: "text"},
	}
}

// Validate checks the configuration for values the services cannot run with
func (c *Config) Validate() error {
	switch c.RAG.Source {
	case "huggingface", "dir":
	default:
		return fmt.Errorf("%w: unknown rag.source %q", domain.ErrInvalidRequest, c.RAG.Source)
	}
	switch c.RAG.Backend {
	case "sqlite":
	case "pgvector":
		if c.RAG.PostgresDSN == "" {
			return fmt.Errorf("%w: rag.postgres_dsn is required for the pgvector backend", domain.ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown rag.backend %q", domain.ErrInvalidRequest, c.RAG.Backend)
	}
	if c.RAG.BatchSize <= 0 || c.RAG.NResults <= 0 || c.RAG.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: rag batch_size, n_results and embedding_dim must be positive", domain.ErrInvalidRequest)
	}
	if c.Server.RequestTimeout > 0 && c.LLM.CallTimeout >= c.Server.RequestTimeout {
		return fmt.Errorf("%w: llm.call_timeout must be shorter than server.request_timeout", domain.ErrInvalidRequest)
	}
	if c.Chat.MaxHistory <= 0 || c.Chat.MaxAttempts <= 0 {
		return fmt.Errorf("%w: chat max_history and max_attempts must be positive", domain.ErrInvalidRequest)
	}
	for _, corpus := range c.RAG.Corpora {
		if corpus.Name == "" || len(corpus.UsedColumns()) == 0 {
			return fmt.Errorf("%w: corpus %q needs a name and text column(s)", domain.ErrInvalidRequest, corpus.Name)
		}
	}
	return nil
}

// NeedsAPIKey reports whether the configured providers require llm.api_key.
// OpenAI-compatible servers with a custom base_url (e.g. Ollama) may run keyless.
func (c *Config) NeedsAPIKey() bool {
	if c.LLM.Provider == "gemini" || c.LLM.EmbeddingProvider == "gemini" {
		return true
	}
	return c.LLM.BaseURL == ""
}

// TurnTimeout bounds one chat turn so the handler can still answer before
// the server's write timeout cuts the connection.
func (c *Config) TurnTimeout() time.Duration {
	if c.Server.RequestTimeout <= 0 {
		return 0
	}
	return max(c.Server.RequestTimeout-turnMargin, c.Server.RequestTimeout/2)
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
