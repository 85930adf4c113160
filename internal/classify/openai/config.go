package openai

import (
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// Config for the OpenAI client.
type Config struct {
	APIKey          string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL         string        // default https://api.openai.com/v1
	Model           string        // e.g., "gpt-4o-mini"
	Temperature     float32       // 0..2
	Timeout         time.Duration // http client timeout
	LenientOptional bool
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *zap.SugaredLogger
}

func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if !cfg.LenientOptional {
		cfg.LenientOptional = true
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}
