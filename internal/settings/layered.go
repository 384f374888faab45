package settings

import (
	"errors"
	"fmt"

	"multichat-backend/internal/config"
	"multichat-backend/internal/model"
)

var (
	// ErrConfig marks settings that make a dispatch impossible. It is never
	// retried.
	ErrConfig        = errors.New("configuration error")
	ErrMissingBase   = fmt.Errorf("%w: base URL is not configured", ErrConfig)
	ErrMissingAPIKey = fmt.Errorf("%w: API key is not configured", ErrConfig)
)

var builtinPrompts = map[string]string{
	"assistant":  "You are a helpful, accurate and concise AI assistant. Give clear, useful answers.",
	"translator": "You are a professional translator. Translate the user's text faithfully and naturally; Chinese becomes English and English becomes Chinese.",
	"coder":      "You are an expert programming assistant. Help with programming problems, give clear code examples, explain how the code works and follow best practices.",
	"writer":     "You are a professional writing assistant. Polish the user's text, fix grammar and improve clarity while keeping its meaning and voice.",
}

// Global holds the application-wide values a turn falls back to.
type Global struct {
	ConcurrentRequests int
	RetryAttempts      int
	RequestTimeout     int
	BaseURL            string
	APIKey             string
	Organization       string
	Model              string
	Temperature        float32
	MaxTokens          int
	SystemPrompt       string
}

func DefaultsFromConfig(cfg *config.Config) Global {
	return Global{
		ConcurrentRequests: cfg.Orchestrator.ConcurrentRequests,
		RetryAttempts:      cfg.Orchestrator.RetryAttempts,
		RequestTimeout:     cfg.Orchestrator.RequestTimeout,
		BaseURL:            cfg.Gateway.BaseURL,
		APIKey:             cfg.Gateway.APIKey,
		Organization:       cfg.Gateway.Organization,
		Model:              cfg.Gateway.Model,
		Temperature:        cfg.Gateway.Temperature,
		MaxTokens:          cfg.Gateway.MaxTokens,
		SystemPrompt:       cfg.Gateway.SystemPrompt,
	}
}

// LoadGlobal overlays whatever the store holds on top of defaults.
func LoadGlobal(s Store, d Global) Global {
	return Global{
		ConcurrentRequests: GetInt(s, KeyConcurrentRequests, d.ConcurrentRequests),
		RetryAttempts:      GetInt(s, KeyRetryAttempts, d.RetryAttempts),
		RequestTimeout:     GetInt(s, KeyRequestTimeout, d.RequestTimeout),
		BaseURL:            GetString(s, KeyBaseURL, d.BaseURL),
		APIKey:             GetString(s, KeyAPIKey, d.APIKey),
		Organization:       GetString(s, KeyOrganization, d.Organization),
		Model:              GetString(s, KeyModel, d.Model),
		Temperature:        GetFloat(s, KeyTemperature, d.Temperature),
		MaxTokens:          GetInt(s, KeyMaxTokens, d.MaxTokens),
		SystemPrompt:       GetString(s, KeySystemPrompt, d.SystemPrompt),
	}
}

// Effective is the fully resolved configuration of one turn.
type Effective struct {
	ConcurrentCount int
	RetryAttempts   int
	RequestTimeout  int
	BaseURL         string
	APIKey          string
	Organization    string
	Model           string
	Temperature     float32
	MaxTokens       int
	SystemPrompt    string
}

// Resolve applies effective = override ?? global field by field. A
// concurrency override below 1 counts as unset.
func Resolve(g Global, o model.TurnOverrides, prompts *Prompts) Effective {
	e := Effective{
		ConcurrentCount: g.ConcurrentRequests,
		RetryAttempts:   g.RetryAttempts,
		RequestTimeout:  g.RequestTimeout,
		BaseURL:         g.BaseURL,
		APIKey:          g.APIKey,
		Organization:    g.Organization,
		Model:           g.Model,
		Temperature:     g.Temperature,
		MaxTokens:       g.MaxTokens,
		SystemPrompt:    g.SystemPrompt,
	}
	if o.ConcurrentCount != nil && *o.ConcurrentCount >= 1 {
		e.ConcurrentCount = *o.ConcurrentCount
	}
	if o.Model != nil && *o.Model != "" {
		e.Model = *o.Model
	}
	if o.Temperature != nil {
		e.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil && *o.MaxTokens > 0 {
		e.MaxTokens = *o.MaxTokens
	}
	if o.SystemPrompt != nil {
		e.SystemPrompt = *o.SystemPrompt
	}
	if o.BaseURL != nil && *o.BaseURL != "" {
		e.BaseURL = *o.BaseURL
	}
	if o.APIKey != nil && *o.APIKey != "" {
		e.APIKey = *o.APIKey
	}
	if prompts != nil {
		e.SystemPrompt = prompts.Lookup(e.SystemPrompt)
	}
	if e.ConcurrentCount < 1 {
		e.ConcurrentCount = 1
	}
	if e.RetryAttempts < 0 {
		e.RetryAttempts = 0
	}
	return e
}

func (e Effective) Validate() error {
	if e.BaseURL == "" {
		return ErrMissingBase
	}
	if e.APIKey == "" {
		return ErrMissingAPIKey
	}
	if e.Temperature < 0 || e.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrConfig)
	}
	if e.MaxTokens < 1 {
		return fmt.Errorf("%w: max tokens must be positive", ErrConfig)
	}
	return nil
}

// Prompts maps system prompt keys to prompt text.
type Prompts struct {
	byKey map[string]string
}

func NewPrompts(custom map[string]string) *Prompts {
	p := &Prompts{byKey: make(map[string]string, len(builtinPrompts)+len(custom))}
	for k, v := range builtinPrompts {
		p.byKey[k] = v
	}
	for k, v := range custom {
		p.byKey[k] = v
	}
	return p
}

// Lookup returns the preset text for key, or key itself when it is not a
// known preset so that free-form prompts pass through.
func (p *Prompts) Lookup(key string) string {
	if text, ok := p.byKey[key]; ok {
		return text
	}
	return key
}
