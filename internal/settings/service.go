package settings

import (
	"context"
	"strings"
)

// Settings is the single row of runtime-editable configuration.
type Settings struct {
	ID           int     `json:"-"`
	GeminiAPIKey string  `json:"gemini_api_key"`
	GeminiModel  string  `json:"gemini_model"`
	Temperature  float32 `json:"temperature"`
}

const (
	DefaultModel       = "gemini-2.5-pro"
	DefaultTemperature = 0.3
)

// Masked returns a copy safe to hand to clients.
func (s Settings) Masked() Settings {
	s.GeminiAPIKey = MaskKey(s.GeminiAPIKey)
	return s
}

// MaskKey keeps the last four characters of a secret.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the stored settings with defaults filled in for blank fields.
func (s *Service) Get(ctx context.Context) (*Settings, error) {
	set, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if set.GeminiModel == "" {
		set.GeminiModel = DefaultModel
	}
	if set.Temperature <= 0 {
		set.Temperature = DefaultTemperature
	}
	return set, nil
}

// Update stores set. A masked key coming back from a client keeps the
// stored key.
func (s *Service) Update(ctx context.Context, set *Settings) error {
	if strings.Contains(set.GeminiAPIKey, "*") {
		current, err := s.repo.Get(ctx)
		if err != nil {
			return err
		}
		set.GeminiAPIKey = current.GeminiAPIKey
	}
	return s.repo.Update(ctx, set)
}
