package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"docproof/apps/backend/internal/completion"
	"docproof/apps/backend/internal/settings"
)

var ErrNoAPIKey = errors.New("gemini api key not configured")

type SettingsProvider interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// DynamicClient reads the API key, model and temperature from settings on
// every call so edits take effect without a restart.
type DynamicClient struct {
	settingsSvc SettingsProvider
	client      *genai.Client
	currentKey  string
	mu          sync.RWMutex
	clientOpts  []option.ClientOption
}

func NewDynamicClient(svc SettingsProvider, opts ...option.ClientOption) *DynamicClient {
	return &DynamicClient{
		settingsSvc: svc,
		clientOpts:  opts,
	}
}

func (c *DynamicClient) GenerateStream(ctx context.Context, req completion.Request) (string, error) {
	model, err := c.model(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	iter := model.GenerateContentStream(ctx, genai.Text(req.Content))
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", err
		}
		b.WriteString(responseText(resp))
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("empty streamed response")
	}
	return b.String(), nil
}

func (c *DynamicClient) Generate(ctx context.Context, req completion.Request) (string, error) {
	model, err := c.model(ctx, req)
	if err != nil {
		return "", err
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Content))
	if err != nil {
		return "", err
	}

	out := responseText(resp)
	if out == "" {
		return "", fmt.Errorf("empty response")
	}
	return out, nil
}

func (c *DynamicClient) model(ctx context.Context, req completion.Request) (*genai.GenerativeModel, error) {
	s, err := c.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	if s.GeminiAPIKey == "" {
		return nil, ErrNoAPIKey
	}

	client, err := c.getClient(ctx, s.GeminiAPIKey)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "preparing completion request", "model", s.GeminiModel, "length", len(req.Content))

	model := client.GenerativeModel(s.GeminiModel)
	model.SystemInstruction = genai.NewUserContent(genai.Text(req.SystemInstructions))
	model.SetTemperature(s.Temperature)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = ResponseSchema()
	return model, nil
}

func (c *DynamicClient) getClient(ctx context.Context, key string) (*genai.Client, error) {
	c.mu.RLock()
	if c.client != nil && c.currentKey == key {
		defer c.mu.RUnlock()
		return c.client, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double check
	if c.client != nil && c.currentKey == key {
		return c.client, nil
	}

	if c.client != nil {
		if err := c.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(c.clientOpts, option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	c.client = client
	c.currentKey = key
	return client, nil
}

// ResponseSchema constrains the model to an array of findings.
func ResponseSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"error_type":       str("Category of the issue, e.g. Spelling, Grammar, Punctuation"),
				"location_context": str("Short description of where the issue occurs"),
				"original_text":    str("The exact text containing the issue"),
				"suggestion":       str("The corrected text"),
				"page":             {Type: genai.TypeInteger, Description: "Page number taken from the nearest preceding page marker"},
			},
			Required: completion.FindingFields,
		},
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
	}
	return b.String()
}
