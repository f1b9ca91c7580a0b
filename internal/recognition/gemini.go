package recognition

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/dvloznov/receipt-capture/internal/logger"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

// DefaultTimeout bounds one Recognize call across all fallback models.
const DefaultTimeout = 30 * time.Second

// generator is the part of *genai.Models the client needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiConfig struct {
	// Models are tried in order; a model the API does not know moves on to
	// the next one.
	Models     []string
	APIKey     string
	APIVersion string
	Vertex     bool
	Project    string
	Location   string
	Timeout    time.Duration
}

type GeminiClient struct {
	models  generator
	names   []string
	timeout time.Duration
}

// NewGeminiClient builds a client on the Gemini API, or on Vertex AI when
// cfg.Vertex is set. An empty APIKey lets the SDK read GOOGLE_API_KEY.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: cfg.APIVersion},
	}
	if cfg.Vertex {
		cc.APIKey = ""
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiClient(client.Models, cfg.Models, cfg.Timeout)
}

func newGeminiClient(models generator, names []string, timeout time.Duration) (*GeminiClient, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one model name is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GeminiClient{models: models, names: names, timeout: timeout}, nil
}

func (c *GeminiClient) Recognize(ctx context.Context, image []byte, mimeType string, tc tenant.Context, hints Hints) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log := logger.FromContext(ctx)

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: BuildPrompt(tc, hints)},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     image,
					},
				},
			},
		},
	}
	temperature := float32(0)
	config := &genai.GenerateContentConfig{Temperature: &temperature}

	var lastErr error
	for _, model := range c.names {
		resp, err := c.models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			if isModelNotFound(err) {
				log.Warn().Err(err).Str("model", model).Msg("Model not available, trying next")
				lastErr = err
				continue
			}
			return nil, classify(model, err)
		}

		text := resp.Text()
		res, err := Parse(text)
		if err != nil {
			log.Debug().Str("model", model).Str("raw", text).Msg("Unparseable model response")
			return nil, err
		}
		res.Model = model
		return res, nil
	}

	return nil, &FatalError{Model: c.names[len(c.names)-1], Err: fmt.Errorf("no configured model is available: %w", lastErr)}
}

var _ Recognizer = (*GeminiClient)(nil)
