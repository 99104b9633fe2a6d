// Package gemini implements genesis.Provider on top of the Gemini API.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/robalobadob/poco/internal/genesis"
	"github.com/robalobadob/poco/internal/prompts"
)

// Default model names.
const (
	DefaultAnalysisModel = "gemini-flash-lite-latest"
	DefaultModel         = "gemini-3-flash-preview"
	DefaultImageModel    = "gemini-2.5-flash-image"
)

// ErrNoImage is returned when the image model answers without an inline image.
var ErrNoImage = errors.New("gemini: failed to generate image")

// Models selects the model used for each kind of request.
type Models struct {
	Analysis string // genesis photo analysis
	Default  string // feed verification, silhouette, stats
	Image    string // final image
}

func (m Models) withDefaults() Models {
	if m.Analysis == "" {
		m.Analysis = DefaultAnalysisModel
	}
	if m.Default == "" {
		m.Default = DefaultModel
	}
	if m.Image == "" {
		m.Image = DefaultImageModel
	}
	return m
}

// Client talks to Gemini. It is safe for concurrent use.
type Client struct {
	gc       *genai.Client
	models   Models
	prompts  *prompts.Set
	language func(locale string) string
}

// New connects to Gemini with apiKey. language maps a session locale to the
// language name written into prompts.
func New(ctx context.Context, apiKey string, models Models, p *prompts.Set, language func(string) string) (*Client, error) {
	gc, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	if language == nil {
		language = func(string) string { return "English" }
	}
	return &Client{gc: gc, models: models.withDefaults(), prompts: p, language: language}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.gc.Close() }

func (c *Client) jsonModel(name string, schema *genai.Schema) *genai.GenerativeModel {
	m := c.gc.GenerativeModel(name)
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = schema
	return m
}

func (c *Client) AnalyzeGenesis(ctx context.Context, req genesis.AnalyzeRequest) (*genesis.AnalyzeResult, error) {
	prompt, err := c.prompts.GenesisPrompt(c.language(req.Locale))
	if err != nil {
		return nil, err
	}
	resp, err := c.jsonModel(c.models.Analysis, analyzeSchema).GenerateContent(ctx, blob(req.Image), genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini: analyze: %w", err)
	}
	var out genesis.AnalyzeResult
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenderSilhouette(ctx context.Context, req genesis.SilhouetteRequest) (string, error) {
	prompt, err := c.prompts.SilhouettePrompt(req.BaseTraits, req.Mutations)
	if err != nil {
		return "", err
	}
	resp, err := c.jsonModel(c.models.Default, silhouetteSchema).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini: silhouette: %w", err)
	}
	var out struct {
		SVG string `json:"svg"`
	}
	if err := decode(resp, &out); err != nil {
		return "", err
	}
	return out.SVG, nil
}

func (c *Client) VerifyFeed(ctx context.Context, req genesis.FeedRequest) (*genesis.FeedResult, error) {
	prompt, err := c.prompts.FeedPrompt(req.Requirement, c.language(req.Locale), req.Debug)
	if err != nil {
		return nil, err
	}
	schema := feedSchema
	if req.Debug {
		schema = debugFeedSchema
	}
	resp, err := c.jsonModel(c.models.Default, schema).GenerateContent(ctx, blob(req.Image), genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini: verify feed: %w", err)
	}
	var out genesis.FeedResult
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FinalStats(ctx context.Context, req genesis.StatsRequest) (*genesis.StatsResult, error) {
	prompt, err := c.prompts.StatsPrompt(req, c.language(req.Locale))
	if err != nil {
		return nil, err
	}
	resp, err := c.jsonModel(c.models.Default, statsSchema).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini: final stats: %w", err)
	}
	return decodeStats(resp)
}

func (c *Client) FinalImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.gc.GenerativeModel(c.models.Image).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini: final image: %w", err)
	}
	return dataURI(resp)
}

// blob wraps an image as an inline part; an empty MIME type is sent as JPEG.
func blob(img genesis.Image) genai.Blob {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return genai.Blob{MIMEType: mime, Data: img.Data}
}

// getText concatenates the text parts of the first candidate.
func getText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				sb.WriteString(string(txt))
			}
		}
	}
	return sb.String()
}

// decode unmarshals the JSON text of resp into v. An empty body decodes as {}.
func decode(resp *genai.GenerateContentResponse, v any) error {
	text := strings.TrimSpace(getText(resp))
	if text == "" {
		text = "{}"
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("gemini: decode response: %w", err)
	}
	return nil
}

// decodeStats tolerates fractional stat values by rounding them.
func decodeStats(resp *genai.GenerateContentResponse) (*genesis.StatsResult, error) {
	var wire struct {
		IsFailure   bool   `json:"isFailure"`
		FailureType string `json:"failureType"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Stats       struct {
			HP  float64 `json:"hp"`
			ATK float64 `json:"atk"`
			DEF float64 `json:"def"`
			SPD float64 `json:"spd"`
		} `json:"stats"`
		ImagePrompt string `json:"imagePrompt"`
	}
	if err := decode(resp, &wire); err != nil {
		return nil, err
	}
	return &genesis.StatsResult{
		IsFailure:   wire.IsFailure,
		FailureType: wire.FailureType,
		Name:        wire.Name,
		Description: wire.Description,
		Stats: genesis.Stats{
			HP:  int(math.Round(wire.Stats.HP)),
			ATK: int(math.Round(wire.Stats.ATK)),
			DEF: int(math.Round(wire.Stats.DEF)),
			SPD: int(math.Round(wire.Stats.SPD)),
		},
		ImagePrompt: wire.ImagePrompt,
	}, nil
}

// dataURI returns the first inline image of resp as a data URI.
func dataURI(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoImage
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if b, ok := part.(genai.Blob); ok && len(b.Data) > 0 {
			return "data:" + b.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(b.Data), nil
		}
	}
	return "", ErrNoImage
}

var _ genesis.Provider = (*Client)(nil)
