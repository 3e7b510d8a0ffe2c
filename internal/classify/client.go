package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash"
	defaultTimeout = 120 * time.Second
)

// Config holds the connection settings for the classification service.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	SystemInstruction string
}

// Client calls the Gemini generateContent API with a strict JSON response
// schema.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiSchema struct {
	Type       string                  `json:"type"`
	Required   []string                `json:"required,omitempty"`
	Properties map[string]geminiSchema `json:"properties,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string       `json:"responseMimeType"`
	ResponseSchema   geminiSchema `json:"responseSchema"`
}

type generateRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// resultSchema mirrors Result: three required string properties.
var resultSchema = geminiSchema{
	Type:     "OBJECT",
	Required: []string{"content", "label", "filename"},
	Properties: map[string]geminiSchema{
		"content":  {Type: "STRING"},
		"label":    {Type: "STRING"},
		"filename": {Type: "STRING"},
	},
}

// Classify sends content and the original filename in a single user turn
// and decodes the structured reply. Every failure is an *Error.
func (c *Client) Classify(ctx context.Context, content, filename string) (Result, error) {
	reqBody := generateRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: BuildUserTurn(content, filename)}},
		}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   resultSchema,
		},
	}
	if c.cfg.SystemInstruction != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: c.cfg.SystemInstruction}}}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, &Error{Kind: KindTransport, Err: fmt.Errorf("marshal request: %w", err)}
	}

	endpoint := c.cfg.BaseURL + "/models/" + c.cfg.Model + ":generateContent"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &Error{Kind: KindTransport, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, &Error{Kind: KindTransport, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &Error{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
		}
	}

	var apiResp generateResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return Result{}, &Error{Kind: KindDecode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if apiResp.Error != nil {
		return Result{}, &Error{
			Kind:       KindStatus,
			StatusCode: apiResp.Error.Code,
			Err:        fmt.Errorf("%s: %s", apiResp.Error.Status, apiResp.Error.Message),
		}
	}

	text, err := candidateText(apiResp)
	if err != nil {
		return Result{}, &Error{Kind: KindDecode, Err: err}
	}
	return decodeResult(stripCodeBlock(text))
}

func candidateText(resp generateResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("no candidates (blocked: %s)", resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("no candidates in response")
	}
	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("empty candidate (finish_reason=%q)", cand.FinishReason)
	}
	return sb.String(), nil
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
