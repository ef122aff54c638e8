package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/jwebster45206/microsim/pkg/chat"
)

const (
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultOpenRouterTimeout = 120 * time.Second
)

// OpenRouterService implements LLMService for OpenRouter and other
// OpenAI-compatible chat completion endpoints.
type OpenRouterService struct {
	baseURL    string
	siteURL    string
	siteName   string
	httpClient *http.Client
}

// Ensure OpenRouterService implements LLMService interface
var _ LLMService = (*OpenRouterService)(nil)

// OpenRouterOption configures an OpenRouterService.
type OpenRouterOption func(*OpenRouterService)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) OpenRouterOption {
	return func(s *OpenRouterService) {
		if baseURL != "" {
			s.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithSite sets the HTTP-Referer and X-Title attribution headers.
func WithSite(siteURL, siteName string) OpenRouterOption {
	return func(s *OpenRouterService) {
		s.siteURL = siteURL
		s.siteName = siteName
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) OpenRouterOption {
	return func(s *OpenRouterService) {
		if d > 0 {
			s.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) OpenRouterOption {
	return func(s *OpenRouterService) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// OpenRouterChatRequest is the request body for chat completions.
type OpenRouterChatRequest struct {
	Model    string             `json:"model"`
	Messages []chat.ChatMessage `json:"messages"`
}

// OpenRouterChatChoice represents a single choice in the response.
type OpenRouterChatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// OpenRouterChatResponse is the response body for chat completions.
type OpenRouterChatResponse struct {
	ID      string                 `json:"id"`
	Model   string                 `json:"model"`
	Choices []OpenRouterChatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

type openRouterModelsResponse struct {
	Data []Model `json:"data"`
}

// NewOpenRouterService creates a new OpenRouter client.
func NewOpenRouterService(opts ...OpenRouterOption) *OpenRouterService {
	s := &OpenRouterService{
		baseURL:  DefaultOpenRouterBaseURL,
		siteURL:  "http://localhost:3000",
		siteName: "MicroSim Family",
		httpClient: &http.Client{
			Timeout: DefaultOpenRouterTimeout,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Complete makes one chat completion request. It does not retry.
func (s *OpenRouterService) Complete(ctx context.Context, messages []chat.ChatMessage, modelID, apiKey string) (string, error) {
	ctx, span := otel.Tracer("microsim/services").Start(ctx, "openrouter.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", modelID),
		attribute.Int("llm.messages", len(messages)),
	)

	reqBody, err := json.Marshal(OpenRouterChatRequest{
		Model:    modelID,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := s.do(ctx, http.MethodPost, "/chat/completions", apiKey, bytes.NewReader(reqBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", err
	}

	var resp OpenRouterChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))

	if len(resp.Choices) == 0 {
		return msgNoResponse, nil
	}
	return resp.Choices[0].Message.Content, nil
}

// ListModels fetches the provider's model catalog, sorted by name.
func (s *OpenRouterService) ListModels(ctx context.Context, apiKey string) ([]Model, error) {
	body, err := s.do(ctx, http.MethodGet, "/models", apiKey, nil)
	if err != nil {
		return nil, err
	}

	var resp openRouterModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse models response: %w", err)
	}
	sortModels(resp.Data)
	return resp.Data, nil
}

// sortModels orders models by name with locale-aware collation, so case
// does not split the list.
func sortModels(models []Model) {
	c := collate.New(language.Und)
	sort.SliceStable(models, func(i, j int) bool {
		return c.CompareString(models[i].Name, models[j].Name) < 0
	})
}

// do sends the request and returns the body of a 2xx response. Other
// statuses become *UpstreamError.
func (s *OpenRouterService) do(ctx context.Context, method, path, apiKey string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.siteURL != "" {
		req.Header.Set("HTTP-Referer", s.siteURL)
	}
	if s.siteName != "" {
		req.Header.Set("X-Title", s.siteName)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
