package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/ppiankov/newsdigest/internal/util"
	"google.golang.org/genai"
)

// GeminiProvider implements the Provider interface for Google Gemini models
type GeminiProvider struct {
	client *genai.Client
	config Config
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(config Config) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	httpClient := &http.Client{
		Timeout: config.transportTimeout(defaultTransportTimeout),
		Transport: &statusRecorder{
			next: &http.Transport{
				Proxy: util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy, config.NoProxy),
			},
		},
	}

	cc := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, config: config}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Model returns the model used when a request names none
func (p *GeminiProvider) Model() string {
	return p.config.model(Request{}, defaultGeminiModel)
}

// IsAvailable checks if the provider answers a trivial request
func (p *GeminiProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.Models.GenerateContent(ctx, p.config.model(Request{}, defaultGeminiModel), genai.Text("ping"), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Gemini API check failed: %v\n", err)
		return false
	}
	return true
}

// Generate runs one GenerateContent call
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	model := p.config.model(req, defaultGeminiModel)

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.config.temperature(req))),
		MaxOutputTokens: int32(p.config.maxTokens(req)),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	status := &callStatus{}
	ctx = context.WithValue(ctx, callStatusKey{}, status)

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		if code, header := status.get(); code >= http.StatusBadRequest {
			me := newStatusError(p.Name(), code, header, err.Error())
			me.Err = err
			return nil, me
		}
		return nil, newTransportError(p.Name(), err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, &ModelError{Kind: KindUnavailable, Provider: p.Name(), Err: fmt.Errorf("empty response")}
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return &Response{Text: text, Model: model, TokensUsed: tokens}, nil
}

// callStatus captures the last HTTP status seen for one Generate call.
// The SDK error types vary between releases; the raw status does not.
type callStatus struct {
	mu     sync.Mutex
	code   int
	header http.Header
}

type callStatusKey struct{}

func (s *callStatus) set(code int, header http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
	s.header = header
}

func (s *callStatus) get() (int, http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code, s.header
}

type statusRecorder struct {
	next http.RoundTripper
}

func (t *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err == nil {
		if s, ok := req.Context().Value(callStatusKey{}).(*callStatus); ok {
			s.set(resp.StatusCode, resp.Header.Clone())
		}
	}
	return resp, err
}
