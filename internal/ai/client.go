package ai

import (
	"browser-agent/internal/config"
	"browser-agent/internal/ports"
	"browser-agent/pkg/apperr"
	"browser-agent/pkg/logg"
	"browser-agent/pkg/tracing"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	aiClientName = "AIClient"
	aiTracer     = "ai.client"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"

	defaultOpenAIURL    = "https://api.openai.com/v1/chat/completions"
	defaultAnthropicURL = "https://api.anthropic.com/v1/messages"
)

var _ ports.LLM = (*Client)(nil)

// Client sends one system+user exchange to the configured provider and decodes
// the JSON object in the reply.
type Client struct {
	config     *config.AIConfig
	logger     *zap.Logger
	tracer     trace.Tracer
	httpClient *http.Client
	limiter    *rate.Limiter

	genaiOnce   sync.Once
	genaiClient *genai.Client
	genaiErr    error
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewClient(params Params) *Client {
	conf := params.Config.AIConfig

	limiter := rate.NewLimiter(rate.Inf, 1)
	if conf.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(conf.RequestsPerMinute)), 1)
	}

	return &Client{
		config:     conf,
		logger:     params.Logger.With(zap.String(logg.Layer, aiClientName), zap.String(logg.Provider, conf.Provider)),
		tracer:     otel.Tracer(aiTracer),
		httpClient: &http.Client{Timeout: conf.Timeout},
		limiter:    limiter,
	}
}

func (c *Client) Complete(ctx context.Context, system, user string) (result any, err error) {
	const op = "Complete"
	logger := c.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, c.tracer, logger, op,
		attribute.String("provider", c.config.Provider),
		attribute.String("model", c.config.Model),
		attribute.Int("prompt_chars", len(system)+len(user)))
	defer func() {
		step.End(err)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.Wrap(op, apperr.CodeCancelled, err, map[string]any{
			apperr.MetaReason:   "rate_limit_wait_aborted",
			apperr.MetaStage:    apperr.StageAI,
			apperr.MetaProvider: c.config.Provider,
		})
	}

	step.AddEvent("sending request")

	var text string

	switch c.config.Provider {
	case ProviderAnthropic:
		text, err = c.completeAnthropic(ctx, system, user)
	case ProviderGemini:
		text, err = c.completeGemini(ctx, system, user)
	default:
		text, err = c.completeOpenAI(ctx, system, user)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("Received completion", zap.Int("chars", len(text)))
	step.AddEvent("parsing response")

	result, err = ExtractJSON(text)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeMalformedResponse, err, map[string]any{
			apperr.MetaReason:   "invalid_json",
			apperr.MetaStage:    apperr.StageAI,
			apperr.MetaProvider: c.config.Provider,
		})
	}

	return result, nil
}

// post sends a JSON body and returns the raw response body of a 200 reply.
func (c *Client) post(ctx context.Context, op, url string, body any, headers map[string]string) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "marshal_failed",
			apperr.MetaStage:  apperr.StageAI,
		})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "request_create_failed",
			apperr.MetaStage:  apperr.StageAI,
		})
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeAIError, err, map[string]any{
			apperr.MetaReason: "http_request_failed",
			apperr.MetaStage:  apperr.StageAI,
		})
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeAIError, err, map[string]any{
			apperr.MetaReason: "read_body_failed",
			apperr.MetaStage:  apperr.StageAI,
		})
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Wrap(op, apperr.CodeAIError, fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(data), 500)), map[string]any{
			apperr.MetaReason:   "api_error",
			apperr.MetaStage:    apperr.StageAI,
			apperr.MetaProvider: c.config.Provider,
			"status_code":       resp.StatusCode,
		})
	}

	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
