package normalizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"addrclean/internal"
	"addrclean/internal/config"
)

const generativeLanguageScope = "https://www.googleapis.com/auth/generative-language"

// Client calls Gemini generateContent once per batch. It never retries.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type generationConfig struct {
	ResponseMimeType   string         `json:"responseMimeType"`
	ResponseJSONSchema map[string]any `json:"responseJsonSchema"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type apiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewClient authenticates with GEMINI_API_KEY when set, otherwise with
// Application Default Credentials.
func NewClient(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Client, error) {
	opts := []option.ClientOption{}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		opts = append(opts, option.WithAPIKey(cfg.GeminiAPIKey))
	} else {
		ts, err := google.DefaultTokenSource(ctx, generativeLanguageScope)
		if err != nil {
			return nil, eris.Wrap(err, "no GEMINI_API_KEY and no application default credentials")
		}
		opts = append(opts, option.WithTokenSource(ts))
	}

	httpClient, _, err := htransport.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "build gemini http client")
	}
	httpClient.Timeout = cfg.GeminiTimeout()
	return newClient(cfg, httpClient, logger), nil
}

func newClient(cfg config.Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.GeminiRateLimitRPS > 0 {
		limit = rate.Limit(cfg.GeminiRateLimitRPS)
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.Named("gemini"),
	}
}

func (c *Client) endpoint() string {
	model := strings.TrimPrefix(strings.TrimSpace(c.cfg.GeminiModel), "models/")
	return strings.TrimRight(c.cfg.GeminiBaseURL, "/") + "/models/" + model + ":generateContent"
}

// Normalize sends lines in one request and returns one record per returned item,
// in service order. Count checking is left to the caller.
func (c *Client) Normalize(ctx context.Context, prefix string, lines []string) ([]internal.NormalizedRecord, error) {
	prompt := BuildPrompt(prefix, lines)
	c.logger.Debug("gemini prompt", zap.Int("lines", len(lines)), zap.String("prompt", prompt))

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType:   "application/json",
			ResponseJSONSchema: ResponseSchema(),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "marshal gemini request")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, limiterError(ctx, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "build gemini request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, transportError(ctx, readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &internal.ServiceError{
			Kind:       internal.ServiceStatus,
			StatusCode: resp.StatusCode,
			Err:        errors.New(apiErrorMessage(respBody)),
		}
	}

	text, err := responseText(respBody)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("gemini response", zap.String("text", text))

	return decodeRecords(text)
}

func responseText(body []byte) (string, error) {
	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", &internal.ServiceError{Kind: internal.ServiceMalformed, Err: eris.Wrap(err, "decode gemini envelope")}
	}
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return "", &internal.ServiceError{Kind: internal.ServiceStatus, Err: fmt.Errorf("prompt blocked: %s", gr.PromptFeedback.BlockReason)}
	}
	if len(gr.Candidates) == 0 {
		return "", &internal.ServiceError{Kind: internal.ServiceStatus, Err: errors.New("no candidates in response")}
	}

	var b strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		if !p.Thought {
			b.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", &internal.ServiceError{
			Kind: internal.ServiceStatus,
			Err:  fmt.Errorf("empty candidate (finishReason=%s)", gr.Candidates[0].FinishReason),
		}
	}
	return b.String(), nil
}

func decodeRecords(text string) ([]internal.NormalizedRecord, error) {
	var payload respondentListPayload
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &payload); err != nil {
		return nil, &internal.ServiceError{Kind: internal.ServiceMalformed, Err: eris.Wrap(err, "decode respondents")}
	}
	if payload.Respondents == nil {
		return nil, &internal.ServiceError{Kind: internal.ServiceMalformed, Err: errors.New(`missing "respondents"`)}
	}

	out := make([]internal.NormalizedRecord, 0, len(*payload.Respondents))
	for i, r := range *payload.Respondents {
		rec, missing := r.toRecord()
		if missing != "" {
			return nil, &internal.ServiceError{
				Kind: internal.ServiceMalformed,
				Err:  fmt.Errorf("respondent %d missing %q", i, missing),
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// limiterError classifies a failed limiter wait. rate.Limiter gives up early
// when the next token lies past the deadline, before ctx itself expires.
func limiterError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &internal.ServiceError{Kind: internal.ServiceNetwork, Err: err}
	}
	if _, ok := ctx.Deadline(); ok {
		return &internal.ServiceError{Kind: internal.ServiceTimeout, Err: err}
	}
	return transportError(ctx, err)
}

func transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &internal.ServiceError{Kind: internal.ServiceTimeout, Err: err}
	}
	return &internal.ServiceError{Kind: internal.ServiceNetwork, Err: err}
}

func apiErrorMessage(body []byte) string {
	var env apiErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		if env.Error.Status != "" {
			return env.Error.Status + ": " + env.Error.Message
		}
		return env.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
