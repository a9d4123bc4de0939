package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"converta/internal/entities"

	"github.com/rs/zerolog"
)

const maxErrorBody = 4 * 1024

// ErrEmptyCompletion is returned when the provider answers without content
var ErrEmptyCompletion = errors.New("completion returned no content")

// CompletionError describes a failed call to the completion endpoint
type CompletionError struct {
	Status    int
	Body      string
	Retryable bool
	Err       error
}

func (e *CompletionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("completion status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("completion: %v", e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// CompletionClient talks to an OpenAI compatible /chat/completions endpoint.
// The API key comes with every request since each tenant brings its own.
type CompletionClient struct {
	BaseURL   string
	Timeout   time.Duration
	RetryBase time.Duration

	httpClient *http.Client
	jitter     func() float64
	log        zerolog.Logger
}

func NewCompletionClient(baseURL string, timeout, retryBase time.Duration, log zerolog.Logger) *CompletionClient {
	return &CompletionClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Timeout:    timeout,
		RetryBase:  retryBase,
		httpClient: &http.Client{},
		jitter:     rand.Float64,
		log:        log.With().Str("component", "completion").Logger(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete returns the assistant reply. Transport errors, 429, 5xx and empty
// content are retried once after a jittered delay.
func (c *CompletionClient) Complete(ctx context.Context, req entities.CompletionRequest) (string, error) {
	payload := chatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding completion request: %w", err)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay()
			c.log.Warn().Err(lastErr).Dur("delay", delay).Msg("retrying completion")
			select {
			case <-ctx.Done():
				observeCompletion("error", time.Since(start).Seconds())
				return "", fmt.Errorf("completion: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		reply, err := c.attempt(ctx, req.APIKey, body)
		if err == nil {
			observeCompletion("ok", time.Since(start).Seconds())
			return reply, nil
		}
		lastErr = err

		var cerr *CompletionError
		if ctx.Err() != nil || !errors.As(err, &cerr) || !cerr.Retryable {
			break
		}
	}
	observeCompletion("error", time.Since(start).Seconds())
	return "", lastErr
}

// retryDelay is RetryBase scaled by a factor in [0.5, 1.5)
func (c *CompletionClient) retryDelay() time.Duration {
	return time.Duration(float64(c.RetryBase) * (0.5 + c.jitter()))
}

func (c *CompletionClient) attempt(ctx context.Context, apiKey string, body []byte) (string, error) {
	actx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/chat/completions", c.BaseURL)
	httpReq, err := http.NewRequestWithContext(actx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &CompletionError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &CompletionError{
			Status:    resp.StatusCode,
			Body:      string(b),
			Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if actx.Err() != nil {
			return "", &CompletionError{Retryable: true, Err: err}
		}
		return "", &CompletionError{Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", &CompletionError{Retryable: true, Err: ErrEmptyCompletion}
	}
	return out.Choices[0].Message.Content, nil
}
