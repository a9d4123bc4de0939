package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"converta/internal/entities"
)

// GatewayError is a non-2xx answer from an outbound messaging API
type GatewayError struct {
	Provider string
	Status   int
	Body     string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 20 * time.Second}
}

// doJSON sends body as JSON and decodes a 2xx answer into out when out is not nil
func doJSON(ctx context.Context, client *http.Client, provider, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", provider, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &GatewayError{Provider: provider, Status: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", provider, err)
	}
	return nil
}

// MetaClient sends Instagram and Messenger replies through the Graph API
type MetaClient struct {
	graphURL    string
	accessToken string
	httpClient  *http.Client
}

func NewMetaClient(graphURL, accessToken string) *MetaClient {
	return &MetaClient{
		graphURL:    strings.TrimRight(graphURL, "/"),
		accessToken: accessToken,
		httpClient:  newHTTPClient(),
	}
}

func (m *MetaClient) SendMessage(ctx context.Context, msg entities.OutboundMessage) error {
	if m.accessToken == "" {
		return errors.New("meta: page access token not configured")
	}
	payload := map[string]any{
		"recipient":      map[string]string{"id": msg.To},
		"message":        map[string]string{"text": msg.Text},
		"messaging_type": "RESPONSE",
	}
	url := fmt.Sprintf("%s/me/messages", m.graphURL)
	headers := map[string]string{"Authorization": "Bearer " + m.accessToken}
	return doJSON(ctx, m.httpClient, entities.ProviderMeta, http.MethodPost, url, headers, payload, nil)
}
