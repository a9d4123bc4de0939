package infrastructure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"converta/internal/entities"
)

// EvolutionClient drives an Evolution API server. One server hosts many
// WhatsApp instances, addressed by name.
type EvolutionClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewEvolutionClient(baseURL, apiKey string) *EvolutionClient {
	return &EvolutionClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: newHTTPClient(),
	}
}

func (e *EvolutionClient) headers() map[string]string {
	return map[string]string{"apikey": e.apiKey}
}

// SendMessage posts a text through the instance named by msg.RouteKey
func (e *EvolutionClient) SendMessage(ctx context.Context, msg entities.OutboundMessage) error {
	if msg.RouteKey == "" {
		return fmt.Errorf("evolution: instance is required")
	}
	endpoint := fmt.Sprintf("%s/message/sendText/%s", e.baseURL, url.PathEscape(msg.RouteKey))
	body := map[string]string{"number": msg.To, "text": msg.Text}
	return doJSON(ctx, e.httpClient, entities.ProviderEvolution, http.MethodPost, endpoint, e.headers(), body, nil)
}

// ConnectionState maps the instance state to the status vocabulary used by
// the connection poller.
func (e *EvolutionClient) ConnectionState(ctx context.Context, instance string) (string, error) {
	var out struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
	}
	endpoint := fmt.Sprintf("%s/instance/connectionState/%s", e.baseURL, url.PathEscape(instance))
	if err := doJSON(ctx, e.httpClient, entities.ProviderEvolution, http.MethodGet, endpoint, e.headers(), nil, &out); err != nil {
		return "", err
	}
	return evolutionStatus(out.Instance.State), nil
}

// QRCode asks the instance for a fresh pairing code
func (e *EvolutionClient) QRCode(ctx context.Context, instance string) (string, error) {
	var out struct {
		Code string `json:"code"`
	}
	endpoint := fmt.Sprintf("%s/instance/connect/%s", e.baseURL, url.PathEscape(instance))
	if err := doJSON(ctx, e.httpClient, entities.ProviderEvolution, http.MethodGet, endpoint, e.headers(), nil, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

func evolutionStatus(state string) string {
	switch strings.ToLower(state) {
	case "open":
		return StatusConnected
	case "connecting":
		return StatusWaitingQR
	case "close", "closed":
		return StatusDisconnected
	case "":
		return StatusUnknown
	}
	return strings.ToLower(state)
}
