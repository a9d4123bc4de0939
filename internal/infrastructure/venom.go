package infrastructure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"converta/internal/entities"
)

// VenomClient talks to the self-hosted venom bot server
type VenomClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewVenomClient(baseURL, token string) *VenomClient {
	return &VenomClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: newHTTPClient(),
	}
}

func (v *VenomClient) SendMessage(ctx context.Context, msg entities.OutboundMessage) error {
	if msg.RouteKey == "" {
		return fmt.Errorf("venom: session is required")
	}
	endpoint := fmt.Sprintf("%s/api/%s/send-message", v.baseURL, url.PathEscape(msg.RouteKey))
	var headers map[string]string
	if v.token != "" {
		headers = map[string]string{"Authorization": "Bearer " + v.token}
	}
	body := map[string]string{"phone": msg.To, "message": msg.Text}
	return doJSON(ctx, v.httpClient, entities.ProviderVenom, http.MethodPost, endpoint, headers, body, nil)
}
