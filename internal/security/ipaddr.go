package security

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/supauth/supauth/pkg/logger"
)

const (
	// UnknownIP is substituted whenever the public address cannot be resolved.
	UnknownIP = "Unknown"

	defaultIPLookupEndpoint = "https://api.ipify.org?format=json"
	defaultIPLookupTimeout  = 5 * time.Second
)

// IPLookupOption customises the IPLookupClient.
type IPLookupOption func(*IPLookupClient)

// WithIPLookupEndpoint overrides the lookup endpoint URL.
func WithIPLookupEndpoint(endpoint string) IPLookupOption {
	return func(c *IPLookupClient) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithIPLookupHTTPClient injects a custom HTTP client, primarily for testing.
func WithIPLookupHTTPClient(client *http.Client) IPLookupOption {
	return func(c *IPLookupClient) {
		if client != nil {
			c.client = client
		}
	}
}

// IPLookupClient resolves the caller's public IP address through an external
// lookup endpoint. Resolution is best-effort: every failure mode degrades to
// UnknownIP rather than an error.
type IPLookupClient struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

// NewIPLookupClient constructs a lookup client with sane defaults.
func NewIPLookupClient(opts ...IPLookupOption) *IPLookupClient {
	client := &IPLookupClient{
		endpoint: defaultIPLookupEndpoint,
		client:   &http.Client{Timeout: defaultIPLookupTimeout},
		log:      logger.WithModule("ipaddr"),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Lookup returns the public IP reported by the endpoint, or UnknownIP.
func (c *IPLookupClient) Lookup(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return UnknownIP
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug("public ip lookup failed", zap.Error(err))
		return UnknownIP
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return UnknownIP
	}

	var payload struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.IP == "" {
		return UnknownIP
	}

	return payload.IP
}
