package crm

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

	"github.com/mkre153/dealfinder-pro-sub000/internal/config"
	"github.com/mkre153/dealfinder-pro-sub000/internal/pkg/httpretry"
)

var (
	// ErrPermanent marks a delivery the CRM rejected for a reason retrying
	// cannot fix (4xx other than 429). The event moves straight to failed.
	ErrPermanent = errors.New("permanent CRM rejection")

	// ErrAuthFailed is the 401/403 case. It is a permanent rejection that
	// additionally degrades service health until a delivery succeeds again.
	ErrAuthFailed = fmt.Errorf("CRM credentials rejected: %w", ErrPermanent)
)

// Client delivers opportunity records to the external CRM. Transient
// failures (5xx, network errors) retry on a 1s/2s/4s ladder inside a single
// CreateDeal call; 429 waits out the server's Retry-After hint and consumes a
// ladder step. Each HTTP attempt is bounded by the configured timeout.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a CRM delivery client from configuration.
func NewClient(cfg config.CRMConfig) *Client {
	return newClient(cfg, httpretry.DefaultDelays)
}

func newClient(cfg config.CRMConfig, delays []time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, delays),
	}
}

// CreateDeal posts one opportunity to the CRM. A nil return means the CRM
// acknowledged with 2xx; err wrapping ErrPermanent means retrying is
// pointless; any other error means the retry ladder was exhausted on
// transient failures.
func (c *Client) CreateDeal(ctx context.Context, opp Opportunity) error {
	body, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("marshaling opportunity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/deals", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	// The CRM uses Basic Auth with "api" as username
	req.SetBasicAuth("api", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delivering opportunity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(detail))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (status %d): %s", ErrAuthFailed, resp.StatusCode, msg)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w (status %d): %s", ErrPermanent, resp.StatusCode, msg)
	default:
		// 5xx or 429 that survived the ladder.
		return fmt.Errorf("CRM unavailable after retries (status %d): %s", resp.StatusCode, msg)
	}
}
