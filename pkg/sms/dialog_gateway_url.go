package sms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultDialogURLEndpoint is Dialog's URL campaign endpoint
const DefaultDialogURLEndpoint = "https://e-sms.dialog.lk/api/v1/message-via-url/create/url-campaign"

// DialogURLGateway implements SMS sending using Dialog's GET request API (URL method)
// This method uses an esmsqk key instead of username/password authentication
type DialogURLGateway struct {
	endpoint string
	apiKey   string // esmsqk key from Dialog portal
	mask     string // Source address/mask
	client   *http.Client
}

// NewDialogURLGateway creates a new Dialog URL gateway instance. An empty
// endpoint selects DefaultDialogURLEndpoint.
func NewDialogURLGateway(endpoint, apiKey, mask string) *DialogURLGateway {
	if endpoint == "" {
		endpoint = DefaultDialogURLEndpoint
	}
	return &DialogURLGateway{
		endpoint: endpoint,
		apiKey:   apiKey,
		mask:     mask,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Send delivers message to phone via a URL campaign
func (d *DialogURLGateway) Send(ctx context.Context, phone, message string) error {
	formatted, err := FormatPhoneForDialog(phone)
	if err != nil {
		return fmt.Errorf("invalid phone number: %w", err)
	}

	params := url.Values{}
	params.Add("esmsqk", d.apiKey)
	params.Add("list", formatted)
	params.Add("source_address", d.mask)
	params.Add("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create SMS request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		// the request URL carries the key
		return fmt.Errorf("failed to send SMS: %s", strings.ReplaceAll(err.Error(), d.apiKey, "***"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read SMS response: %w", err)
	}
	responseStr := strings.TrimSpace(string(body))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("SMS API returned status %d: %s", resp.StatusCode, responseStr)
	}
	// Dialog returns "1" for success, or an error id
	if responseStr != "1" {
		return fmt.Errorf("SMS sending failed with error code: %s", responseStr)
	}
	return nil
}

// Name returns the name of this SMS gateway
func (d *DialogURLGateway) Name() string {
	return "Dialog URL Gateway"
}
