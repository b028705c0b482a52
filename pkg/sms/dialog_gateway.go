package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Sender delivers a text message to one Sri Lankan mobile number
type Sender interface {
	Send(ctx context.Context, phone, message string) error
	Name() string
}

// DialogGateway implements SMS sending via Dialog eSMS API v2
type DialogGateway struct {
	apiURL   string
	username string
	password string
	mask     string
	client   *http.Client

	// Token management
	token       string
	tokenMutex  sync.RWMutex
	tokenExpiry time.Time

	now func() time.Time
}

// DialogConfig holds configuration for Dialog SMS Gateway
type DialogConfig struct {
	APIURL   string
	Username string
	Password string
	Mask     string
}

// NewDialogGateway creates a new Dialog SMS Gateway client
func NewDialogGateway(config DialogConfig) *DialogGateway {
	return &DialogGateway{
		apiURL:   strings.TrimRight(config.APIURL, "/"),
		username: config.Username,
		password: config.Password,
		mask:     config.Mask,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Status     string `json:"status"`
	Comment    string `json:"comment"`
	Token      string `json:"token"`
	Expiration int    `json:"expiration"` // Token expiry in seconds
	ErrCode    string `json:"errCode"`
}

type recipient struct {
	Mobile string `json:"mobile"`
}

type sendRequest struct {
	MSISDN        []recipient `json:"msisdn"`
	Message       string      `json:"message"`
	SourceAddress string      `json:"sourceAddress,omitempty"`
	TransactionID int64       `json:"transaction_id"`
	PaymentMethod int         `json:"payment_method"` // 0 = wallet
}

type sendResponse struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	ErrCode string `json:"errCode"`
}

// login retrieves a fresh access token
func (d *DialogGateway) login(ctx context.Context) error {
	var resp loginResponse
	if err := d.post(ctx, "/login", "", loginRequest{Username: d.username, Password: d.password}, &resp); err != nil {
		return fmt.Errorf("dialog login: %w", err)
	}
	if resp.Status != "success" {
		return fmt.Errorf("dialog login failed: %s (error code: %s)", resp.Comment, resp.ErrCode)
	}

	d.tokenMutex.Lock()
	d.token = resp.Token
	d.tokenExpiry = d.now().Add(time.Duration(resp.Expiration) * time.Second)
	d.tokenMutex.Unlock()
	return nil
}

// validToken returns the cached token unless it is within five minutes of expiry
func (d *DialogGateway) validToken() (string, bool) {
	d.tokenMutex.RLock()
	defer d.tokenMutex.RUnlock()

	if d.token == "" || !d.now().Before(d.tokenExpiry.Add(-5*time.Minute)) {
		return "", false
	}
	return d.token, true
}

// Send delivers message to phone, logging in first when needed
func (d *DialogGateway) Send(ctx context.Context, phone, message string) error {
	formatted, err := FormatPhoneForDialog(phone)
	if err != nil {
		return err
	}

	token, ok := d.validToken()
	if !ok {
		if err := d.login(ctx); err != nil {
			return err
		}
		token, _ = d.validToken()
	}

	req := sendRequest{
		MSISDN:        []recipient{{Mobile: formatted}},
		Message:       message,
		SourceAddress: d.mask,
		TransactionID: d.now().UnixMicro(),
	}
	var resp sendResponse
	if err := d.post(ctx, "/sms", token, req, &resp); err != nil {
		return fmt.Errorf("dialog send: %w", err)
	}
	if resp.Status != "success" {
		return fmt.Errorf("SMS sending failed: %s (error code: %s)", resp.Comment, resp.ErrCode)
	}
	return nil
}

func (d *DialogGateway) post(ctx context.Context, path, token string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

// Name returns the name of this SMS gateway
func (d *DialogGateway) Name() string {
	return "Dialog API v2 Gateway"
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// FormatPhoneForDialog converts phone number to Dialog's 9-digit format
// Input: "0771234567" (10 digits) or "94771234567" (11 digits) or "+94771234567"
// Output: "771234567" (9 digits without prefix)
func FormatPhoneForDialog(phone string) (string, error) {
	phone = nonDigits.ReplaceAllString(phone, "")

	if strings.HasPrefix(phone, "94") && len(phone) == 11 {
		phone = phone[2:]
	}
	if strings.HasPrefix(phone, "0") && len(phone) == 10 {
		phone = phone[1:]
	}

	if len(phone) != 9 {
		return "", fmt.Errorf("invalid phone number length after formatting: %d digits (expected 9)", len(phone))
	}
	if !strings.HasPrefix(phone, "7") {
		return "", fmt.Errorf("invalid Sri Lankan mobile prefix: must start with 7")
	}
	return phone, nil
}
