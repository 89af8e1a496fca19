package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RestProvider talks to a Twilio-compatible voice REST API. One instance is
// bound to one user's signaling credentials; the credential cache constructs
// and caches these.
type RestProvider struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// ErrCallRejected is returned when the provider refuses call creation
// synchronously (4xx). The attempt never occupies a line in that case.
var ErrCallRejected = errors.New("telephony: call creation rejected")

func NewRestProvider(accountSID, authToken, baseURL string) *RestProvider {
	if baseURL == "" {
		baseURL = "https://api.twilio.com/2010-04-01"
	}
	return &RestProvider{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *RestProvider) Name() string { return "twilio" }

func (p *RestProvider) HealthCheck(ctx context.Context) error {
	u := fmt.Sprintf("%s/Accounts/%s.json", p.baseURL, p.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telephony: health check status %d", resp.StatusCode)
	}
	return nil
}

func (p *RestProvider) CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error) {
	if req.To == "" || req.CallerID == "" {
		return CreateCallResult{}, errors.New("telephony: to and caller_id are required")
	}
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.CallerID)
	form.Set("Url", req.CallbackURL)
	form.Set("StatusCallback", req.StatusCallbackURL)
	form.Set("StatusCallbackEvent", "initiated ringing answered completed")
	if req.DetectMachine {
		// Async so the call proceeds while detection runs; the result
		// arrives on the signaling webhook as AnsweredBy.
		form.Set("MachineDetection", "DetectMessageEnd")
		form.Set("AsyncAmd", "true")
	}
	if req.RingTimeoutSeconds > 0 {
		form.Set("Timeout", strconv.Itoa(req.RingTimeoutSeconds))
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", p.baseURL, p.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return CreateCallResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return CreateCallResult{}, fmt.Errorf("telephony: create call: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return CreateCallResult{}, fmt.Errorf("%w: status %d", ErrCallRejected, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return CreateCallResult{}, fmt.Errorf("telephony: create call status %d", resp.StatusCode)
	}

	var payload struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return CreateCallResult{}, fmt.Errorf("telephony: decode create call response: %w", err)
	}
	if payload.Sid == "" {
		return CreateCallResult{}, errors.New("telephony: provider returned no call sid")
	}
	return CreateCallResult{ProviderCallID: payload.Sid, AcceptedAt: time.Now().UTC()}, nil
}

func (p *RestProvider) EndCall(ctx context.Context, providerCallID string) error {
	if providerCallID == "" {
		return errors.New("telephony: provider call id required")
	}
	form := url.Values{}
	form.Set("Status", "completed")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", p.baseURL, p.accountSID, url.PathEscape(providerCallID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: end call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telephony: end call status %d", resp.StatusCode)
	}
	return nil
}
