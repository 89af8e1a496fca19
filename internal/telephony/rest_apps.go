package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// EnsureApplication finds or creates the voice application that routes calls
// from a client identity to voiceURL. Idempotent: matching by friendly name
// means repeated calls converge on one application.
func (p *RestProvider) EnsureApplication(ctx context.Context, friendlyName, voiceURL string) (string, error) {
	if friendlyName == "" || voiceURL == "" {
		return "", errors.New("telephony: friendly name and voice url are required")
	}

	if sid, err := p.findApplication(ctx, friendlyName); err != nil {
		return "", err
	} else if sid != "" {
		return sid, nil
	}

	form := url.Values{}
	form.Set("FriendlyName", friendlyName)
	form.Set("VoiceUrl", voiceURL)
	form.Set("VoiceMethod", http.MethodPost)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Applications.json", p.baseURL, p.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony: create application: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("telephony: create application status %d", resp.StatusCode)
	}
	var payload struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("telephony: decode application response: %w", err)
	}
	if payload.Sid == "" {
		return "", errors.New("telephony: provider returned no application sid")
	}
	return payload.Sid, nil
}

func (p *RestProvider) findApplication(ctx context.Context, friendlyName string) (string, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Applications.json?FriendlyName=%s",
		p.baseURL, p.accountSID, url.QueryEscape(friendlyName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("telephony: list applications: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("telephony: list applications status %d", resp.StatusCode)
	}
	var payload struct {
		Applications []struct {
			Sid string `json:"sid"`
		} `json:"applications"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("telephony: decode applications response: %w", err)
	}
	if len(payload.Applications) == 0 {
		return "", nil
	}
	return payload.Applications[0].Sid, nil
}
