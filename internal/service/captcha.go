package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Captcha verification endpoints.
const (
	TurnstileVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	RecaptchaVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
)

// CaptchaVerifier checks a captcha response token.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// SiteVerifier verifies tokens against a siteverify endpoint. Turnstile and
// reCAPTCHA share the same form-encoded protocol.
type SiteVerifier struct {
	endpoint string
	secret   string
	client   *http.Client
}

// NewSiteVerifier creates a verifier for provider ("turnstile" or "recaptcha").
func NewSiteVerifier(provider, secret string, timeout time.Duration) *SiteVerifier {
	endpoint := TurnstileVerifyURL
	if provider == "recaptcha" {
		endpoint = RecaptchaVerifyURL
	}
	return &SiteVerifier{endpoint: endpoint, secret: secret, client: &http.Client{Timeout: timeout}}
}

// WithEndpoint overrides the verification URL.
func (v *SiteVerifier) WithEndpoint(endpoint string) *SiteVerifier {
	v.endpoint = endpoint
	return v
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts the token to the provider and requires success=true.
func (v *SiteVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if v.secret == "" {
		return fmt.Errorf("captcha secret not configured")
	}
	if token == "" {
		return fmt.Errorf("captcha token missing")
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verify returned status %d", resp.StatusCode)
	}

	var body siteVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !body.Success {
		return fmt.Errorf("rejected: %s", strings.Join(body.ErrorCodes, ","))
	}
	return nil
}
