package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultSafirBaseURL = "https://safir.bale.ai"

	safirTokenPath = "/api/v2/auth/token"
	safirSendPath  = "/api/v2/send_otp"

	// tokenRefreshSkew renews the access token slightly before it expires.
	tokenRefreshSkew = 30 * time.Second
	maxErrorBody     = 512
)

type SafirConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// SafirSender delivers codes through Bale's Safir OTP API. It authenticates
// with the client-credentials grant and caches the access token until shortly
// before it expires.
type SafirSender struct {
	cfg    SafirConfig
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewSafirSender(cfg SafirConfig) *SafirSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSafirBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SafirSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
}

type safirTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type safirSendRequest struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

// Send delivers code to phone. A 401 on send drops the cached token and
// retries once with a fresh one.
func (s *SafirSender) Send(ctx context.Context, phone, code string) error {
	err := s.send(ctx, phone, code)
	if errors.Is(err, ErrUnauthorized) {
		s.invalidate()
		err = s.send(ctx, phone, code)
	}
	return err
}

func (s *SafirSender) send(ctx context.Context, phone, code string) error {
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(safirSendRequest{Phone: phone, OTP: code})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+safirSendPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: send otp: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *SafirSender) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiresAt) {
		return s.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.cfg.ClientID},
		"client_secret": {s.cfg.ClientSecret},
		"scope":         {"read"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+safirTokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway: fetch token: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthorized
	case resp.StatusCode/100 != 2:
		return "", statusError(resp)
	}

	var tr safirTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("gateway: decode token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrRejected)
	}

	ttl := time.Duration(tr.ExpiresIn)*time.Second - tokenRefreshSkew
	if ttl < 0 {
		ttl = 0
	}
	s.token = tr.AccessToken
	s.expiresAt = s.now().Add(ttl)
	return s.token, nil
}

func (s *SafirSender) invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
