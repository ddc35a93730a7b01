package publisher

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

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// tokenRefreshMargin 令牌在实际过期前这么久即视为过期
const tokenRefreshMargin = 5 * time.Minute

type tenantTokenSource struct {
	baseURL   string
	client    *http.Client
	appID     string
	appSecret string
}

// NewTenantTokenSource returns a cached token source backed by the app's
// tenant_access_token. Tokens are refreshed shortly before they expire.
func NewTenantTokenSource(baseURL string, client *http.Client, appID, appSecret string) (oauth2.TokenSource, error) {
	if appID == "" || appSecret == "" {
		return nil, errors.New("feishu app id and secret are required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	src := &tenantTokenSource{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		appID:     appID,
		appSecret: appSecret,
	}
	return oauth2.ReuseTokenSource(nil, src), nil
}

func (s *tenantTokenSource) Token() (*oauth2.Token, error) {
	payload, err := json.Marshal(map[string]string{
		"app_id":     s.appID,
		"app_secret": s.appSecret,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/auth/v3/tenant_access_token/internal", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request tenant token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	if code := res.Get("code").Int(); code != 0 {
		return nil, fmt.Errorf("tenant token error %d: %s", code, res.Get("msg").String())
	}
	access := res.Get("tenant_access_token").String()
	if access == "" {
		return nil, errors.New("tenant token response has no tenant_access_token")
	}
	expire := time.Duration(res.Get("expire").Int()) * time.Second
	if expire > tokenRefreshMargin {
		expire -= tokenRefreshMargin
	}
	return &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(expire),
	}, nil
}
