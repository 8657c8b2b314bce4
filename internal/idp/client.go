// Package idp は外部IdPのプロフィール取得APIのクライアントを提供する。
package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/hitoshi/gymgate/internal/model"
)

// maxProfileBodySize はプロフィールレスポンスの最大読み込みサイズ（64KB）。
const maxProfileBodySize = 64 << 10

// ProfileFetcher はsubject IDからIdP上のプロフィールを取得する。
// subjectが存在しない場合はnil, nilを返す。
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, subjectID string) (*model.Profile, error)
}

// Config はプロフィールAPIクライアントの設定。
// TokenURLが設定されている場合はOAuth2クライアントクレデンシャルで認証する。
type Config struct {
	ProfileURL   string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// Client はIdPの管理APIからプロフィールを取得するHTTPクライアント。
type Client struct {
	profileURL string
	httpClient *http.Client
}

// NewClient はClientを生成する。
func NewClient(cfg Config) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = cfg.Timeout
	}
	return &Client{
		profileURL: strings.TrimRight(cfg.ProfileURL, "/"),
		httpClient: httpClient,
	}
}

// profileResponse はプロフィールAPIのレスポンス。
type profileResponse struct {
	ID            string `json:"id"`
	Sub           string `json:"sub"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	AppMetadata   struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
	UserMetadata struct {
		FullName string `json:"full_name"`
	} `json:"user_metadata"`
}

// FetchProfile はsubjectのプロフィールを取得する。
// 404の場合はnil, nilを返し、その他の非200応答はエラーを返す。
func (c *Client) FetchProfile(ctx context.Context, subjectID string) (*model.Profile, error) {
	reqURL := c.profileURL + "/" + url.PathEscape(subjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("profile endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}

	var pr profileResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}

	id := pr.ID
	if id == "" {
		id = pr.Sub
	}
	if id != "" && id != subjectID {
		return nil, fmt.Errorf("profile subject mismatch: requested %q, got %q", subjectID, id)
	}

	name := pr.Name
	if name == "" {
		name = pr.UserMetadata.FullName
	}

	return &model.Profile{
		SubjectID:     subjectID,
		DisplayName:   name,
		Email:         pr.Email,
		EmailVerified: pr.EmailVerified,
		Role:          pr.AppMetadata.Role,
	}, nil
}

// compile-time interface check
var _ ProfileFetcher = (*Client)(nil)
