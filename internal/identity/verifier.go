package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/synoptic/shopcore/internal/model"
)

// RESTVerifierConfig はIDプロバイダーのトークン検証エンドポイントの設定。
type RESTVerifierConfig struct {
	VerifyURL string // 例: https://identitytoolkit.googleapis.com/v1/accounts:lookup
	APIKey    string

	// テスト用に差し替え可能なHTTPクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// RESTVerifier はIDプロバイダーのREST APIによるトークン検証を提供する。
type RESTVerifier struct {
	config RESTVerifierConfig
}

// NewRESTVerifier はRESTVerifierを生成する。
func NewRESTVerifier(config RESTVerifierConfig) *RESTVerifier {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return &RESTVerifier{config: config}
}

// lookupRequest はトークン検証エンドポイントのリクエストボディ。
type lookupRequest struct {
	IDToken string `json:"idToken"`
}

// lookupResponse はトークン検証エンドポイントのレスポンス。
type lookupResponse struct {
	Users []lookupUser `json:"users"`
}

// lookupUser は検証済みユーザーの情報。
type lookupUser struct {
	LocalID       string `json:"localId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
}

// Verify はIDトークンを検証し、ユーザーのスナップショットを返す。
func (v *RESTVerifier) Verify(ctx context.Context, idToken string) (*model.IdentityUser, error) {
	payload, err := json.Marshal(lookupRequest{IDToken: idToken})
	if err != nil {
		return nil, fmt.Errorf("failed to encode lookup request: %w", err)
	}

	reqURL := v.config.VerifyURL + "?key=" + v.config.APIKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read lookup response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token lookup failed with status %d: %s", resp.StatusCode, string(body))
	}

	var lookup lookupResponse
	if err := json.Unmarshal(body, &lookup); err != nil {
		return nil, fmt.Errorf("failed to parse lookup response: %w", err)
	}

	if len(lookup.Users) == 0 {
		return nil, fmt.Errorf("no user found for ID token")
	}

	u := lookup.Users[0]
	if u.LocalID == "" {
		return nil, fmt.Errorf("empty localId in lookup response")
	}

	return &model.IdentityUser{
		ID:            u.LocalID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerified,
	}, nil
}

// compile-time interface check
var _ TokenVerifier = (*RESTVerifier)(nil)
