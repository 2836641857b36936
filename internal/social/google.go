package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	defaultGoogleUserInfoURL = "https://www.googleapis.com/userinfo/v2/me"
	// MockPictureURL はモックGoogleサインインが返すプロフィール画像。
	MockPictureURL = "https://via.placeholder.com/150"
)

// GoogleConfig はGoogleサインインの設定。
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// PromptResult は認可画面の結果を表す。
type PromptResult struct {
	Canceled bool
	Code     string
	// State が空でない場合は認可URLに付与したstateと一致する必要がある。
	State string
}

// Prompter はユーザーに認可画面を提示し、リダイレクトで受け取った結果を返す。
type Prompter interface {
	Prompt(ctx context.Context, loginURL string) (*PromptResult, error)
}

// GoogleProvider はOAuth 2.0認可コードフローでGoogleのユーザー情報を取得する。
type GoogleProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	prompter    Prompter
	client      *http.Client
}

// NewGoogleProvider はGoogleProviderを生成する。clientがnilの場合はhttp.DefaultClientを使う。
func NewGoogleProvider(config GoogleConfig, prompter Prompter, client *http.Client) *GoogleProvider {
	endpoint := endpoints.Google
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	userInfoURL := config.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultGoogleUserInfoURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: userInfoURL,
		prompter:    prompter,
		client:      client,
	}
}

// LoginURL はGoogleの認可URLを生成する。
func (p *GoogleProvider) LoginURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// googleUserInfo はuserinfo/v2/meのレスポンス。
type googleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// SignIn は認可画面を提示し、認可コードをトークンに交換してユーザー情報を取得する。
func (p *GoogleProvider) SignIn(ctx context.Context) (*Identity, error) {
	state := uuid.NewString()
	result, err := p.prompter.Prompt(ctx, p.LoginURL(state))
	if err != nil {
		return nil, fmt.Errorf("failed to prompt google sign-in: %w", err)
	}
	if result == nil || result.Canceled {
		return nil, nil
	}
	if result.State != "" && result.State != state {
		return nil, fmt.Errorf("oauth state mismatch")
	}
	if result.Code == "" {
		return nil, fmt.Errorf("empty authorization code")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := p.oauth.Exchange(ctx, result.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	info, err := p.fetchUserInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	return &Identity{
		ID:      info.ID,
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}

// fetchUserInfo はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleProvider) fetchUserInfo(ctx context.Context, accessToken string) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("empty id in user info response")
	}
	if info.Email == "" {
		return nil, fmt.Errorf("empty email in user info response")
	}

	return &info, nil
}

// MockGoogle はクライアントIDが未設定の場合に使う固定形のGoogleサインイン。
type MockGoogle struct{}

// SignIn はランダムなIDを持つデモユーザーを返す。
func (MockGoogle) SignIn(ctx context.Context) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slog.Info("using mock Google sign-in because no client ID is configured")
	return &Identity{
		ID:      "google-" + uuid.NewString(),
		Email:   "user@example.com",
		Name:    "Demo User",
		Picture: MockPictureURL,
	}, nil
}

type authorizationCodeKey struct{}

// WithAuthorizationCode はHTTPリクエストで受け取った認可コードをコンテキストに載せる。
func WithAuthorizationCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, authorizationCodeKey{}, code)
}

// ContextPrompter は認可画面を自分では表示せず、クライアントが取得済みの認可コードを
// コンテキストから取り出すPrompter。コードが無い場合はキャンセルとみなす。
type ContextPrompter struct{}

// Prompt はコンテキストの認可コードを返す。
func (ContextPrompter) Prompt(ctx context.Context, loginURL string) (*PromptResult, error) {
	code, _ := ctx.Value(authorizationCodeKey{}).(string)
	if code == "" {
		slog.Info("no authorization code supplied", slog.String("login_url", loginURL))
		return &PromptResult{Canceled: true}, nil
	}
	return &PromptResult{Code: code}, nil
}

var (
	_ GoogleSignIn = (*GoogleProvider)(nil)
	_ GoogleSignIn = MockGoogle{}
	_ Prompter     = ContextPrompter{}
)
