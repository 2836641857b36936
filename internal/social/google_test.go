package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// mockPrompter はPrompterのモック実装。
type mockPrompter struct {
	promptFn func(ctx context.Context, loginURL string) (*PromptResult, error)
}

func (m *mockPrompter) Prompt(ctx context.Context, loginURL string) (*PromptResult, error) {
	return m.promptFn(ctx, loginURL)
}

// stateEchoPrompter は認可URLのstateをそのまま返し、認可コードを渡すPrompter。
func stateEchoPrompter(t *testing.T, code string) *mockPrompter {
	t.Helper()
	return &mockPrompter{promptFn: func(_ context.Context, loginURL string) (*PromptResult, error) {
		u, err := url.Parse(loginURL)
		if err != nil {
			t.Fatalf("invalid login URL: %v", err)
		}
		return &PromptResult{Code: code, State: u.Query().Get("state")}, nil
	}}
}

func newGoogleTestServers(t *testing.T) (token, userInfo *httptest.Server) {
	t.Helper()
	token = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.PostForm.Get("code") != "test-auth-code" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		if r.PostForm.Get("client_id") != "test-client-id" {
			t.Errorf("client_id = %q", r.PostForm.Get("client_id"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(token.Close)

	userInfo = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "1234567890",
			"email":   "someone@gmail.com",
			"name":    "Google User",
			"picture": "https://lh3.googleusercontent.com/a/photo.jpg",
		})
	}))
	t.Cleanup(userInfo.Close)
	return token, userInfo
}

func TestGoogleProvider_LoginURL_ContainsRequiredParams(t *testing.T) {
	provider := NewGoogleProvider(GoogleConfig{
		ClientID:    "test-client-id",
		RedirectURL: "com.example.app:/oauth2redirect",
	}, nil, nil)

	loginURL := provider.LoginURL("test-state-value")
	for _, want := range []string{
		"https://accounts.google.com/",
		"client_id=test-client-id",
		"redirect_uri=",
		"state=test-state-value",
		"response_type=code",
		"email",
		"profile",
	} {
		if !strings.Contains(loginURL, want) {
			t.Errorf("URL should contain %q, got %q", want, loginURL)
		}
	}
}

func TestGoogleProvider_SignIn_Success(t *testing.T) {
	tokenServer, userInfoServer := newGoogleTestServers(t)

	provider := NewGoogleProvider(GoogleConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		TokenURL:     tokenServer.URL,
		UserInfoURL:  userInfoServer.URL,
	}, stateEchoPrompter(t, "test-auth-code"), nil)

	identity, err := provider.SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	want := Identity{
		ID:      "1234567890",
		Email:   "someone@gmail.com",
		Name:    "Google User",
		Picture: "https://lh3.googleusercontent.com/a/photo.jpg",
	}
	if identity == nil || *identity != want {
		t.Errorf("SignIn() = %+v, want %+v", identity, want)
	}
}

func TestGoogleProvider_SignIn_Canceled(t *testing.T) {
	provider := NewGoogleProvider(GoogleConfig{ClientID: "id"}, &mockPrompter{
		promptFn: func(context.Context, string) (*PromptResult, error) {
			return &PromptResult{Canceled: true}, nil
		},
	}, nil)

	identity, err := provider.SignIn(context.Background())
	if err != nil || identity != nil {
		t.Errorf("SignIn() = %+v, %v; want nil, nil", identity, err)
	}
}

func TestGoogleProvider_SignIn_StateMismatch(t *testing.T) {
	provider := NewGoogleProvider(GoogleConfig{ClientID: "id"}, &mockPrompter{
		promptFn: func(context.Context, string) (*PromptResult, error) {
			return &PromptResult{Code: "c", State: "forged"}, nil
		},
	}, nil)

	if _, err := provider.SignIn(context.Background()); err == nil {
		t.Fatal("expected state mismatch error")
	}
}

func TestGoogleProvider_SignIn_TokenError(t *testing.T) {
	tokenServer, userInfoServer := newGoogleTestServers(t)

	provider := NewGoogleProvider(GoogleConfig{
		ClientID:    "test-client-id",
		TokenURL:    tokenServer.URL,
		UserInfoURL: userInfoServer.URL,
	}, stateEchoPrompter(t, "already-redeemed"), nil)

	if _, err := provider.SignIn(context.Background()); err == nil {
		t.Fatal("expected error for rejected code")
	}
}

func TestGoogleProvider_SignIn_UserInfoError(t *testing.T) {
	tokenServer, _ := newGoogleTestServers(t)
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer failing.Close()

	provider := NewGoogleProvider(GoogleConfig{
		ClientID:    "test-client-id",
		TokenURL:    tokenServer.URL,
		UserInfoURL: failing.URL,
	}, stateEchoPrompter(t, "test-auth-code"), nil)

	if _, err := provider.SignIn(context.Background()); err == nil {
		t.Fatal("expected error when user info fetch fails")
	}
}

func TestMockGoogle_SignIn(t *testing.T) {
	identity, err := MockGoogle{}.SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if !strings.HasPrefix(identity.ID, "google-") {
		t.Errorf("ID = %q, want google- prefix", identity.ID)
	}
	if identity.Email != "user@example.com" || identity.Name != "Demo User" || identity.Picture != MockPictureURL {
		t.Errorf("unexpected mock identity: %+v", identity)
	}

	other, _ := MockGoogle{}.SignIn(context.Background())
	if other.ID == identity.ID {
		t.Error("mock IDs should differ between sign-ins")
	}
}

func TestContextPrompter(t *testing.T) {
	res, err := ContextPrompter{}.Prompt(context.Background(), "https://accounts.google.com/")
	if err != nil || !res.Canceled {
		t.Errorf("Prompt() without code = %+v, %v; want canceled", res, err)
	}

	ctx := WithAuthorizationCode(context.Background(), "abc")
	res, err = ContextPrompter{}.Prompt(ctx, "https://accounts.google.com/")
	if err != nil || res.Canceled || res.Code != "abc" {
		t.Errorf("Prompt() with code = %+v, %v", res, err)
	}
}
