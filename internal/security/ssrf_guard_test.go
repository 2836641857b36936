package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewSafeClientTimeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClientTimeout(t *testing.T) {
	guard := NewSSRFGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout)
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// TestNewSafeClientBlocksLoopback はhttptestサーバー（127.0.0.1）への接続がブロックされることをテストする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateURL_ProfilePictureURLs(t *testing.T) {
	guard := NewSSRFGuard()

	allowed := []string{
		"https://via.placeholder.com/150",
		"https://lh3.googleusercontent.com/a/photo.jpg",
		"http://example.org/avatar.png",
	}
	for _, u := range allowed {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err != nil {
				t.Errorf("ValidateURL(%q) returned error: %v", u, err)
			}
		})
	}
}

func TestValidateURL_Rejected(t *testing.T) {
	guard := NewSSRFGuard()

	rejected := []string{
		"",
		"not-a-url",
		"javascript:alert(1)",
		"data:image/png;base64,AAAA",
		"file:///etc/passwd",
		"http://10.0.0.1/a.png",
		"http://172.16.0.1/a.png",
		"http://192.168.1.100/a.png",
		"http://127.0.0.1/a.png",
		"http://localhost/a.png",
		"http://LOCALHOST/a.png",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/a.png",
		"http://0.0.0.0/a.png",
	}
	for _, u := range rejected {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err == nil {
				t.Errorf("ValidateURL(%q) should have returned error", u)
			}
		})
	}
}

func TestSSRFGuardInterface(t *testing.T) {
	var _ SSRFGuardService = NewSSRFGuard()
}
