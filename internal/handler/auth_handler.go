// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/mockauth/internal/auth"
	"github.com/hitoshi/mockauth/internal/middleware"
	"github.com/hitoshi/mockauth/internal/model"
	"github.com/hitoshi/mockauth/internal/social"
	"github.com/hitoshi/mockauth/internal/validation"
)

const (
	oauthStateCookie = "oauth_state"
	maxBodyBytes     = 64 << 10
)

// AuthManager は認証ハンドラーが必要とする認証マネージャーのインターフェース。
type AuthManager interface {
	Snapshot() auth.State
	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password, name string) error
	ConfirmSignUp(ctx context.Context, email, code string) error
	ForgotPassword(ctx context.Context, email string) error
	ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error
	ResendConfirmationCode(ctx context.Context, email string) error
	SignOut(ctx context.Context) error
	SignInWithGoogle(ctx context.Context) error
	SignInWithApple(ctx context.Context) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
	// GoogleLoginURL はGoogleの認可URLを返す。nilの場合はリダイレクトフローを提供しない。
	GoogleLoginURL func(state string) string
}

// AuthHandler は認証操作のHTTPハンドラー。
type AuthHandler struct {
	manager AuthManager
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(manager AuthManager, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		manager: manager,
		config:  config,
	}
}

// stateError は直近の操作エラーのレスポンス表現。
type stateError struct {
	Code string `json:"code"`
	// Message は画面に表示する文言。表示しない種別では空になる。
	Message string `json:"message"`
}

// stateResponse は認証状態のAPIレスポンス。
type stateResponse struct {
	Status           string               `json:"status"`
	IsAuthenticated  bool                 `json:"is_authenticated"`
	IsLoading        bool                 `json:"is_loading"`
	IsAuthenticating bool                 `json:"is_authenticating"`
	User             *model.SessionRecord `json:"user"`
	Error            *stateError          `json:"error,omitempty"`
}

func toStateResponse(s auth.State) stateResponse {
	resp := stateResponse{
		Status:           string(s.Status),
		IsAuthenticated:  s.IsAuthenticated(),
		IsLoading:        s.IsLoading,
		IsAuthenticating: s.IsAuthenticating,
		User:             s.User,
	}
	if s.Error != nil {
		resp.Error = &stateError{
			Code:    string(s.ErrorKind()),
			Message: s.DisplayError(),
		}
	}
	return resp
}

type emailRequest struct {
	Email string `json:"email"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	ConfirmPassword *string `json:"confirm_password"`
	Name            string  `json:"name"`
}

type confirmSignUpRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type confirmForgotPasswordRequest struct {
	Email           string  `json:"email"`
	Code            string  `json:"code"`
	NewPassword     string  `json:"new_password"`
	ConfirmPassword *string `json:"confirm_password"`
}

type googleRequest struct {
	Code string `json:"code"`
}

// State は現在の認証状態を返す。
// GET /auth/state
func (h *AuthHandler) State(w http.ResponseWriter, r *http.Request) {
	writeState(w, http.StatusOK, h.manager.Snapshot())
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	// サインインでは長さを問わない。既存アカウントのパスワード規則が異なる場合がある
	if !checkFields(w, field{"email", validation.Email(req.Email)}, field{"password", required(req.Password, "Password is required")}) {
		return
	}
	h.respond(w, r, h.manager.SignIn(r.Context(), req.Email, req.Password))
}

// SignUp は確認待ちのアカウントを登録する。
// POST /auth/sign-up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	fields := []field{
		{"name", validation.Name(req.Name)},
		{"email", validation.Email(req.Email)},
		{"password", validation.Password(req.Password)},
	}
	if req.ConfirmPassword != nil {
		fields = append(fields, field{"confirm_password", validation.ConfirmPassword(req.Password, *req.ConfirmPassword)})
	}
	if !checkFields(w, fields...) {
		return
	}
	h.respond(w, r, h.manager.SignUp(r.Context(), req.Email, req.Password, req.Name))
}

// ConfirmSignUp は確認コードでアカウントを有効化する。
// コード形式の検証は認証マネージャーが行い、エラーは状態にも記録される。
// POST /auth/confirm-sign-up
func (h *AuthHandler) ConfirmSignUp(w http.ResponseWriter, r *http.Request) {
	var req confirmSignUpRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if !checkFields(w, field{"email", validation.Email(req.Email)}) {
		return
	}
	h.respond(w, r, h.manager.ConfirmSignUp(r.Context(), req.Email, req.Code))
}

// ForgotPassword はパスワード再設定コードを送信する。
// POST /auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if !checkFields(w, field{"email", validation.Email(req.Email)}) {
		return
	}
	h.respond(w, r, h.manager.ForgotPassword(r.Context(), req.Email))
}

// ConfirmForgotPassword は確認コードで新しいパスワードを設定する。
// POST /auth/confirm-forgot-password
func (h *AuthHandler) ConfirmForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req confirmForgotPasswordRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	fields := []field{
		{"email", validation.Email(req.Email)},
		{"new_password", validation.Password(req.NewPassword)},
	}
	if req.ConfirmPassword != nil {
		fields = append(fields, field{"confirm_password", validation.ConfirmPassword(req.NewPassword, *req.ConfirmPassword)})
	}
	if !checkFields(w, fields...) {
		return
	}
	h.respond(w, r, h.manager.ConfirmForgotPassword(r.Context(), req.Email, req.Code, req.NewPassword))
}

// ResendConfirmationCode は確認コードを再送信する。
// POST /auth/resend-code
func (h *AuthHandler) ResendConfirmationCode(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if !checkFields(w, field{"email", validation.Email(req.Email)}) {
		return
	}
	h.respond(w, r, h.manager.ResendConfirmationCode(r.Context(), req.Email))
}

// SignOut はサインアウトする。
// POST /auth/sign-out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.manager.SignOut(r.Context()))
}

// SignInWithGoogle はGoogleでサインインする。
// ボディの認可コードは実プロバイダー利用時にトークン交換へ使われる。
// POST /auth/google
func (h *AuthHandler) SignInWithGoogle(w http.ResponseWriter, r *http.Request) {
	var req googleRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	ctx := r.Context()
	if req.Code != "" {
		ctx = social.WithAuthorizationCode(ctx, req.Code)
	}
	h.respond(w, r, h.manager.SignInWithGoogle(ctx))
}

// GoogleLogin はGoogleの認可画面へリダイレクトする。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.config.GoogleLoginURL == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "GOOGLE_NOT_CONFIGURED",
			Message:  "Google redirect sign-in is not configured.",
			Category: "auth",
			Action:   "Use POST /auth/google instead.",
		})
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.config.GoogleLoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はGoogleからのリダイレクトを受けてサインインを完了する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("state", "invalid state parameter"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// ユーザーが同意画面で拒否した場合はcodeが付かない。キャンセルとして扱う
	ctx := r.Context()
	if code := r.URL.Query().Get("code"); code != "" {
		ctx = social.WithAuthorizationCode(ctx, code)
	}
	h.respond(w, r, h.manager.SignInWithGoogle(ctx))
}

// SignInWithApple はAppleでサインインする。
// ボディにはデバイスで取得した資格情報を渡す。空の場合はキャンセルとして扱われる。
// POST /auth/apple
func (h *AuthHandler) SignInWithApple(w http.ResponseWriter, r *http.Request) {
	var cred social.AppleCredential
	if !decodeJSON(w, r, &cred, true) {
		return
	}
	ctx := r.Context()
	if cred != (social.AppleCredential{}) {
		ctx = social.WithAppleCredential(ctx, &cred)
	}
	h.respond(w, r, h.manager.SignInWithApple(ctx))
}

// respond は操作結果に応じて状態またはエラーを書き込む。
func (h *AuthHandler) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		writeState(w, http.StatusOK, h.manager.Snapshot())
		return
	}

	if apiErr := model.ToAPIError(err); apiErr != nil {
		middleware.WriteErrorResponse(w, middleware.StatusForAuthError(model.KindOf(err)), apiErr)
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.Info("auth request aborted",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     "REQUEST_ABORTED",
			Message:  "The request was aborted before it completed.",
			Category: "system",
			Action:   "Please try again.",
		})
		return
	}

	slog.Error("unexpected auth error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

func writeState(w http.ResponseWriter, status int, s auth.State) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(toStateResponse(s))
}

// decodeJSON はリクエストボディをdstにデコードする。
// allowEmptyがtrueの場合、空のボディはゼロ値として受け付ける。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}

	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "Failed to parse the request body.",
		Category: "validation",
		Action:   "Send a valid JSON object.",
	})
	return false
}

// field は入力項目名と検証結果（空文字列なら妥当）の組。
type field struct {
	name    string
	message string
}

func required(value, message string) string {
	if value == "" {
		return message
	}
	return ""
}

// checkFields は最初に見つかった検証エラーを書き込み、falseを返す。
func checkFields(w http.ResponseWriter, fields ...field) bool {
	for _, f := range fields {
		if f.message != "" {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(f.name, f.message))
			return false
		}
	}
	return true
}
