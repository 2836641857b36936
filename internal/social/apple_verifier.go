package social

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	appleIssuer          = "https://appleid.apple.com"
	defaultAppleTokenURL = "https://appleid.apple.com/auth/token"
	defaultAppleKeysURL  = "https://appleid.apple.com/auth/keys"
	clientSecretTTL      = 5 * time.Minute
)

// AppleConfig はSign in with Appleのサービス資格情報。
type AppleConfig struct {
	ClientID    string
	TeamID      string
	KeyID       string
	PrivateKey  string // .p8ファイルのPEM
	RedirectURL string

	// テスト用にオーバーライド可能なURL
	TokenURL string
	KeysURL  string
}

// Configured は全ての資格情報が設定されていればtrueを返す。
func (c AppleConfig) Configured() bool {
	return c.ClientID != "" && c.TeamID != "" && c.KeyID != "" && c.PrivateKey != ""
}

// AppleClaims は検証済みIDトークンから取り出したユーザー情報。
type AppleClaims struct {
	Subject string
	Email   string
}

type appleIDTokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AppleVerifier は認可コードをAppleのトークンエンドポイントで交換し、IDトークンを検証する。
type AppleVerifier struct {
	config AppleConfig
	key    *ecdsa.PrivateKey
	client *http.Client
	now    func() time.Time
}

// NewAppleVerifier はAppleVerifierを生成する。秘密鍵が不正な場合はエラーを返す。
func NewAppleVerifier(config AppleConfig, client *http.Client) (*AppleVerifier, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(config.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse apple private key: %w", err)
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultAppleTokenURL
	}
	if config.KeysURL == "" {
		config.KeysURL = defaultAppleKeysURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &AppleVerifier{config: config, key: key, client: client, now: time.Now}, nil
}

// ClientSecret はトークンエンドポイントに渡すES256署名のクライアントシークレットを生成する。
func (v *AppleVerifier) ClientSecret() (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    v.config.TeamID,
		Subject:   v.config.ClientID,
		Audience:  jwt.ClaimStrings{appleIssuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(clientSecretTTL)),
	})
	token.Header["kid"] = v.config.KeyID

	signed, err := token.SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign client secret: %w", err)
	}
	return signed, nil
}

// Verify は資格情報を検証し、IDトークンのsubとemailを返す。
// 認可コードがあればトークン交換で得たIDトークンを、無ければ資格情報のIDトークンを検証する。
func (v *AppleVerifier) Verify(ctx context.Context, cred AppleCredential) (*AppleClaims, error) {
	idToken := cred.IdentityToken
	if cred.AuthorizationCode != "" {
		exchanged, err := v.exchange(ctx, cred.AuthorizationCode)
		if err != nil {
			return nil, err
		}
		idToken = exchanged
	}
	if idToken == "" {
		return nil, fmt.Errorf("no identity token or authorization code in apple credential")
	}
	return v.verifyIDToken(ctx, idToken)
}

// exchange は認可コードをトークンに交換し、IDトークンを返す。
func (v *AppleVerifier) exchange(ctx context.Context, code string) (string, error) {
	secret, err := v.ClientSecret()
	if err != nil {
		return "", err
	}
	conf := &oauth2.Config{
		ClientID:     v.config.ClientID,
		ClientSecret: secret,
		RedirectURL:  v.config.RedirectURL,
		Endpoint: oauth2.Endpoint{
			TokenURL:  v.config.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	token, err := conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, v.client), code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange apple authorization code: %w", err)
	}
	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return "", fmt.Errorf("empty id_token in apple token response")
	}
	return idToken, nil
}

// verifyIDToken はAppleの公開鍵でIDトークンの署名とクレームを検証する。
func (v *AppleVerifier) verifyIDToken(ctx context.Context, idToken string) (*AppleClaims, error) {
	keys, err := v.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}

	claims := &appleIDTokenClaims{}
	_, err = jwt.ParseWithClaims(idToken, claims,
		func(token *jwt.Token) (any, error) {
			kid, _ := token.Header["kid"].(string)
			key, ok := keys[kid]
			if !ok {
				return nil, fmt.Errorf("unknown apple key id %q", kid)
			}
			return key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(appleIssuer),
		jwt.WithAudience(v.config.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid apple identity token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("empty sub in apple identity token")
	}
	return &AppleClaims{Subject: claims.Subject, Email: claims.Email}, nil
}

// jwkSet はJWKSレスポンス。
type jwkSet struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// fetchKeys はAppleの公開鍵一覧を取得し、kidをキーとするマップを返す。
func (v *AppleVerifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.KeysURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create apple keys request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apple keys request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read apple keys response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("apple keys fetch failed with status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("failed to parse apple keys response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaPublicKey(k.N, k.E)
		if err != nil {
			return nil, fmt.Errorf("invalid apple key %q: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func rsaPublicKey(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(eBytes)
	if !exp.IsInt64() || exp.Int64() > 1<<31-1 || exp.Int64() < 3 {
		return nil, fmt.Errorf("unsupported exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(exp.Int64())}, nil
}

// compile-time interface check
var _ AppleTokenVerifier = (*AppleVerifier)(nil)
