// Package auth は外部IdPが発行したベアラートークンを検証し、IdentityClaimに変換する。
package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/gymgate/internal/model"
)

// TokenValidator はベアラートークンの署名・有効期限・発行者を検証する。
// 検証に失敗した場合はUnauthenticatedを返す。
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*model.IdentityClaim, error)
}

// ExtractBearer はAuthorizationヘッダーからトークン部分を取り出す。
// スキームが一致しない、またはトークンが空の場合はUnauthenticatedを返す。
func ExtractBearer(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", model.NewAccessError(model.KindUnauthenticated, "missing bearer token", nil)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", model.NewAccessError(model.KindUnauthenticated, "missing bearer token", nil)
	}
	return token, nil
}

// providerClaims はIdPトークンのうち本サービスが参照するクレーム。
// ロールはapp_metadata.roleを優先し、無ければトップレベルのroleを使う。
type providerClaims struct {
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Role          string `json:"role,omitempty"`
	AppMetadata   struct {
		Role string `json:"role,omitempty"`
	} `json:"app_metadata,omitempty"`
	jwt.RegisteredClaims
}

func (c *providerClaims) roleHint() string {
	if c.AppMetadata.Role != "" {
		return c.AppMetadata.Role
	}
	return c.Role
}

// toIdentityClaim は検証済みのクレームを閉じた構造体に詰め替える。
func (c *providerClaims) toIdentityClaim(subject, issuer string, issuedAt, expiresAt time.Time) *model.IdentityClaim {
	return &model.IdentityClaim{
		Subject:       subject,
		Issuer:        issuer,
		IssuedAt:      issuedAt,
		ExpiresAt:     expiresAt,
		DisplayName:   c.Name,
		Email:         c.Email,
		RoleHint:      c.roleHint(),
		EmailVerified: c.EmailVerified,
	}
}

// reject は検証失敗をログに残してUnauthenticatedを返す。トークン自体は記録しない。
func reject(ctx context.Context, reason string, err error) error {
	attrs := []any{slog.String("reason", reason)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	slog.InfoContext(ctx, "bearer token rejected", attrs...)
	return model.NewAccessError(model.KindUnauthenticated, reason, err)
}
