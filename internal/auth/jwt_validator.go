package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/gymgate/internal/model"
)

// JWTValidatorConfig はHS256共有鍵で署名されたトークンの検証設定。
type JWTValidatorConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTValidator はIdPの共有鍵（JWT secret）でトークンを検証する。
type JWTValidator struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTValidator はJWTValidatorを生成する。
func NewJWTValidator(cfg JWTValidatorConfig) *JWTValidator {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTValidator{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}
}

// Validate はトークンを検証し、IdentityClaimを返す。
func (v *JWTValidator) Validate(ctx context.Context, raw string) (*model.IdentityClaim, error) {
	if raw == "" {
		return nil, reject(ctx, "missing bearer token", nil)
	}

	claims := &providerClaims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, reject(ctx, rejectReason(err), err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, reject(ctx, "missing subject", nil)
	}

	var issuedAt, expiresAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return claims.toIdentityClaim(claims.Subject, claims.Issuer, issuedAt, expiresAt), nil
}

// rejectReason はjwtのエラーをログ用の短い理由に分類する。
func rejectReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "unrecognized issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "invalid audience"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return "invalid signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	default:
		return "invalid token"
	}
}

// compile-time interface check
var _ TokenValidator = (*JWTValidator)(nil)
