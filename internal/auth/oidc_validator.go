package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/hitoshi/gymgate/internal/model"
)

// OIDCValidator はOIDCプロバイダーのJWKSでIDトークンを検証する。
// 鍵はgo-oidcのリモート鍵セットがキャッシュし、初回検証時に取得される。
type OIDCValidator struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCValidator は構築済みのverifierからOIDCValidatorを生成する。
func NewOIDCValidator(verifier *oidc.IDTokenVerifier) *OIDCValidator {
	return &OIDCValidator{verifier: verifier}
}

// DiscoverOIDCValidator はissuerのディスカバリードキュメントを取得してOIDCValidatorを生成する。
func DiscoverOIDCValidator(ctx context.Context, issuer, clientID string) (*OIDCValidator, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider: %w", err)
	}
	return NewOIDCValidator(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// Validate はIDトークンを検証し、IdentityClaimを返す。
func (v *OIDCValidator) Validate(ctx context.Context, raw string) (*model.IdentityClaim, error) {
	if raw == "" {
		return nil, reject(ctx, "missing bearer token", nil)
	}

	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, reject(ctx, "oidc verification failed", err)
	}
	if idToken.Subject == "" {
		return nil, reject(ctx, "missing subject", nil)
	}

	claims := &providerClaims{}
	if err := idToken.Claims(claims); err != nil {
		return nil, reject(ctx, "malformed claims", err)
	}
	return claims.toIdentityClaim(idToken.Subject, idToken.Issuer, idToken.IssuedAt, idToken.Expiry), nil
}

// compile-time interface check
var _ TokenValidator = (*OIDCValidator)(nil)
