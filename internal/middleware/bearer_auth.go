// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/gymgate/internal/auth"
	"github.com/hitoshi/gymgate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストにLocalIdentityを格納するためのキー。
var identityContextKey = contextKey("identity")

// IdentityResolver はクレームをローカルユーザーに解決する。
type IdentityResolver interface {
	Resolve(ctx context.Context, claim *model.IdentityClaim) (*model.LocalIdentity, error)
}

// TokenRejectionRecorder はトークン拒否を記録する（メトリクス用）。
type TokenRejectionRecorder interface {
	RecordTokenRejection()
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証し、
// ローカルユーザーに解決（初回はJIT作成）してコンテキストに注入するミドルウェアを返す。
// 失敗時はAccessErrorの種別に応じたエラーレスポンスを返す。
func NewBearerAuthMiddleware(validator auth.TokenValidator, resolver IdentityResolver, rejections TokenRejectionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claim, err := authenticate(r, validator)
			if err != nil {
				if rejections != nil {
					rejections.RecordTokenRejection()
				}
				WriteAccessError(w, r, err)
				return
			}

			identity, err := resolver.Resolve(r.Context(), claim)
			if err != nil {
				WriteAccessError(w, r, err)
				return
			}

			noteIdentity(r.Context(), identity.SubjectID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

func authenticate(r *http.Request, validator auth.TokenValidator) (*model.IdentityClaim, error) {
	raw, err := auth.ExtractBearer(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	return validator.Validate(r.Context(), raw)
}

// RequireStaff はスタッフ系ロール（owner, manager, reception）以外を403で拒否するミドルウェア。
// NewBearerAuthMiddlewareの後に配置する。
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			WriteAccessError(w, r, model.NewAccessError(model.KindUnauthenticated, "no identity in context", nil))
			return
		}
		if !identity.Role.IsStaff() {
			WriteForbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFromContext はリクエストコンテキストからLocalIdentityを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.LocalIdentity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.LocalIdentity)
	return identity, ok && identity != nil
}

// ContextWithIdentity はコンテキストにLocalIdentityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.LocalIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
