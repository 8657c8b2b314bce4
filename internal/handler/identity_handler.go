package handler

import (
	"net/http"

	"github.com/hitoshi/gymgate/internal/middleware"
	"github.com/hitoshi/gymgate/internal/model"
)

// IdentityHandler は認証済みユーザー自身の情報を返すHTTPハンドラー。
type IdentityHandler struct{}

// NewIdentityHandler はIdentityHandlerを生成する。
func NewIdentityHandler() *IdentityHandler {
	return &IdentityHandler{}
}

// Me は認証済みユーザーの概要を返す。初回アクセス時のJIT作成は認証ミドルウェアで完了している。
// GET /api/me
func (h *IdentityHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteAccessError(w, r, model.NewAccessError(model.KindUnauthenticated, "no identity in context", nil))
		return
	}

	writeJSON(w, http.StatusOK, toIdentityResponse(identity))
}
