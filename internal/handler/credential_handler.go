package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/gymgate/internal/credential"
	"github.com/hitoshi/gymgate/internal/middleware"
	"github.com/hitoshi/gymgate/internal/model"
)

// CredentialIssuer はクレデンシャル発行のインターフェース。
type CredentialIssuer interface {
	Issue(ctx context.Context, subjectID string) (*credential.IssuedCredential, error)
}

// CredentialHandler は会員端末向けのクレデンシャル発行HTTPハンドラー。
type CredentialHandler struct {
	issuer CredentialIssuer
}

// NewCredentialHandler はCredentialHandlerを生成する。
func NewCredentialHandler(issuer CredentialIssuer) *CredentialHandler {
	return &CredentialHandler{issuer: issuer}
}

// credentialResponse は発行したクレデンシャルのレスポンス。
type credentialResponse struct {
	Credential string    `json:"credential"`
	QRDataURL  string    `json:"qr_data_url"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Current は認証済みユーザーのクレデンシャルを新規発行する。
// 呼び出しごとに新しいnonceで発行し、サーバー側には何も保存しない。
// GET /api/credentials/current
func (h *CredentialHandler) Current(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteAccessError(w, r, model.NewAccessError(model.KindUnauthenticated, "no identity in context", nil))
		return
	}

	issued, err := h.issuer.Issue(r.Context(), identity.SubjectID)
	if err != nil {
		middleware.WriteAccessError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, credentialResponse{
		Credential: issued.Encoded,
		QRDataURL:  issued.QRDataURL,
		IssuedAt:   issued.IssuedAt,
		ExpiresAt:  issued.ExpiresAt,
	})
}
