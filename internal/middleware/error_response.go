package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/gymgate/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと受付での対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   model.ActionContactStaff,
	})
}

// WriteBadRequest は入力不正の統一レスポンスを書き込む。
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	})
}

// WriteForbidden は権限不足の統一レスポンスを書き込む。
func WriteForbidden(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
		Code:     "FORBIDDEN",
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   model.ActionContactStaff,
	})
}

// StatusForKind はErrorKindに対応するHTTPステータスコードを返す。
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindUnauthenticated, model.KindInvalidSignature:
		return http.StatusUnauthorized
	case model.KindIdentityInactive, model.KindMembershipInactive:
		return http.StatusForbidden
	case model.KindIdentityNotFound:
		return http.StatusNotFound
	case model.KindMalformedCredential:
		return http.StatusBadRequest
	case model.KindCredentialExpired:
		return http.StatusGone
	case model.KindCredentialReplayed:
		return http.StatusConflict
	case model.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteAccessError はエラーをAccessErrorの種別に応じたレスポンスとして書き込む。
// AccessErrorを含まないエラーは内部エラーとしてログに記録し、500を返す。
func WriteAccessError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := model.KindOf(err)
	if !ok {
		slog.ErrorContext(r.Context(), "unhandled error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteInternalServerError(w)
		return
	}
	if kind == model.KindIdentityProvisioningFailed || kind == model.KindUpstreamTimeout {
		slog.ErrorContext(r.Context(), "access request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}

	apiErr := model.NewAccessError(kind, "", nil).ToAPIError()
	WriteErrorResponse(w, StatusForKind(kind), apiErr)
}
