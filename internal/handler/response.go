package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/gymgate/internal/model"
)

// identityResponse はユーザー概要のレスポンス。
// 受付画面での本人確認に使う項目のみを返す。
type identityResponse struct {
	SubjectID     string    `json:"subject_id"`
	DisplayName   string    `json:"display_name"`
	Email         string    `json:"email,omitempty"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

func toIdentityResponse(identity *model.LocalIdentity) identityResponse {
	return identityResponse{
		SubjectID:     identity.SubjectID,
		DisplayName:   identity.DisplayName,
		Email:         identity.Email,
		Role:          string(identity.Role),
		EmailVerified: identity.EmailVerified,
		CreatedAt:     identity.CreatedAt,
	}
}

// checkInResponse はチェックイン記録のレスポンス。
type checkInResponse struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subject_id"`
	GymID       string    `json:"gym_id"`
	ValidatedAt time.Time `json:"validated_at"`
	Outcome     string    `json:"outcome"`
}

func toCheckInResponse(rec *model.CheckInRecord) checkInResponse {
	return checkInResponse{
		ID:          rec.ID,
		SubjectID:   rec.SubjectID,
		GymID:       rec.GymID,
		ValidatedAt: rec.ValidatedAt,
		Outcome:     string(rec.Outcome),
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
