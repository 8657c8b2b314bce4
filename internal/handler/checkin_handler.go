package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/gymgate/internal/credential"
	"github.com/hitoshi/gymgate/internal/ledger"
	"github.com/hitoshi/gymgate/internal/middleware"
	"github.com/hitoshi/gymgate/internal/model"
)

const (
	// maxCheckInBodyBytes はチェックインリクエストボディの上限。
	maxCheckInBodyBytes = 4 << 10
	// defaultReportWindow はfrom/to未指定時の集計範囲。
	defaultReportWindow = 24 * time.Hour
)

// CheckInValidator は受付でのクレデンシャル検証のインターフェース。
type CheckInValidator interface {
	Validate(ctx context.Context, encoded, gymID string) (*credential.CheckInResult, error)
}

// CheckInLister はチェックイン台帳の参照インターフェース。
type CheckInLister interface {
	ListByGym(ctx context.Context, gymID string, from, to time.Time, cursor model.CheckInCursor, limit int) (*ledger.Page, error)
	CountByGym(ctx context.Context, gymID string, from, to time.Time) (int, error)
}

// CheckInHandler は受付でのチェックインと台帳参照のHTTPハンドラー。
type CheckInHandler struct {
	validator CheckInValidator
	lister    CheckInLister
	now       func() time.Time
}

// NewCheckInHandler はCheckInHandlerを生成する。
func NewCheckInHandler(validator CheckInValidator, lister CheckInLister) *CheckInHandler {
	return &CheckInHandler{validator: validator, lister: lister, now: time.Now}
}

// checkInRequest はチェックインのリクエストボディ。
type checkInRequest struct {
	Credential string `json:"credential"`
	GymID      string `json:"gym_id"`
}

// checkInResultResponse はチェックイン成功時のレスポンス。
type checkInResultResponse struct {
	Identity identityResponse `json:"identity"`
	CheckIn  checkInResponse  `json:"check_in"`
}

// checkInListResponse はチェックイン一覧のレスポンス。
type checkInListResponse struct {
	CheckIns   []checkInResponse `json:"check_ins"`
	Total      int               `json:"total"`
	NextCursor string            `json:"next_cursor,omitempty"`
	HasMore    bool              `json:"has_more"`
}

// Create は提示されたクレデンシャルを検証し、成功時にチェックインを記録する。
// 失敗時は原因の種別と受付での対処方法を返す。
// POST /api/checkins
func (h *CheckInHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCheckInBodyBytes)).Decode(&req); err != nil {
		middleware.WriteBadRequest(w, "リクエストボディが不正です。")
		return
	}
	req.GymID = strings.TrimSpace(req.GymID)
	if req.GymID == "" {
		middleware.WriteBadRequest(w, "gym_idは必須です。")
		return
	}

	result, err := h.validator.Validate(r.Context(), req.Credential, req.GymID)
	if err != nil {
		middleware.WriteAccessError(w, r, err)
		return
	}

	if staff, ok := middleware.IdentityFromContext(r.Context()); ok {
		slog.InfoContext(r.Context(), "check-in recorded",
			slog.String("check_in_id", result.Record.ID),
			slog.String("gym_id", result.Record.GymID),
			slog.String("staff_subject_id", staff.SubjectID),
			slog.String("station", r.Header.Get(middleware.StationHeader)),
		)
	}

	writeJSON(w, http.StatusCreated, checkInResultResponse{
		Identity: toIdentityResponse(result.Identity),
		CheckIn:  toCheckInResponse(result.Record),
	})
}

// ListByGym はジムのチェックイン一覧を新しい順に返す。
// GET /api/gyms/{gymID}/checkins?from=RFC3339&to=RFC3339&cursor=<next_cursor>&limit=n
func (h *CheckInHandler) ListByGym(w http.ResponseWriter, r *http.Request) {
	gymID := chi.URLParam(r, "gymID")
	q := r.URL.Query()

	to, err := parseTimeParam(q.Get("to"), h.now())
	if err != nil {
		middleware.WriteBadRequest(w, "toの形式が不正です。")
		return
	}
	from, err := parseTimeParam(q.Get("from"), to.Add(-defaultReportWindow))
	if err != nil {
		middleware.WriteBadRequest(w, "fromの形式が不正です。")
		return
	}
	if !from.Before(to) {
		middleware.WriteBadRequest(w, "fromはtoより前である必要があります。")
		return
	}
	cursor, err := ledger.ParseCursor(q.Get("cursor"))
	if err != nil {
		middleware.WriteBadRequest(w, "cursorの形式が不正です。")
		return
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit <= 0 {
			middleware.WriteBadRequest(w, "limitは正の整数である必要があります。")
			return
		}
	}

	page, err := h.lister.ListByGym(r.Context(), gymID, from, to, cursor, limit)
	if err != nil {
		middleware.WriteAccessError(w, r, err)
		return
	}
	total, err := h.lister.CountByGym(r.Context(), gymID, from, to)
	if err != nil {
		middleware.WriteAccessError(w, r, err)
		return
	}

	resp := checkInListResponse{
		CheckIns: make([]checkInResponse, 0, len(page.Records)),
		Total:    total,
	}
	for _, rec := range page.Records {
		resp.CheckIns = append(resp.CheckIns, toCheckInResponse(rec))
	}
	if !page.NextCursor.IsZero() {
		resp.NextCursor = ledger.EncodeCursor(page.NextCursor)
		resp.HasMore = true
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseTimeParam はRFC3339形式の時刻を解析する。空の場合はfallbackを返す。
func parseTimeParam(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
