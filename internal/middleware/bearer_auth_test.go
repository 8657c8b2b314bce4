package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/gymgate/internal/auth"
	"github.com/hitoshi/gymgate/internal/model"
)

// --- モック定義 ---

type mockTokenValidator struct {
	validateFn func(ctx context.Context, raw string) (*model.IdentityClaim, error)
}

func (m *mockTokenValidator) Validate(ctx context.Context, raw string) (*model.IdentityClaim, error) {
	return m.validateFn(ctx, raw)
}

var _ auth.TokenValidator = (*mockTokenValidator)(nil)

type mockResolver struct {
	resolveFn func(ctx context.Context, claim *model.IdentityClaim) (*model.LocalIdentity, error)
}

func (m *mockResolver) Resolve(ctx context.Context, claim *model.IdentityClaim) (*model.LocalIdentity, error) {
	return m.resolveFn(ctx, claim)
}

type rejectionCounter struct {
	count int
}

func (c *rejectionCounter) RecordTokenRejection() {
	c.count++
}

func acceptingValidator() *mockTokenValidator {
	return &mockTokenValidator{
		validateFn: func(ctx context.Context, raw string) (*model.IdentityClaim, error) {
			if raw != "good-token" {
				return nil, model.NewAccessError(model.KindUnauthenticated, "bad token", nil)
			}
			return &model.IdentityClaim{Subject: "u1"}, nil
		},
	}
}

func resolverWithRole(role model.Role) *mockResolver {
	return &mockResolver{
		resolveFn: func(ctx context.Context, claim *model.IdentityClaim) (*model.LocalIdentity, error) {
			return &model.LocalIdentity{SubjectID: claim.Subject, Role: role, Active: true}, nil
		},
	}
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	return body.Code
}

// --- テスト ---

func TestBearerAuth_ValidToken_InjectsIdentity(t *testing.T) {
	var got *model.LocalIdentity
	handler := NewBearerAuthMiddleware(acceptingValidator(), resolverWithRole(model.RoleClient), nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = IdentityFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got == nil || got.SubjectID != "u1" {
		t.Errorf("identity = %+v, want subject u1", got)
	}
}

func TestBearerAuth_RejectsMissingOrInvalidToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"ヘッダーなし", ""},
		{"Bearer以外のスキーム", "Basic dXNlcjpwYXNz"},
		{"空のトークン", "Bearer "},
		{"検証失敗", "Bearer forged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &rejectionCounter{}
			called := false
			handler := NewBearerAuthMiddleware(acceptingValidator(), resolverWithRole(model.RoleClient), counter)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if code := decodeErrorCode(t, w); code != string(model.KindUnauthenticated) {
				t.Errorf("code = %q, want %q", code, model.KindUnauthenticated)
			}
			if called {
				t.Error("next handler must not be called")
			}
			if counter.count != 1 {
				t.Errorf("rejections = %d, want 1", counter.count)
			}
		})
	}
}

func TestBearerAuth_ResolverErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		kind model.ErrorKind
		want int
	}{
		{model.KindIdentityInactive, http.StatusForbidden},
		{model.KindIdentityProvisioningFailed, http.StatusInternalServerError},
		{model.KindUpstreamTimeout, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			resolver := &mockResolver{
				resolveFn: func(ctx context.Context, claim *model.IdentityClaim) (*model.LocalIdentity, error) {
					return nil, model.NewAccessError(tt.kind, "resolve failed", nil)
				},
			}
			handler := NewBearerAuthMiddleware(acceptingValidator(), resolver, nil)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			req.Header.Set("Authorization", "Bearer good-token")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if code := decodeErrorCode(t, w); code != string(tt.kind) {
				t.Errorf("code = %q, want %q", code, tt.kind)
			}
		})
	}
}

func TestRequireStaff(t *testing.T) {
	tests := []struct {
		role model.Role
		want int
	}{
		{model.RoleOwner, http.StatusOK},
		{model.RoleManager, http.StatusOK},
		{model.RoleReception, http.StatusOK},
		{model.RoleClient, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			handler := NewBearerAuthMiddleware(acceptingValidator(), resolverWithRole(tt.role), nil)(RequireStaff(okHandler()))

			req := httptest.NewRequest(http.MethodPost, "/api/checkins", nil)
			req.Header.Set("Authorization", "Bearer good-token")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequireStaff_NoIdentity_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	RequireStaff(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/checkins", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestIdentityFromContext_Empty(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Error("expected no identity in empty context")
	}
	if _, ok := IdentityFromContext(ContextWithIdentity(context.Background(), nil)); ok {
		t.Error("nil identity must not be reported as present")
	}
}
