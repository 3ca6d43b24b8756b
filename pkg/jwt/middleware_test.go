package jwt_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditdesk/portal/pkg/jwt"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	svc := newService(t, time.Now)
	token, err := svc.Generate("user-7", "lee@example.com", "staff")
	require.NoError(t, err)

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := jwt.ClaimsFromContext(r.Context())
		if !ok {
			http.Error(w, "no claims", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(claims.UserID() + "|" + jwt.UserIDFromContext(r.Context())))
	})

	tests := []struct {
		name       string
		handler    http.Handler
		prepare    func(r *http.Request)
		wantStatus int
		wantBody   string
	}{
		{
			name:       "bearer header",
			handler:    jwt.Middleware(svc)(echo),
			prepare:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
			wantStatus: http.StatusOK,
			wantBody:   "user-7|user-7",
		},
		{
			name:       "missing token",
			handler:    jwt.Middleware(svc)(echo),
			prepare:    func(*http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "bad token",
			handler:    jwt.Middleware(svc)(echo),
			prepare:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:    "query fallback",
			handler: jwt.Middleware(svc, jwt.BearerTokenExtractor, jwt.QueryTokenExtractor("token"))(echo),
			prepare: func(r *http.Request) {
				q := r.URL.Query()
				q.Set("token", token)
				r.URL.RawQuery = q.Encode()
			},
			wantStatus: http.StatusOK,
			wantBody:   "user-7|user-7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/notifications/unread-count", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", jwt.UserIDFromContext(req.Context()))
}
