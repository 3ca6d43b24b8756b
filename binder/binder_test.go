package binder_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditdesk/portal/binder"
	"github.com/auditdesk/portal/handler"
)

type readRequest struct {
	IDs []string `json:"ids"`
}

func TestJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		body        string
		want        []string
		wantErr     error
		wantStatus  int
	}{
		{name: "valid", contentType: "application/json", body: `{"ids":["a","b"]}`, want: []string{"a", "b"}},
		{name: "charset param", contentType: "application/json; charset=utf-8", body: `{"ids":[]}`, want: []string{}},
		{name: "wrong media type", contentType: "text/plain", body: `{}`, wantErr: binder.ErrUnsupportedMediaType, wantStatus: http.StatusUnsupportedMediaType},
		{name: "missing media type", body: `{}`, wantErr: binder.ErrUnsupportedMediaType, wantStatus: http.StatusUnsupportedMediaType},
		{name: "unknown field", contentType: "application/json", body: `{"nope":1}`, wantErr: binder.ErrInvalidJSON, wantStatus: http.StatusBadRequest},
		{name: "empty body", contentType: "application/json", body: ``, wantErr: binder.ErrInvalidJSON, wantStatus: http.StatusBadRequest},
		{name: "trailing data", contentType: "application/json", body: `{"ids":[]} {}`, wantErr: binder.ErrInvalidJSON, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			var req readRequest
			err := binder.JSON()(r, &req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var he handler.HTTPError
				require.True(t, errors.As(err, &he))
				assert.Equal(t, tt.wantStatus, he.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.IDs)
		})
	}
}

type listQuery struct {
	Limit  int      `query:"limit"`
	Unread bool     `query:"unread"`
	Types  []string `query:"type"`
	Skip   string   `query:"-"`
	Plain  string
}

func TestQuery(t *testing.T) {
	t.Parallel()

	t.Run("binds supported fields", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/?limit=20&unread=true&type=a,b&type=c&Skip=x&Plain=y", nil)
		var q listQuery
		require.NoError(t, binder.Query()(r, &q))
		assert.Equal(t, listQuery{Limit: 20, Unread: true, Types: []string{"a", "b", "c"}}, q)
	})

	t.Run("missing keeps defaults", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		q := listQuery{Limit: 50}
		require.NoError(t, binder.Query()(r, &q))
		assert.Equal(t, 50, q.Limit)
	})

	t.Run("invalid int", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/?limit=ten", nil)
		var q listQuery
		err := binder.Query()(r, &q)
		assert.ErrorIs(t, err, binder.ErrInvalidQuery)
		assert.ErrorIs(t, err, handler.ErrBadRequest)
	})

	t.Run("non-struct target", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		var n int
		assert.ErrorIs(t, binder.Query()(r, &n), binder.ErrInvalidQuery)
	})
}
