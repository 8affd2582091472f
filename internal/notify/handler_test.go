package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-portal/internal/tenancy"
)

type fakeReader struct {
	items   []Notification
	readIDs []string
}

func (f *fakeReader) ListForUser(_ context.Context, _, userID string, unreadOnly bool, _ int) ([]Notification, error) {
	var out []Notification
	for _, n := range f.items {
		if n.UserID == userID && (!unreadOnly || n.ReadAt == nil) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeReader) UnreadCount(_ context.Context, _, userID string) (int, error) {
	n, _ := f.ListForUser(context.Background(), "", userID, true, 0)
	return len(n), nil
}

func (f *fakeReader) MarkRead(_ context.Context, _, userID, id string) error {
	for _, n := range f.items {
		if n.ID == id && n.UserID == userID {
			f.readIDs = append(f.readIDs, id)
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (f *fakeReader) MarkAllRead(context.Context, string, string) (int64, error) {
	return 2, nil
}

func TestNotificationHandler(t *testing.T) {
	reader := &fakeReader{items: []Notification{
		{ID: "n1", UserID: "pat-1", Title: "Appointment booked"},
		{ID: "n2", UserID: "pat-1", Title: "New message"},
		{ID: "n3", UserID: "pat-2", Title: "Other"},
	}}
	h := NewHandler(reader, quietLogger())
	r := chi.NewRouter()
	r.Get("/api/notifications", h.List)
	r.Post("/api/notifications/read-all", h.MarkAllRead)
	r.Post("/api/notifications/{id}/read", h.MarkRead)

	p := tenancy.Principal{UserID: "pat-1", OrgID: "org-1", Role: tenancy.RolePatient}
	call := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req = req.WithContext(tenancy.WithPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := call(http.MethodGet, "/api/notifications?unread=true")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Notifications []Notification `json:"notifications"`
		Unread        int            `json:"unread"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Notifications, 2)
	assert.Equal(t, 2, body.Unread)

	assert.Equal(t, http.StatusNoContent, call(http.MethodPost, "/api/notifications/n1/read").Code)
	assert.Equal(t, http.StatusNotFound, call(http.MethodPost, "/api/notifications/n3/read").Code)
	assert.Equal(t, []string{"n1"}, reader.readIDs)

	rec = call(http.MethodPost, "/api/notifications/read-all")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":2}`, rec.Body.String())

	unauth := httptest.NewRecorder()
	r.ServeHTTP(unauth, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	assert.Equal(t, http.StatusUnauthorized, unauth.Code)
}
