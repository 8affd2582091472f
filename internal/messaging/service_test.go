package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-portal/internal/notify"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

type memoryStore struct {
	mu   sync.Mutex
	msgs []Message
}

func (m *memoryStore) Send(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = "m" + string(rune('a'+len(m.msgs)))
	msg.CreatedAt = time.Date(2026, 3, 2, 9, len(m.msgs), 0, 0, time.UTC)
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *memoryStore) Conversation(_ context.Context, orgID, a, b string, _ int, before *time.Time) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.msgs {
		between := (msg.SenderID == a && msg.RecipientID == b) || (msg.SenderID == b && msg.RecipientID == a)
		if msg.OrgID == orgID && between && (before == nil || msg.CreatedAt.Before(*before)) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memoryStore) Inbox(_ context.Context, orgID, userID string) ([]Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPeer := map[string]*Thread{}
	var order []string
	for _, msg := range m.msgs {
		if msg.OrgID != orgID || (msg.SenderID != userID && msg.RecipientID != userID) {
			continue
		}
		peer := msg.SenderID
		if peer == userID {
			peer = msg.RecipientID
		}
		t, ok := byPeer[peer]
		if !ok {
			t = &Thread{Counterpart: peer}
			byPeer[peer] = t
			order = append(order, peer)
		}
		t.Last = msg
		if msg.RecipientID == userID && msg.ReadAt == nil {
			t.Unread++
		}
	}
	var out []Thread
	for _, peer := range order {
		out = append(out, *byPeer[peer])
	}
	return out, nil
}

func (m *memoryStore) MarkRead(_ context.Context, orgID, recipientID, senderID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var n int64
	for i := range m.msgs {
		msg := &m.msgs[i]
		if msg.OrgID == orgID && msg.RecipientID == recipientID && msg.SenderID == senderID && msg.ReadAt == nil {
			msg.ReadAt = &now
			n++
		}
	}
	return n, nil
}

type fakeContacts map[string]tenancy.Role

func (f fakeContacts) Lookup(_ context.Context, orgID, userID string) (*notify.Contact, error) {
	role, ok := f[userID]
	if !ok {
		return nil, notify.ErrContactNotFound
	}
	return &notify.Contact{UserID: userID, OrgID: orgID, Role: role}, nil
}

var (
	patient = tenancy.Principal{UserID: "pat-1", OrgID: "org-1", Role: tenancy.RolePatient}
	doctor  = tenancy.Principal{UserID: "doc-1", OrgID: "org-1", Role: tenancy.RoleDoctor}
)

func newTestService() (*Service, *memoryStore) {
	store := &memoryStore{}
	svc := NewService(store, logging.NewWithWriter(io.Discard, "error", "json")).
		WithDirectory(fakeContacts{
			"pat-1": tenancy.RolePatient,
			"pat-2": tenancy.RolePatient,
			"doc-1": tenancy.RoleDoctor,
		})
	return svc, store
}

func TestServiceSendValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Send(ctx, patient, "", "hi")
	assert.ErrorIs(t, err, ErrRecipientRequired)
	_, err = svc.Send(ctx, patient, "pat-1", "hi")
	assert.ErrorIs(t, err, ErrSelfMessage)
	_, err = svc.Send(ctx, patient, "doc-1", " \n ")
	assert.ErrorIs(t, err, ErrEmptyBody)
	_, err = svc.Send(ctx, patient, "doc-9", "hi")
	assert.ErrorIs(t, err, ErrUnknownRecipient)
	_, err = svc.Send(ctx, patient, "pat-2", "hi")
	assert.ErrorIs(t, err, ErrForbidden)

	msg, err := svc.Send(ctx, patient, "doc-1", "  is my refill ready?  ")
	require.NoError(t, err)
	assert.Equal(t, "is my refill ready?", msg.Body)
	assert.Equal(t, "pat-1", msg.SenderID)

	// staff may message any patient
	_, err = svc.Send(ctx, doctor, "pat-2", "please book a follow-up")
	assert.NoError(t, err)
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	svc, _ := newTestService()
	h := NewHandler(svc, logging.NewWithWriter(io.Discard, "error", "json"))
	r := chi.NewRouter()
	r.Route("/api/messages", func(r chi.Router) {
		r.Post("/", h.Send)
		r.Get("/", h.Inbox)
		r.Get("/{userID}", h.Conversation)
		r.Post("/{userID}/read", h.MarkRead)
	})
	return r
}

func do(t *testing.T, router http.Handler, p tenancy.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(tenancy.WithPrincipal(req.Context(), p))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerMessagingFlow(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, patient, http.MethodPost, "/api/messages/", sendRequest{RecipientID: "doc-1", Body: "hello doctor"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, router, patient, http.MethodPost, "/api/messages/", sendRequest{RecipientID: "doc-1", Body: "one more thing"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, doctor, http.MethodGet, "/api/messages/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var inbox struct {
		Threads []Thread `json:"threads"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inbox))
	require.Len(t, inbox.Threads, 1)
	assert.Equal(t, "pat-1", inbox.Threads[0].Counterpart)
	assert.Equal(t, 2, inbox.Threads[0].Unread)

	rec = do(t, router, doctor, http.MethodGet, "/api/messages/pat-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var convo struct {
		Messages []Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convo))
	assert.Len(t, convo.Messages, 2)

	rec = do(t, router, doctor, http.MethodPost, "/api/messages/pat-1/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":2}`, rec.Body.String())
}

func TestHandlerMessagingErrors(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, patient, http.MethodPost, "/api/messages/", sendRequest{RecipientID: "pat-1", Body: "me"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, router, patient, http.MethodPost, "/api/messages/", sendRequest{RecipientID: "ghost", Body: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, router, patient, http.MethodPost, "/api/messages/", sendRequest{RecipientID: "pat-2", Body: "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, router, patient, http.MethodGet, "/api/messages/doc-1?before=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
