package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/issuetracker/backend/internal/auth"
	"github.com/issuetracker/backend/internal/db/memory"
	"github.com/issuetracker/backend/internal/health"
	"github.com/issuetracker/backend/internal/metrics"
	"github.com/issuetracker/backend/internal/models"
	"github.com/issuetracker/backend/internal/policy"
	"github.com/issuetracker/backend/internal/storage"
	"github.com/issuetracker/backend/internal/websocket"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (p *recordingPublisher) Publish(e websocket.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []websocket.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]websocket.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) last() websocket.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return websocket.Event{}
	}
	return p.events[len(p.events)-1]
}

type testServer struct {
	t      *testing.T
	router http.Handler
	store  *memory.Store
	blobs  *storage.Memory
	events *recordingPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	hasher, err := auth.NewHasher(bcrypt.MinCost)
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	})
	require.NoError(t, err)

	m := metrics.New(nil)
	authService := auth.NewService(store, hasher, issuer, nil)
	blobs := storage.NewMemory()
	events := &recordingPublisher{}

	router := NewRouter(RouterConfig{
		Auth:    auth.NewHandlers(authService, auth.CookieConfig{Secure: true, SameSite: http.SameSiteNoneMode}, m),
		Session: auth.Middleware(authService, m),
		Resources: NewHandlers(HandlersConfig{
			Store:          store,
			Authz:          policy.New(store, m),
			Blobs:          blobs,
			Events:         events,
			MaxUploadBytes: 1 << 20,
		}),
		Health:  health.NewHandler(health.NewChecker(&health.CheckerConfig{})),
		Metrics: m,
	})

	return &testServer{t: t, router: router, store: store, blobs: blobs, events: events}
}

type response struct {
	*httptest.ResponseRecorder
	t *testing.T
}

func (r response) json() map[string]any {
	r.t.Helper()
	var body map[string]any
	require.NoError(r.t, json.Unmarshal(r.Body.Bytes(), &body), r.Body.String())
	return body
}

func (r response) message() string {
	msg, _ := r.json()["message"].(string)
	return msg
}

func (s *testServer) do(method, path, token string, body any) response {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return response{ResponseRecorder: w, t: s.t}
}

type account struct {
	id    uuid.UUID
	token string
}

func (s *testServer) register(email string) account {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "user", "email": email, "password": "secret1", "password2": "secret1",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	var token string
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.AccessTokenCookie {
			token = c.Value
		}
	}
	require.NotEmpty(s.t, token)

	user := w.json()["user"].(map[string]any)
	return account{id: uuid.MustParse(user["id"].(string)), token: token}
}

func (s *testServer) createProject(owner account) uuid.UUID {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/projects/create", owner.token, map[string]string{"title": "P", "key": "key"})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	project := w.json()["project"].(map[string]any)
	return uuid.MustParse(project["id"].(string))
}

func (s *testServer) addMember(admin account, projectID uuid.UUID, user account, role string) {
	s.t.Helper()
	w := s.do(http.MethodPut, "/api/v1/projects/change-role/"+projectID.String(), admin.token,
		map[string]string{"userId": user.id.String(), "role": role})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
}

func (s *testServer) createIssue(a account, projectID uuid.UUID) uuid.UUID {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/issues/create/"+projectID.String(), a.token,
		map[string]string{"title": "Bug", "key": "BUG-1"})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	issue := w.json()["issue"].(map[string]any)
	return uuid.MustParse(issue["id"].(string))
}

func TestAuthAndRoleScenario(t *testing.T) {
	s := newTestServer(t)

	a := s.register("a@x.com")

	w := s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "a@x.com", "password": "wrong12"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Wrong password", w.message())

	w = s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "A@X.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Login successfully", w.message())

	projectID := s.createProject(a)
	m, err := s.store.GetMembership(context.Background(), a.id, projectID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, m.Role)

	b := s.register("b@x.com")
	w = s.do(http.MethodPut, "/api/v1/projects/change-role/"+projectID.String(), b.token,
		map[string]string{"userId": b.id.String(), "role": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Only admin can change roles", w.message())
}

func TestProjectVisibility(t *testing.T) {
	s := newTestServer(t)
	a := s.register("a@x.com")
	b := s.register("b@x.com")
	projectID := s.createProject(a)
	path := "/api/v1/projects/get/" + projectID.String()

	w := s.do(http.MethodGet, path, b.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.addMember(a, projectID, b, "member")

	w = s.do(http.MethodGet, path, b.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	project := w.json()["project"].(map[string]any)
	assert.Equal(t, "KEY", project["key"])

	w = s.do(http.MethodGet, "/api/v1/projects/get-all", b.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.json()["projects"], 1)

	w = s.do(http.MethodGet, "/api/v1/projects/get-project-users/"+projectID.String(), b.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	roles := map[string]string{}
	for _, u := range w.json()["users"].([]any) {
		member := u.(map[string]any)
		roles[member["user"].(map[string]any)["id"].(string)] = member["role"].(string)
	}
	assert.Equal(t, "owner", roles[a.id.String()])
	assert.Equal(t, "member", roles[b.id.String()])

	s.addMember(a, projectID, b, "none")
	w = s.do(http.MethodGet, path, b.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	last := s.events.last()
	assert.Equal(t, websocket.MemberRemoved, last.Type)
	assert.Equal(t, projectID, last.ProjectID)
	require.NotNil(t, last.UserID)
	assert.Equal(t, b.id, *last.UserID)
}

func TestChangeRoleErrors(t *testing.T) {
	s := newTestServer(t)
	a := s.register("a@x.com")
	projectID := s.createProject(a)
	path := "/api/v1/projects/change-role/" + projectID.String()

	tests := []struct {
		name   string
		body   map[string]string
		status int
		msg    string
	}{
		{"owner", map[string]string{"userId": a.id.String(), "role": "member"}, http.StatusBadRequest, "Owner role cannot be changed"},
		{"unknown role", map[string]string{"userId": a.id.String(), "role": "owner"}, http.StatusBadRequest, "Invalid data"},
		{"bad user id", map[string]string{"userId": "nope", "role": "member"}, http.StatusBadRequest, "Invalid data"},
		{"unknown user", map[string]string{"userId": uuid.NewString(), "role": "member"}, http.StatusBadRequest, "User does not exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPut, path, a.token, tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.msg, w.message())
		})
	}

	w := s.do(http.MethodPut, "/api/v1/projects/change-role/"+uuid.NewString(), a.token,
		map[string]string{"userId": a.id.String(), "role": "member"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteProject(t *testing.T) {
	s := newTestServer(t)
	a := s.register("a@x.com")
	b := s.register("b@x.com")
	projectID := s.createProject(a)
	s.addMember(a, projectID, b, "admin")
	issueID := s.createIssue(a, projectID)
	require.NoError(t, s.blobs.Put(context.Background(), "orphan", bytes.NewReader(nil), 0, ""))
	s.uploadAttachment(a, issueID, "notes.txt", "hello")

	w := s.do(http.MethodDelete, "/api/v1/projects/delete/"+projectID.String(), b.token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Only owner can delete project", w.message())

	w = s.do(http.MethodDelete, "/api/v1/projects/delete/"+projectID.String(), a.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Project deleted successfully", w.message())

	// only the project's attachment body is removed
	assert.Equal(t, 1, s.blobs.Len())
	assert.Equal(t, websocket.ProjectDeleted, s.events.last().Type)

	w = s.do(http.MethodGet, "/api/v1/issues/get/"+issueID.String(), a.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(http.MethodGet, "/api/v1/projects/get/"+projectID.String(), a.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIssueLifecycle(t *testing.T) {
	s := newTestServer(t)
	a := s.register("a@x.com")
	outsider := s.register("c@x.com")
	projectID := s.createProject(a)
	createPath := "/api/v1/issues/create/" + projectID.String()

	w := s.do(http.MethodPost, createPath, a.token, map[string]string{"title": "Bug", "key": "B-1", "status": "blocked"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid status, use 'todo', 'inprogress' or 'done'", w.message())

	w = s.do(http.MethodPost, createPath, a.token, map[string]string{"key": "B-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid data", w.message())

	w = s.do(http.MethodPost, "/api/v1/issues/create/"+uuid.NewString(), a.token, map[string]string{"title": "Bug", "key": "B-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Project does not exist", w.message())

	w = s.do(http.MethodPost, createPath, outsider.token, map[string]string{"title": "Bug", "key": "B-1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	issueID := s.createIssue(a, projectID)
	w = s.do(http.MethodGet, "/api/v1/issues/get/"+issueID.String(), a.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	issue := w.json()["issue"].(map[string]any)
	assert.Equal(t, "todo", issue["status"])

	w = s.do(http.MethodGet, "/api/v1/issues/get/"+issueID.String(), outsider.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPut, "/api/v1/issues/update/"+issueID.String(), a.token, map[string]string{"status": "done"})
	require.Equal(t, http.StatusOK, w.Code)
	issue = w.json()["issue"].(map[string]any)
	assert.Equal(t, "done", issue["status"])
	assert.Equal(t, "Bug", issue["title"])

	w = s.do(http.MethodPut, "/api/v1/issues/update/"+issueID.String(), a.token, map[string]string{"status": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/issues/get-all/"+projectID.String(), a.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.json()["issues"], 1)

	w = s.do(http.MethodDelete, "/api/v1/issues/delete/"+issueID.String(), a.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Issue deleted successfully", w.message())

	assert.Equal(t, []websocket.EventType{
		websocket.IssueCreated, websocket.IssueUpdated, websocket.IssueDeleted,
	}, s.events.types())
}

func TestCommentPermissions(t *testing.T) {
	s := newTestServer(t)
	a := s.register("a@x.com")
	b := s.register("b@x.com")
	c := s.register("c@x.com")
	projectID := s.createProject(a)
	s.addMember(a, projectID, b, "member")
	s.addMember(a, projectID, c, "member")
	issueID := s.createIssue(a, projectID)

	w := s.do(http.MethodPost, "/api/v1/comments/create/"+issueID.String(), b.token, map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/comments/create/"+issueID.String(), b.token, map[string]string{"text": "first"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	commentID := w.json()["comment"].(map[string]any)["id"].(string)

	w = s.do(http.MethodGet, "/api/v1/comments/get-all/"+issueID.String(), c.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	comments := w.json()["comments"].([]any)
	require.Len(t, comments, 1)
	author := comments[0].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "b@x.com", author["email"])
	assert.NotContains(t, w.Body.String(), "password")

	w = s.do(http.MethodPut, "/api/v1/comments/update/"+commentID, c.token, map[string]string{"text": "hijack"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Comment does not exists or you are not the author of this comment", w.message())

	w = s.do(http.MethodPut, "/api/v1/comments/update/"+commentID, b.token, map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Comment body could not be empty", w.message())

	w = s.do(http.MethodPut, "/api/v1/comments/update/"+commentID, b.token, map[string]string{"text": "edited"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/comments/get/"+commentID, c.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "edited", w.json()["comment"].(map[string]any)["text"])

	w = s.do(http.MethodDelete, "/api/v1/comments/delete/"+commentID, c.token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, "/api/v1/comments/delete/"+commentID, a.token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/comments/get/"+commentID, a.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func (s *testServer) uploadAttachment(a account, issueID uuid.UUID, name, content string) response {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(attachmentField, name)
	require.NoError(s.t, err)
	_, _ = io.WriteString(part, content)
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/issues/attachment/"+issueID.String(), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+a.token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return response{ResponseRecorder: w, t: s.t}
}

func TestAttachments(t *testing.T) {
	s := newTestServer(t)
	a := s.register("a@x.com")
	b := s.register("b@x.com")
	projectID := s.createProject(a)
	s.addMember(a, projectID, b, "member")
	issueID := s.createIssue(a, projectID)

	w := s.uploadAttachment(b, issueID, "notes.txt", "hello")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Only admin can manage attachments", w.message())

	w = s.uploadAttachment(a, issueID, "notes.txt", "hello")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	att := w.json()["attachment"].(map[string]any)
	attID := att["id"].(string)
	assert.Equal(t, "notes.txt", att["fileName"])
	assert.NotContains(t, att, "storageKey")
	assert.Equal(t, 1, s.blobs.Len())

	w = s.do(http.MethodGet, "/api/v1/issues/attachments/"+issueID.String(), b.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.json()["attachments"], 1)

	// members may download
	w = s.do(http.MethodGet, "/api/v1/issues/attachment/"+attID, b.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "notes.txt")

	w = s.do(http.MethodDelete, "/api/v1/issues/attachment/"+issueID.String()+"/"+attID, b.token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, "/api/v1/issues/attachment/"+uuid.NewString()+"/"+attID, a.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodDelete, "/api/v1/issues/attachment/"+issueID.String()+"/"+attID, a.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, s.blobs.Len())

	w = s.do(http.MethodGet, "/api/v1/issues/attachment/"+attID, a.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAttachmentTooLarge(t *testing.T) {
	s := newTestServer(t)
	a := s.register("a@x.com")
	projectID := s.createProject(a)
	issueID := s.createIssue(a, projectID)

	w := s.uploadAttachment(a, issueID, "big.bin", string(make([]byte, 2<<20)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, s.blobs.Len())
}

func TestRoutesRequireSession(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{
		"/api/v1/projects/get-all",
		"/api/v1/issues/get/" + uuid.NewString(),
		"/api/v1/comments/get/" + uuid.NewString(),
		"/api/v1/auth/me",
	} {
		w := s.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, "Not authorized", w.message())
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	}

	w := s.do(http.MethodGet, "/api/v1/projects/get-all", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInvalidPathID(t *testing.T) {
	s := newTestServer(t)
	a := s.register("a@x.com")

	w := s.do(http.MethodGet, "/api/v1/projects/get/not-a-uuid", a.token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperationalRoutes(t *testing.T) {
	s := newTestServer(t)
	s.register("a@x.com")

	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "issuetracker_auth_outcomes_total")
}
