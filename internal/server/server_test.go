package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"taskmint/internal/config"
	"taskmint/internal/db"
	"taskmint/internal/lifecycle"
	"taskmint/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("p1")
	e := lifecycle.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	data, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decodeInto(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	s := newTestServer(t)
	res, err := s.Client().Get(s.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	s := newTestServer(t)
	res, err := s.Client().Get(s.URL + "/v0/projects")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	c := s.Client()

	res, data := doJSON(t, c, http.MethodPost, s.URL+"/v0/projects", map[string]any{
		"id": "p1", "name": "Demo",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, c, http.MethodPost, s.URL+"/v0/projects/p1/approval", map[string]any{
		"approved": true,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve project: %d %s", res.StatusCode, data)
	}
	var project ProjectResponse
	decodeInto(t, data, &project)
	if project.TokenPool != 250 {
		t.Fatalf("token pool = %d, want 250", project.TokenPool)
	}

	res, data = doJSON(t, c, http.MethodPost, s.URL+"/v0/projects/p1/tasks", map[string]any{
		"title": "Build exporter", "skill_id": "golang", "reward_tokens": 100, "activity": "active",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, data)
	}
	var task TaskResponse
	decodeInto(t, data, &task)
	if task.Status != "active-unassigned" {
		t.Fatalf("status = %q", task.Status)
	}

	for _, member := range []string{"alice", "bob"} {
		res, data = doJSON(t, c, http.MethodPost, s.URL+"/v0/tasks/"+task.ID+"/claim", map[string]any{
			"member_id": member,
		})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("claim by %s: %d %s", member, res.StatusCode, data)
		}
	}

	res, data = doJSON(t, c, http.MethodPost, s.URL+"/v0/tasks/"+task.ID+"/submit", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, data)
	}
	var submitted TaskResponse
	decodeInto(t, data, &submitted)
	if submitted.Status != "submitted" {
		t.Fatalf("status = %q, want submitted", submitted.Status)
	}

	res, data = doJSON(t, c, http.MethodPost, s.URL+"/v0/tasks/"+task.ID+"/approve", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, data)
	}
	var approved ApproveResponse
	decodeInto(t, data, &approved)
	if approved.Payout.PerMemberShare != 50 {
		t.Fatalf("share = %d, want 50", approved.Payout.PerMemberShare)
	}
	if approved.Task.Status != "completed" {
		t.Fatalf("status = %q, want completed", approved.Task.Status)
	}

	res, data = doJSON(t, c, http.MethodGet, s.URL+"/v0/members/alice", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get member: %d %s", res.StatusCode, data)
	}
	var member MemberResponse
	decodeInto(t, data, &member)
	if member.Balance != 50 {
		t.Fatalf("balance = %d, want 50", member.Balance)
	}
	if len(member.Skills) != 1 || member.Skills[0].Level != 2 {
		t.Fatalf("skills = %+v", member.Skills)
	}
}

func TestInsufficientTokensMapsTo422(t *testing.T) {
	s := newTestServer(t)
	c := s.Client()

	doJSON(t, c, http.MethodPost, s.URL+"/v0/projects", map[string]any{"id": "p1", "name": "Demo"})
	doJSON(t, c, http.MethodPost, s.URL+"/v0/projects/p1/approval", map[string]any{"approved": true})

	res, data := doJSON(t, c, http.MethodPost, s.URL+"/v0/projects/p1/tasks", map[string]any{
		"title": "Too big", "reward_tokens": 999, "activity": "active",
	})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	decodeInto(t, data, &envelope)
	if envelope.Error.Code != "insufficient_tokens" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
	if fmt.Sprint(envelope.Error.Details["pool"]) != "250" {
		t.Fatalf("details = %v", envelope.Error.Details)
	}
}

func TestIllegalTransitionMapsTo409(t *testing.T) {
	s := newTestServer(t)
	c := s.Client()

	doJSON(t, c, http.MethodPost, s.URL+"/v0/projects", map[string]any{"id": "p1", "name": "Demo"})
	doJSON(t, c, http.MethodPost, s.URL+"/v0/projects/p1/approval", map[string]any{"approved": true})
	_, data := doJSON(t, c, http.MethodPost, s.URL+"/v0/projects/p1/tasks", map[string]any{
		"title": "Not submitted", "reward_tokens": 10, "activity": "active",
	})
	var task TaskResponse
	decodeInto(t, data, &task)

	res, data := doJSON(t, c, http.MethodPost, s.URL+"/v0/tasks/"+task.ID+"/approve", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeInto(t, data, &envelope)
	if envelope.Error.Code != "illegal_transition" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestValidationErrorMapsTo400(t *testing.T) {
	s := newTestServer(t)
	c := s.Client()

	doJSON(t, c, http.MethodPost, s.URL+"/v0/projects", map[string]any{"id": "p1", "name": "Demo"})
	doJSON(t, c, http.MethodPost, s.URL+"/v0/projects/p1/approval", map[string]any{"approved": true})
	_, data := doJSON(t, c, http.MethodPost, s.URL+"/v0/projects/p1/tasks", map[string]any{
		"title": "Epic", "reward_tokens": 50, "activity": "active",
	})
	var task TaskResponse
	decodeInto(t, data, &task)

	res, data := doJSON(t, c, http.MethodPost, s.URL+"/v0/tasks/"+task.ID+"/granularize", map[string]any{
		"pieces": []map[string]any{
			{"title": "Design", "reward_tokens": 20, "depends_on": []int{5}},
		},
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeInto(t, data, &envelope)
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestUnknownTaskMapsTo404(t *testing.T) {
	s := newTestServer(t)
	res, data := doJSON(t, s.Client(), http.MethodGet, s.URL+"/v0/tasks/nope", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", res.StatusCode, data)
	}
}
