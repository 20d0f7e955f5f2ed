package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/engine"
	"taskline/internal/migrate"
)

type nopStore struct{}

func (nopStore) Save(data []byte, originalName string) (string, error) {
	return "uploads/" + originalName, nil
}
func (nopStore) Delete(path string) error { return nil }

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), nopStore{}, nil)
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
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
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
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestSubmitFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":       "Scrape listings",
		"description": "Web and app listings for client X",
		"domains":     []string{"web", "app"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if created.Code != "RD-001" || created.Status != "pending" {
		t.Fatalf("unexpected task %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.Code+"/submit", map[string]any{
		"domains": []string{"web", "ghost"},
		"payload": map[string]any{
			"countries":  "India,Nepal",
			"complexity": "hard",
		},
		"output": map[string]any{
			"add_urls": []string{"https://drive.example.com/web.csv"},
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var submitted UpdateTaskResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal submit: %v", err)
	}
	if len(submitted.UnknownDomains) != 1 || submitted.UnknownDomains[0] != "ghost" {
		t.Fatalf("unknown domains %v", submitted.UnknownDomains)
	}
	if submitted.Task.Status != "in-progress" {
		t.Fatalf("task status %s after partial submit", submitted.Task.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+created.Code, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task status %d: %s", res.StatusCode, string(data))
	}
	var fetched TaskResponse
	_ = json.Unmarshal(data, &fetched)
	for _, d := range fetched.Domains {
		if d.Name == "web" {
			if d.Status != "submitted" || d.Submission == nil {
				t.Fatalf("web domain %+v", d)
			}
			if len(d.Submission.Countries) != 2 {
				t.Fatalf("countries %v", d.Submission.Countries)
			}
		}
	}
}

func TestSubmitKeepsStoredOutput(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":       "Resubmit",
		"description": "d",
		"domains":     []string{"web"},
	}, nil)
	var created TaskResponse
	_ = json.Unmarshal(data, &created)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.Code+"/submit", map[string]any{
		"domains": []string{"web"},
		"payload": map[string]any{},
		"output":  map[string]any{"add_files": []string{"uploads/web.csv"}},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first submit: %d %s", res.StatusCode, string(body))
	}

	// a payload-only resubmission leaves the stored output alone
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.Code+"/submit", map[string]any{
		"domains": []string{"web"},
		"payload": map[string]any{"remark": "rechecked"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second submit: %d %s", res.StatusCode, string(body))
	}
	var resubmitted UpdateTaskResponse
	_ = json.Unmarshal(body, &resubmitted)
	web := resubmitted.Task.Domains[0]
	if len(web.Output.Files) != 1 || web.Output.Files[0] != "uploads/web.csv" {
		t.Fatalf("output after payload-only resubmit: %+v", web.Output)
	}

	// an explicit empty kept list still clears it
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.Code+"/submit", map[string]any{
		"domains": []string{"web"},
		"payload": map[string]any{},
		"output":  map[string]any{"kept": []string{}},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clearing submit: %d %s", res.StatusCode, string(body))
	}
	resubmitted = UpdateTaskResponse{}
	_ = json.Unmarshal(body, &resubmitted)
	if len(resubmitted.Task.Domains[0].Output.Files) != 0 {
		t.Fatalf("output not cleared: %+v", resubmitted.Task.Domains[0].Output)
	}
}

func TestOverrideSubmittedConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":       "Override me",
		"description": "d",
		"domains":     []string{"web"},
	}, nil)
	var created TaskResponse
	_ = json.Unmarshal(data, &created)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.Code+"/submit", map[string]any{
		"domains": []string{"web"},
		"payload": map[string]any{},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+created.Code+"/domains/web/override", map[string]any{
		"reason": "rework",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", res.StatusCode, string(body))
	}
}

func TestPartialUpdateKeepsAttachments(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":       "Patch me",
		"description": "d",
		"sow":         map[string]any{"files": []string{"uploads/sow.pdf"}},
	}, nil)
	var created TaskResponse
	_ = json.Unmarshal(data, &created)

	res, body := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+created.Code, map[string]any{
		"title": "Patched",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch: %d %s", res.StatusCode, string(body))
	}
	var updated UpdateTaskResponse
	_ = json.Unmarshal(body, &updated)
	if updated.Task.Title != "Patched" {
		t.Fatalf("title %q", updated.Task.Title)
	}
	if len(updated.Task.SOW.Files) != 1 {
		t.Fatalf("sow lost on unrelated update: %+v", updated.Task.SOW)
	}

	// an explicit empty kept list clears the field
	res, body = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+created.Code, map[string]any{
		"sow": map[string]any{"kept": []string{}},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clear sow: %d %s", res.StatusCode, string(body))
	}
	updated = UpdateTaskResponse{}
	_ = json.Unmarshal(body, &updated)
	if len(updated.Task.SOW.Files) != 0 {
		t.Fatalf("sow not cleared: %+v", updated.Task.SOW)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/tasks", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	res2, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, map[string]string{"X-Actor-Id": ""})
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res2.StatusCode)
	}
}
