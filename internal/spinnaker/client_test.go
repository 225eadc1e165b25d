package spinnaker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type recorded struct {
	method string
	path   string
	body   string
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, body: string(body)})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := New(Options{URL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &calls
}

func TestClient_ListPipelines(t *testing.T) {
	c, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"1","name":"billing [us-east-1]","application":"billing"},{"name":"manual","application":"billing"}]`))
	})
	got, err := c.ListPipelines(context.Background(), "billing")
	if err != nil {
		t.Fatalf("ListPipelines: %v", err)
	}
	if len(got) != 2 || got[0].Name != "billing [us-east-1]" {
		t.Fatalf("unexpected pipelines: %+v", got)
	}
	if (*calls)[0].path != "/applications/billing/pipelineConfigs" {
		t.Fatalf("unexpected path %q", (*calls)[0].path)
	}
}

func TestClient_DeleteEscapesName(t *testing.T) {
	c, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/pipelines/billing/billing%20%5Bus-east-1%5D" {
			t.Errorf("unexpected escaped path %q", r.URL.EscapedPath())
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := c.DeletePipeline(context.Background(), "billing", "billing [us-east-1]"); err != nil {
		t.Fatalf("DeletePipeline: %v", err)
	}
	if got := (*calls)[0]; got.method != http.MethodDelete || got.path != "/pipelines/billing/billing [us-east-1]" {
		t.Fatalf("unexpected call %+v", got)
	}
}

func TestClient_CreateReturnsVerbatimBody(t *testing.T) {
	const payload = `{"error":"Bad Request","message":"stage 3 is invalid"}`
	c, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(payload))
	})
	err := c.CreatePipeline(context.Background(), []byte(`{"name":"x"}`))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Body != payload {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if (*calls)[0].body != `{"name":"x"}` {
		t.Fatalf("unexpected body %q", (*calls)[0].body)
	}
}

func TestClient_GetPipelineNotFound(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, ok, err := c.GetPipeline(context.Background(), "billing", "billing [us-east-1]")
	if err != nil {
		t.Fatalf("GetPipeline: %v", err)
	}
	if ok {
		t.Fatalf("expected not found")
	}
}

func TestClient_ListApplications(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"billing","repoProjectKey":"PAY","repoSlug":"billing"},{"name":"orphan"}]`))
	})
	apps, err := c.ListApplications(context.Background())
	if err != nil {
		t.Fatalf("ListApplications: %v", err)
	}
	if len(apps) != 2 || apps[0].RepoProjectKey != "PAY" || apps[1].RepoProjectKey != "" {
		t.Fatalf("unexpected apps %+v", apps)
	}
}

func TestClient_CanceledContext(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.CreatePipeline(ctx, []byte(`{}`))
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://gate", "::"} {
		if _, err := New(Options{URL: raw}); err == nil {
			t.Fatalf("expected error for %q", raw)
		} else if raw == "" && !strings.Contains(err.Error(), "required") {
			t.Fatalf("unexpected error %v", err)
		}
	}
}
