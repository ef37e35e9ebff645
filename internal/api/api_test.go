package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/halloran/daybook/internal/activity"
	"github.com/halloran/daybook/internal/batch"
	"github.com/halloran/daybook/internal/habits"
	"github.com/halloran/daybook/internal/journal"
	"github.com/halloran/daybook/internal/pagecache"
	"github.com/halloran/daybook/internal/saver"
	"github.com/halloran/daybook/internal/scanner"
	"github.com/halloran/daybook/internal/settings"
	"github.com/halloran/daybook/internal/testutil"
)

// testEnv sets up a temp journal, SQLite DBs, service, and router.
// authToken="" means disabled mode; non-empty means token mode.
func testEnv(t *testing.T, authToken string) (*journal.Service, http.Handler, string) {
	t.Helper()

	dir, store := testutil.TestJournal(t)
	db := testutil.TestDB(t)

	hf, err := os.CreateTemp("", "daybook-api-habits-*.db")
	if err != nil {
		t.Fatal(err)
	}
	hf.Close()
	t.Cleanup(func() { os.Remove(hf.Name()) })
	hb, err := habits.Open(hf.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hb.Close() })

	opts := batch.Options{Concurrency: 4, Size: 16, Pause: time.Millisecond}
	sc := scanner.New(store, 0, nil, opts, nil)
	sv := saver.New(store, time.Hour, nil, nil)
	t.Cleanup(func() { sv.Close() })
	cache := pagecache.New(store, pagecache.Config{PageSize: 5, MaxResident: 3, Batch: opts}, sv, nil)
	provider := activity.SourceProviderFunc(func() []activity.Source {
		return []activity.Source{hb.AsSource()}
	})
	agg := activity.New(provider, time.Second, nil)

	st, err := settings.Open(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}

	svc := journal.New(store, sc, cache, sv, agg, provider, db, hb, nil)
	router := NewRouter(svc, st, authToken != "", authToken, nil)
	return svc, router, dir
}

func doJSON(t *testing.T, router http.Handler, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRescanAndListEntries(t *testing.T) {
	_, router, dir := testEnv(t, "")
	testutil.WriteEntry(t, dir, "2024-02-01.md", "# Feb")
	testutil.WriteEntry(t, dir, "2024-02-02.md", "# Later")

	w := doJSON(t, router, http.MethodPost, "/rescan", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rescan status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/entries", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp struct {
		Entries []struct {
			Path    string `json:"path"`
			DateKey string `json:"date_key"`
		} `json:"entries"`
		Total int `json:"total"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Entries) != 2 {
		t.Fatalf("total = %d, entries = %d", resp.Total, len(resp.Entries))
	}
	if resp.Entries[0].Path != "2024-02-02.md" {
		t.Errorf("entries[0] = %q, want newest first", resp.Entries[0].Path)
	}
}

func TestViewportAndContent(t *testing.T) {
	_, router, dir := testEnv(t, "")
	testutil.WriteEntry(t, dir, "2024-02-01.md", "# Body here")
	doJSON(t, router, http.MethodPost, "/rescan", nil)

	w := doJSON(t, router, http.MethodPost, "/viewport", map[string]int{"start": 0, "end": 0})
	if w.Code != http.StatusNoContent {
		t.Fatalf("viewport status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/entries/2024-02-01.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("content status = %d", w.Code)
	}
	var resp struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Content != "# Body here" {
		t.Errorf("content = %q", resp.Content)
	}

	// Invalid ranges are rejected.
	w = doJSON(t, router, http.MethodPost, "/viewport", map[string]int{"start": 5, "end": 2})
	if w.Code != http.StatusBadRequest {
		t.Errorf("inverted viewport status = %d", w.Code)
	}
}

func TestContentNotFound(t *testing.T) {
	_, router, _ := testEnv(t, "")
	doJSON(t, router, http.MethodPost, "/rescan", nil)

	w := doJSON(t, router, http.MethodGet, "/entries/ghost.md", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestEditAndFlush(t *testing.T) {
	_, router, dir := testEnv(t, "")
	testutil.WriteEntry(t, dir, "2024-02-01.md", "before")
	doJSON(t, router, http.MethodPost, "/rescan", nil)

	w := doJSON(t, router, http.MethodPut, "/entries/2024-02-01.md", map[string]string{"content": "after"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("edit status = %d", w.Code)
	}

	// The optimistic view is served before the write lands.
	w = doJSON(t, router, http.MethodGet, "/entries/2024-02-01.md", nil)
	var resp struct {
		Content string `json:"content"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Content != "after" {
		t.Errorf("content = %q, want the unsaved edit", resp.Content)
	}

	w = doJSON(t, router, http.MethodPost, "/entries/flush", map[string]string{"path": "2024-02-01.md"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("flush status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestActivityEndpoint(t *testing.T) {
	svc, router, _ := testEnv(t, "")
	if _, err := svc.AddHabit("exercise", "5k", time.Date(2024, 2, 1, 8, 0, 0, 0, time.Local)); err != nil {
		t.Fatal(err)
	}
	svc.FetchActivityDates(context.Background(), []string{"2024-02-01"})

	w := doJSON(t, router, http.MethodGet, "/activity?date=2024-02-01", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("activity status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Records []struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"records"`
		Sources int `json:"sources"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Records) != 1 || resp.Records[0].Kind != "habit" {
		t.Fatalf("records = %+v", resp.Records)
	}
	if resp.Sources != 1 {
		t.Errorf("sources = %d", resp.Sources)
	}

	// Filters are honored.
	w = doJSON(t, router, http.MethodGet, "/activity?date=2024-02-01&q=nothing", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Records) != 0 {
		t.Errorf("filtered records = %+v", resp.Records)
	}

	// Malformed dates are rejected.
	w = doJSON(t, router, http.MethodGet, "/activity?date=02-01-2024", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", w.Code)
	}
}

func TestHabitsEndpoint(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/habits", map[string]string{"habit": "reading"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add habit status = %d, body = %s", w.Code, w.Body.String())
	}

	today := time.Now().Format("2006-01-02")
	w = doJSON(t, router, http.MethodGet, "/habits?from="+today+"&to="+today, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list habits status = %d", w.Code)
	}
	var resp struct {
		Completions []struct {
			Habit string `json:"habit"`
		} `json:"completions"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Completions) != 1 || resp.Completions[0].Habit != "reading" {
		t.Errorf("completions = %+v", resp.Completions)
	}

	w = doJSON(t, router, http.MethodPost, "/habits", map[string]string{"habit": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty habit status = %d", w.Code)
	}
}

func TestAttrAndSearch(t *testing.T) {
	svc, router, dir := testEnv(t, "")
	testutil.WriteEntry(t, dir, "2024-02-01.md", "# Trip\n\nFlew to Lisbon for the week.")
	doJSON(t, router, http.MethodPost, "/rescan", nil)

	w := doJSON(t, router, http.MethodPut, "/entries/attrs",
		map[string]string{"path": "2024-02-01.md", "key": "location.city", "value": "Lisbon"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("set attr status = %d", w.Code)
	}
	if got := svc.Entries()[0].Attrs["location.city"]; got != "Lisbon" {
		t.Errorf("attr = %q", got)
	}

	// The index sync runs in the background after a rescan.
	deadline := time.Now().Add(3 * time.Second)
	for {
		w = doJSON(t, router, http.MethodGet, "/search?q=Lisbon", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("search status = %d", w.Code)
		}
		var resp struct {
			Results []struct {
				Path string `json:"path"`
			} `json:"results"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if len(resp.Results) == 1 && resp.Results[0].Path == "2024-02-01.md" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("search never saw the entry: %s", w.Body.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, router, _ := testEnv(t, "secret")

	w := doJSON(t, router, http.MethodGet, "/entries", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/entries", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/entries", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	_, router, _ := testEnv(t, "")

	w := doJSON(t, router, http.MethodGet, "/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got settings.Values
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if len(got.Repos) != 0 {
		t.Fatalf("fresh store repos = %v, want empty", got.Repos)
	}

	w = doJSON(t, router, http.MethodPut, "/settings", settings.Values{Repos: []string{"/src/daybook"}})
	if w.Code != http.StatusNoContent {
		t.Fatalf("put status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/settings", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if len(got.Repos) != 1 || got.Repos[0] != "/src/daybook" {
		t.Fatalf("repos after put = %v", got.Repos)
	}
}
