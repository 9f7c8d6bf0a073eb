package review

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/joelkehle/chapter-review/internal/logger"
)

type capturedForm struct {
	chapter, chapterNumber, category string
	sections                         []string
	file                             string
}

func categoryServer(t *testing.T, body string, delay time.Duration, mu *sync.Mutex, seen map[string]capturedForm) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		content, _ := io.ReadAll(f)
		f.Close()
		var secs []string
		_ = json.Unmarshal([]byte(r.FormValue("enabled_sections")), &secs)
		if seen != nil {
			mu.Lock()
			seen[r.FormValue("category")] = capturedForm{
				chapter:       r.FormValue("chapter"),
				chapterNumber: r.FormValue("chapter_number"),
				category:      r.FormValue("category"),
				sections:      secs,
				file:          string(content),
			}
			mu.Unlock()
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRequest() AnalysisRequest {
	return AnalysisRequest{
		Document: Document{Name: "chapter3.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4 test document")},
		Chapter:  ChapterContext{GroupID: "group-7", Chapter: 3, EnabledSections: []string{"Research Design", "Research Instrument"}},
	}
}

func TestDispatchSendsMultipartToEveryCategory(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]capturedForm{}
	endpoints := map[Category]Endpoint{}
	for _, c := range Categories {
		srv := categoryServer(t, `{"ok": true}`, 0, &mu, seen)
		endpoints[c] = Endpoint{URL: srv.URL, Timeout: 5 * time.Second}
	}
	d := NewDispatcher(DispatcherConfig{Endpoints: endpoints, Deadline: 10 * time.Second}, logger.Nop())

	out := d.Dispatch(context.Background(), testRequest())
	if len(out) != len(Categories) {
		t.Fatalf("expected %d responses, got %d", len(Categories), len(out))
	}
	for _, c := range Categories {
		r := out[c]
		if r.Err != nil || r.StatusCode != http.StatusOK {
			t.Fatalf("%s: unexpected response %+v", c, r)
		}
		form, ok := seen[string(c)]
		if !ok {
			t.Fatalf("%s: server did not see request", c)
		}
		if form.chapter != "Chapter 3" || form.chapterNumber != "3" {
			t.Fatalf("%s: unexpected chapter fields %+v", c, form)
		}
		if len(form.sections) != 2 || form.sections[0] != "Research Design" {
			t.Fatalf("%s: unexpected sections %v", c, form.sections)
		}
		if form.file != "%PDF-1.4 test document" {
			t.Fatalf("%s: unexpected file content %q", c, form.file)
		}
	}
}

func TestDispatchPerCategoryTimeout(t *testing.T) {
	endpoints := map[Category]Endpoint{}
	for _, c := range Categories {
		delay := time.Duration(0)
		timeout := 5 * time.Second
		if c == CategoryCitation {
			delay = 2 * time.Second
			timeout = 50 * time.Millisecond
		}
		srv := categoryServer(t, `{"ok": true}`, delay, nil, nil)
		endpoints[c] = Endpoint{URL: srv.URL, Timeout: timeout}
	}
	d := NewDispatcher(DispatcherConfig{Endpoints: endpoints, Deadline: 10 * time.Second}, logger.Nop())

	out := d.Dispatch(context.Background(), testRequest())
	if !errors.Is(out[CategoryCitation].Err, context.DeadlineExceeded) {
		t.Fatalf("expected citation deadline error, got %v", out[CategoryCitation].Err)
	}
	for _, c := range []Category{CategoryOriginality, CategoryCompleteness, CategorySpellingGrammar} {
		if out[c].Err != nil || out[c].StatusCode != http.StatusOK {
			t.Fatalf("%s: expected success, got %+v", c, out[c])
		}
	}
}

func TestDispatchGlobalDeadline(t *testing.T) {
	endpoints := map[Category]Endpoint{}
	for _, c := range Categories {
		delay := time.Duration(0)
		if c == CategoryOriginality {
			delay = 3 * time.Second
		}
		srv := categoryServer(t, `{"ok": true}`, delay, nil, nil)
		endpoints[c] = Endpoint{URL: srv.URL}
	}
	d := NewDispatcher(DispatcherConfig{Endpoints: endpoints, Deadline: 200 * time.Millisecond}, logger.Nop())

	start := time.Now()
	out := d.Dispatch(context.Background(), testRequest())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("dispatch did not honor global deadline, took %s", elapsed)
	}
	err := out[CategoryOriginality].Err
	if !errors.Is(err, ErrDispatchDeadline) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error for slow category, got %v", err)
	}
	if out[CategoryCitation].Err != nil {
		t.Fatalf("expected fast category to complete, got %v", out[CategoryCitation].Err)
	}
}

func TestDispatchUnconfiguredEndpoint(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, logger.Nop())
	out := d.Dispatch(context.Background(), testRequest())
	for _, c := range Categories {
		if !errors.Is(out[c].Err, ErrEndpointNotConfigured) {
			t.Fatalf("%s: expected endpoint not configured, got %v", c, out[c].Err)
		}
	}
}

func TestDispatchCapsResponseBody(t *testing.T) {
	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'x'
	}
	srv := categoryServer(t, string(big), 0, nil, nil)
	d := NewDispatcher(DispatcherConfig{
		Endpoints:    map[Category]Endpoint{CategoryOriginality: {URL: srv.URL}},
		MaxBodyBytes: 100,
	}, logger.Nop())
	out := d.Dispatch(context.Background(), testRequest())
	if got := len(out[CategoryOriginality].Body); got != 100 {
		t.Fatalf("expected body capped at 100 bytes, got %d", got)
	}
}
