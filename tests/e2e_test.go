//go:build integration

package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joelkehle/chapter-review/internal/httpapi"
	"github.com/joelkehle/chapter-review/internal/logger"
	"github.com/joelkehle/chapter-review/internal/review"
	"github.com/joelkehle/chapter-review/internal/sections"
	"github.com/joelkehle/chapter-review/internal/store"
)

// analysisServer answers one category with a fixed body after an optional
// delay, checking that the multipart request carried the document.
func analysisServer(t *testing.T, body string, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		f.Close()
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

func startStack(t *testing.T, endpoints map[review.Category]review.Endpoint) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "reports.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	catalog := sections.Default()
	lg := logger.Nop()
	svc := review.NewService(review.ServiceDeps{
		Analyzer: review.NewDispatcher(review.DispatcherConfig{
			Endpoints: endpoints,
			Deadline:  2 * time.Second,
		}, lg),
		Store:   st,
		Catalog: catalog,
		Logger:  lg,
	})
	api := httptest.NewServer(httpapi.NewServer(httpapi.Deps{
		Service:   svc,
		Reports:   st,
		Projector: review.NewProjector(catalog),
		Catalog:   catalog,
		Logger:    lg,
	}))
	t.Cleanup(api.Close)
	return api, st
}

func submitChapter(t *testing.T, baseURL, group string, chapter int, sectionsField string) map[string]json.RawMessage {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", fmt.Sprintf("chapter%d.pdf", chapter))
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("%PDF-1.4 chapter text"))
	if sectionsField != "" {
		_ = w.WriteField("enabled_sections", sectionsField)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	url := fmt.Sprintf("%s/api/groups/%s/chapters/%d/submissions", baseURL, group, chapter)
	resp, err := http.Post(url, w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	return out
}

type categoryView struct {
	Score         float64         `json:"score"`
	Success       bool            `json:"success"`
	FailureReason string          `json:"failure_reason"`
	Feedback      string          `json:"feedback"`
	Detail        json.RawMessage `json:"detail"`
}

type reportView struct {
	Originality     categoryView `json:"originality"`
	Completeness    categoryView `json:"completeness"`
	Citation        categoryView `json:"citation"`
	SpellingGrammar categoryView `json:"spelling_grammar"`
}

func TestE2EChapterSubmission(t *testing.T) {
	endpoints := map[review.Category]review.Endpoint{
		review.CategoryOriginality: {URL: analysisServer(t,
			`{"blocks":[{"text":"a","probability":0.9},{"text":"b","probability":0.1},{"text":"c","probability":0.8},{"text":"d","probability":0.2}]}`, 0).URL},
		review.CategoryCompleteness: {URL: analysisServer(t,
			`{"missing_sections":["Research Instrument"]}`, 0).URL},
		review.CategoryCitation: {URL: analysisServer(t,
			`{"total_citations":10,"correct_citations":7}`, 0).URL, Timeout: 100 * time.Millisecond},
		review.CategorySpellingGrammar: {URL: analysisServer(t,
			`{"word_count":1000,"spelling_errors":5,"grammar_errors":0}`, 0).URL},
	}
	api, st := startStack(t, endpoints)

	out := submitChapter(t, api.URL, "group-7", 3, "Research Design, Research Instrument")
	var status string
	_ = json.Unmarshal(out["status"], &status)
	if status != "complete" {
		t.Fatalf("expected complete status, got %q", status)
	}
	var rep reportView
	if err := json.Unmarshal(out["report"], &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Originality.Score != 50 {
		t.Fatalf("expected originality 50, got %v", rep.Originality.Score)
	}
	if rep.Completeness.Score != 50 {
		t.Fatalf("expected completeness 50 over the two requested sections, got %v", rep.Completeness.Score)
	}
	if rep.Citation.Score != 70 {
		t.Fatalf("expected citation 70, got %v", rep.Citation.Score)
	}
	if !rep.SpellingGrammar.Success || rep.SpellingGrammar.Score <= 0 || rep.SpellingGrammar.Score >= 100 {
		t.Fatalf("unexpected spelling/grammar %+v", rep.SpellingGrammar)
	}

	cur, err := st.Current(t.Context(), "group-7", 3)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if cur.Version != 1 || cur.CitationScore != 70 {
		t.Fatalf("unexpected stored record %+v", cur)
	}

	resp, err := http.Get(api.URL + "/api/groups/group-7/chapters/3/versions/1/report.md")
	if err != nil {
		t.Fatal(err)
	}
	md, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(md), "# Chapter 3 Review Report") {
		t.Fatalf("unexpected markdown response %d: %s", resp.StatusCode, md)
	}
}

func TestE2ESlowCategoryStillStoresVersion(t *testing.T) {
	endpoints := map[review.Category]review.Endpoint{
		review.CategoryOriginality:     {URL: analysisServer(t, `{"percentage":12}`, 0).URL},
		review.CategoryCompleteness:    {URL: analysisServer(t, `{"score":100}`, 0).URL},
		review.CategoryCitation:        {URL: analysisServer(t, `{"total_citations":3,"correct_citations":3}`, time.Second).URL, Timeout: 100 * time.Millisecond},
		review.CategorySpellingGrammar: {URL: analysisServer(t, `{"word_count":100,"spelling_errors":0,"grammar_errors":0}`, 0).URL},
	}
	api, _ := startStack(t, endpoints)

	submitChapter(t, api.URL, "group-9", 1, "")
	out := submitChapter(t, api.URL, "group-9", 1, "")
	var status string
	_ = json.Unmarshal(out["status"], &status)
	if status != "partial" {
		t.Fatalf("expected partial status, got %q", status)
	}
	var rep reportView
	if err := json.Unmarshal(out["report"], &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Citation.Success || rep.Citation.Score != 0 || rep.Citation.FailureReason == "" {
		t.Fatalf("expected citation failure, got %+v", rep.Citation)
	}
	if rep.Originality.Score != 12 || !rep.Completeness.Success {
		t.Fatalf("expected other categories to succeed, got %+v", rep)
	}

	resp, err := http.Get(api.URL + "/api/groups/group-9/chapters/1/versions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var list struct {
		Versions []review.VersionInfo `json:"versions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Versions) != 2 || list.Versions[0].IsCurrent || !list.Versions[1].IsCurrent {
		t.Fatalf("unexpected versions %+v", list.Versions)
	}

	resp2, err := http.Get(api.URL + "/api/groups/group-9/chapters/1/report")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var cur struct {
		Record review.VersionInfo `json:"record"`
		Report reportView         `json:"report"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&cur); err != nil {
		t.Fatal(err)
	}
	if cur.Record.Version != 2 || cur.Report.Citation.Success {
		t.Fatalf("expected stored failure to survive projection, got %+v", cur)
	}
}
