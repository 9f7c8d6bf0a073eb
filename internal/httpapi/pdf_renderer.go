package httpapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const defaultReportCSS = `body{font-family:Georgia,"Times New Roman",serif;color:#1c1917;line-height:1.45;font-size:13px;}` +
	`h1{font-size:1.6rem;margin:0 0 0.6rem;} h2{font-size:1.2rem;margin:1.2rem 0 0.5rem;border-bottom:1px solid #d6d3d1;padding-bottom:0.2rem;}` +
	`h3{font-size:1rem;} code,pre{font-family:Menlo,Consolas,monospace;font-size:0.75rem;} pre{white-space:pre-wrap;word-break:break-word;background:#f5f5f4;padding:0.5rem;}`

var (
	reAppendixHeading = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Appendix\s*</h2>`)
	reCategoryHeading = regexp.MustCompile(`(?i)<h2([^>]*)>\s*(Content Originality|Structural Completeness|Citation|Spelling &amp; Grammar)\s*</h2>`)
	reTitleHeading    = regexp.MustCompile(`(?i)<h1[^>]*>\s*([^<]+?)\s*</h1>`)
)

// ChromiumPDFRenderer converts report markdown to HTML with goldmark and
// prints it to PDF with a headless Chromium.
type ChromiumPDFRenderer struct {
	webDir     string
	chromePath string
	timeout    time.Duration
	styleOnce  sync.Once
	styleCSS   string
}

func NewChromiumPDFRenderer(webDir string) *ChromiumPDFRenderer {
	return &ChromiumPDFRenderer{
		webDir:     webDir,
		chromePath: detectChromePath(),
		timeout:    30 * time.Second,
	}
}

func (r *ChromiumPDFRenderer) Render(ctx context.Context, markdown string) ([]byte, error) {
	htmlDoc, err := r.buildHTML(markdown)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
				`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.5).
				WithMarginBottom(0.75).
				WithMarginLeft(0.5).
				WithMarginRight(0.5).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

func (r *ChromiumPDFRenderer) buildHTML(markdown string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	contentHTML := applyPrintLayoutHooks(content.String())

	title := "Chapter Review Report"
	if m := reTitleHeading.FindStringSubmatch(contentHTML); m != nil {
		title = html.UnescapeString(m[1])
	}

	return "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString(title) + "</title>" +
		"<style>" + r.loadStyleCSS() + "\n" +
		"html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;} " +
		"body{background:#fff !important;padding:0.6rem;} .report-html{max-width:1000px;margin:0 auto;} " +
		".report-html table{width:100% !important;border-collapse:collapse !important;border:1px solid #a8a29e !important;font-size:0.8rem !important;} " +
		".report-html th,.report-html td{border:1px solid #a8a29e !important;padding:0.35rem 0.45rem !important;text-align:left !important;vertical-align:top !important;} " +
		".report-html thead th{background:#f1f5f9 !important;font-weight:700 !important;} " +
		`h2[data-category-heading="true"]{font-weight:700 !important;letter-spacing:0.01em;break-after:avoid;} ` +
		`h2[data-page-break-before="true"]{break-before:page;page-break-before:always;} ` +
		"@media print{ @page{size:auto;margin:12mm;} body{padding:0;} .report-html{max-width:none;} }" +
		"</style></head><body><div class='report-html'>" + contentHTML + "</div></body></html>", nil
}

// applyPrintLayoutHooks starts the appendix on a fresh page and tags the
// per-category headings for print styling.
func applyPrintLayoutHooks(contentHTML string) string {
	out := reAppendixHeading.ReplaceAllString(contentHTML, `<h2$1 data-page-break-before="true">Appendix</h2>`)
	return reCategoryHeading.ReplaceAllString(out, `<h2$1 data-category-heading="true">$2</h2>`)
}

// loadStyleCSS reads web/style.css once. Without it the built-in sheet is used.
func (r *ChromiumPDFRenderer) loadStyleCSS() string {
	r.styleOnce.Do(func() {
		r.styleCSS = defaultReportCSS
		if strings.TrimSpace(r.webDir) == "" {
			return
		}
		b, err := os.ReadFile(filepath.Join(r.webDir, "style.css"))
		if err != nil || len(b) == 0 {
			return
		}
		r.styleCSS = string(b)
	})
	return r.styleCSS
}

func detectChromePath() string {
	if p := strings.TrimSpace(os.Getenv("CHROME_PATH")); p != "" {
		return p
	}
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
