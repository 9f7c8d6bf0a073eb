package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/chapter-review/internal/logger"
)

const (
	DefaultDispatchDeadline = 170 * time.Second
	DefaultMaxBodyBytes     = 8 << 20
)

type Endpoint struct {
	URL     string
	Timeout time.Duration
}

type DispatcherConfig struct {
	Endpoints    map[Category]Endpoint
	Deadline     time.Duration
	MaxBodyBytes int64
	HTTPClient   *http.Client
	Tracer       trace.Tracer
}

// Dispatcher fans a document out to the four category services.
type Dispatcher struct {
	endpoints    map[Category]Endpoint
	deadline     time.Duration
	maxBodyBytes int64
	client       *http.Client
	tracer       trace.Tracer
	log          *logger.Logger
}

func NewDispatcher(cfg DispatcherConfig, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		endpoints:    make(map[Category]Endpoint, len(cfg.Endpoints)),
		deadline:     cfg.Deadline,
		maxBodyBytes: cfg.MaxBodyBytes,
		client:       cfg.HTTPClient,
		tracer:       cfg.Tracer,
		log:          log,
	}
	for c, ep := range cfg.Endpoints {
		d.endpoints[c] = ep
	}
	if d.deadline <= 0 {
		d.deadline = DefaultDispatchDeadline
	}
	if d.maxBodyBytes <= 0 {
		d.maxBodyBytes = DefaultMaxBodyBytes
	}
	if d.client == nil {
		// Per-call timeouts come from the request context.
		d.client = &http.Client{}
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer("github.com/joelkehle/chapter-review/internal/review")
	}
	return d
}

// Dispatch issues one request per category concurrently and waits until all
// have answered or the global deadline passes. Categories still in flight at
// the deadline are reported with ErrDispatchDeadline. The result always has
// one entry per category.
func (d *Dispatcher) Dispatch(ctx context.Context, req AnalysisRequest) map[Category]RawResponse {
	ctx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	var mu sync.Mutex
	results := make(map[Category]RawResponse, len(Categories))

	var g errgroup.Group
	for _, c := range Categories {
		g.Go(func() error {
			resp := d.call(ctx, c, req)
			mu.Lock()
			results[c] = resp
			mu.Unlock()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.log.Warn("dispatch deadline reached", "group_id", req.Chapter.GroupID, "chapter", req.Chapter.Chapter, "deadline", d.deadline.String())
	}

	mu.Lock()
	defer mu.Unlock()
	out := make(map[Category]RawResponse, len(Categories))
	for _, c := range Categories {
		if r, ok := results[c]; ok {
			out[c] = r
			continue
		}
		out[c] = RawResponse{Category: c, Err: fmt.Errorf("%w: %v", ErrDispatchDeadline, ctx.Err())}
	}
	return out
}

func (d *Dispatcher) call(ctx context.Context, c Category, req AnalysisRequest) RawResponse {
	start := time.Now()
	ep, ok := d.endpoints[c]
	if !ok || ep.URL == "" {
		return RawResponse{Category: c, Err: ErrEndpointNotConfigured}
	}
	if ep.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}

	ctx, span := d.tracer.Start(ctx, "review.dispatch."+string(c), trace.WithAttributes(
		attribute.String("review.category", string(c)),
		attribute.String("review.group_id", req.Chapter.GroupID),
		attribute.Int("review.chapter", req.Chapter.Chapter),
	))
	defer span.End()

	resp := d.post(ctx, c, ep.URL, req)
	resp.Elapsed = time.Since(start)
	if resp.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}
	switch {
	case resp.Err != nil:
		span.RecordError(resp.Err)
		span.SetStatus(codes.Error, resp.Err.Error())
	case resp.StatusCode != http.StatusOK:
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	d.log.Debug("category call finished",
		"category", string(c),
		"status", resp.StatusCode,
		"elapsed_ms", resp.Elapsed.Milliseconds(),
		"error", errString(resp.Err),
	)
	return resp
}

func (d *Dispatcher) post(ctx context.Context, c Category, url string, req AnalysisRequest) RawResponse {
	body, contentType, err := encodeRequest(c, req)
	if err != nil {
		return RawResponse{Category: c, Err: fmt.Errorf("encode request: %w", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return RawResponse{Category: c, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return RawResponse{Category: c, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBodyBytes))
	if err != nil {
		return RawResponse{Category: c, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	return RawResponse{Category: c, StatusCode: resp.StatusCode, Body: data}
}

// encodeRequest builds a fresh multipart body for one category. The document
// bytes are only read.
func encodeRequest(c Category, req AnalysisRequest) (*bytes.Buffer, string, error) {
	sections := req.Chapter.EnabledSections
	if sections == nil {
		sections = []string{}
	}
	sectionsJSON, err := json.Marshal(sections)
	if err != nil {
		return nil, "", err
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	name := req.Document.Name
	if name == "" {
		name = "chapter.pdf"
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Document.Content); err != nil {
		return nil, "", err
	}
	fields := []struct{ k, v string }{
		{"chapter", req.Chapter.Label()},
		{"chapter_number", strconv.Itoa(req.Chapter.Chapter)},
		{"enabled_sections", string(sectionsJSON)},
		{"category", string(c)},
	}
	for _, f := range fields {
		if err := w.WriteField(f.k, f.v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
