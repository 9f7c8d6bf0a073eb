package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joelkehle/chapter-review/internal/logger"
	"github.com/joelkehle/chapter-review/internal/review"
	"github.com/joelkehle/chapter-review/internal/sections"
	"github.com/joelkehle/chapter-review/internal/store"
)

const DefaultMaxUploadBytes = 32 << 20

type Submitter interface {
	Submit(ctx context.Context, sub review.Submission) (review.SubmitResult, error)
}

type ReportStore interface {
	Get(ctx context.Context, groupID string, chapter, version int) (review.ChapterRecord, error)
	Current(ctx context.Context, groupID string, chapter int) (review.ChapterRecord, error)
	Versions(ctx context.Context, groupID string, chapter int) ([]review.VersionInfo, error)
}

type ReportProjector interface {
	Project(rec review.ChapterRecord) review.CombinedReport
}

type ReportPDFRenderer interface {
	Render(ctx context.Context, markdown string) ([]byte, error)
}

type Deps struct {
	Service        Submitter
	Reports        ReportStore
	Projector      ReportProjector
	Catalog        sections.Provider
	PDFRenderer    ReportPDFRenderer
	Logger         *logger.Logger
	MaxUploadBytes int64
}

type Server struct {
	service        Submitter
	reports        ReportStore
	projector      ReportProjector
	catalog        sections.Provider
	pdfRenderer    ReportPDFRenderer
	log            *logger.Logger
	maxUploadBytes int64
}

// NewServer builds the gin engine. A nil PDFRenderer disables the PDF route
// with 503 responses.
func NewServer(deps Deps) http.Handler {
	s := &Server{
		service:        deps.Service,
		reports:        deps.Reports,
		projector:      deps.Projector,
		catalog:        deps.Catalog,
		pdfRenderer:    deps.PDFRenderer,
		log:            deps.Logger,
		maxUploadBytes: deps.MaxUploadBytes,
	}
	if s.catalog == nil {
		s.catalog = sections.Default()
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = DefaultMaxUploadBytes
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.MaxMultipartMemory = 8 << 20

	r.GET("/healthz", s.handleHealth)
	api := r.Group("/api")
	api.GET("/sections/:chapter", s.handleSections)

	ch := api.Group("/groups/:group/chapters/:chapter")
	ch.POST("/submissions", s.handleSubmit)
	ch.GET("/versions", s.handleVersions)
	ch.GET("/report", s.handleCurrentReport)
	ch.GET("/versions/:version/report", s.handleVersionReport)
	ch.GET("/versions/:version/report.md", s.handleVersionMarkdown)
	ch.GET("/versions/:version/report.pdf", s.handleVersionPDF)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleSections(c *gin.Context) {
	chapter, ok := chapterParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chapter":  chapter,
		"sections": s.catalog.Sections(chapter),
	})
}

func (s *Server) handleSubmit(c *gin.Context) {
	chapter, ok := chapterParam(c)
	if !ok {
		return
	}
	tooLargeMsg := fmt.Sprintf("upload exceeds %d bytes", s.maxUploadBytes)
	if c.Request.ContentLength > s.maxUploadBytes {
		respondError(c, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, tooLargeMsg)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, tooLargeMsg)
			return
		}
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "multipart field \"file\" is required")
		return
	}
	enabled, err := parseSectionList(c.PostForm("enabled_sections"))
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeDocumentUnreadable, "uploaded file could not be opened")
		return
	}
	defer f.Close()

	res, err := s.service.Submit(c.Request.Context(), review.Submission{
		GroupID:         c.Param("group"),
		Chapter:         chapter,
		FileName:        fh.Filename,
		ContentType:     fh.Header.Get("Content-Type"),
		File:            f,
		EnabledSections: enabled,
	})
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	report := s.projector.Project(res.Record)
	c.JSON(http.StatusCreated, gin.H{
		"record": versionInfo(res.Record),
		"status": report.Status(),
		"report": report,
	})
}

func (s *Server) handleVersions(c *gin.Context) {
	chapter, ok := chapterParam(c)
	if !ok {
		return
	}
	versions, err := s.reports.Versions(c.Request.Context(), c.Param("group"), chapter)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (s *Server) handleCurrentReport(c *gin.Context) {
	chapter, ok := chapterParam(c)
	if !ok {
		return
	}
	rec, err := s.reports.Current(c.Request.Context(), c.Param("group"), chapter)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	s.writeReport(c, rec)
}

func (s *Server) handleVersionReport(c *gin.Context) {
	rec, ok := s.loadVersion(c)
	if !ok {
		return
	}
	s.writeReport(c, rec)
}

func (s *Server) handleVersionMarkdown(c *gin.Context) {
	rec, ok := s.loadVersion(c)
	if !ok {
		return
	}
	md := review.BuildMarkdown(rec, s.projector.Project(rec))
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(md))
}

func (s *Server) handleVersionPDF(c *gin.Context) {
	if s.pdfRenderer == nil {
		respondError(c, http.StatusServiceUnavailable, CodeRendererUnavailable, "pdf renderer unavailable")
		return
	}
	rec, ok := s.loadVersion(c)
	if !ok {
		return
	}
	md := review.BuildMarkdown(rec, s.projector.Project(rec))
	pdf, err := s.pdfRenderer.Render(c.Request.Context(), md)
	if err != nil {
		s.log.Error("render report pdf failed", "group_id", rec.GroupID, "chapter", rec.ChapterNumber, "version", rec.Version, "error", err)
		respondError(c, http.StatusInternalServerError, CodeRenderFailed, "failed to render pdf")
		return
	}
	filename := fmt.Sprintf("%s-chapter-%d-v%d.pdf", sanitizeFilename(rec.GroupID), rec.ChapterNumber, rec.Version)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (s *Server) loadVersion(c *gin.Context) (review.ChapterRecord, bool) {
	chapter, ok := chapterParam(c)
	if !ok {
		return review.ChapterRecord{}, false
	}
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest, "version must be a positive integer")
		return review.ChapterRecord{}, false
	}
	rec, err := s.reports.Get(c.Request.Context(), c.Param("group"), chapter, version)
	if err != nil {
		s.respondServiceError(c, err)
		return review.ChapterRecord{}, false
	}
	return rec, true
}

func (s *Server) writeReport(c *gin.Context, rec review.ChapterRecord) {
	report := s.projector.Project(rec)
	c.JSON(http.StatusOK, gin.H{
		"record": versionInfo(rec),
		"status": report.Status(),
		"report": report,
	})
}

func (s *Server) respondServiceError(c *gin.Context, err error) {
	code := codeForError(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	respondError(c, status, code, err.Error())
}

func chapterParam(c *gin.Context) (int, bool) {
	chapter, err := strconv.Atoi(c.Param("chapter"))
	if err != nil || !sections.ValidChapter(chapter) {
		respondError(c, http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("chapter must be a number between %d and %d", sections.MinChapter, sections.MaxChapter))
		return 0, false
	}
	return chapter, true
}

// parseSectionList accepts a JSON array or a comma-separated list.
func parseSectionList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("enabled_sections must be a JSON array of strings: %w", err)
		}
		return out, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func versionInfo(rec review.ChapterRecord) review.VersionInfo {
	return review.VersionInfo{
		ID:            rec.ID,
		GroupID:       rec.GroupID,
		ChapterNumber: rec.ChapterNumber,
		Version:       rec.Version,
		IsCurrent:     rec.IsCurrent,
		FileName:      rec.FileName,
		CreatedAt:     rec.CreatedAt,
	}
}

func sanitizeFilename(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "report"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, v)
}

var _ ReportStore = (*store.SQLiteStore)(nil)
