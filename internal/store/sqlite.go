package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/chapter-review/internal/review"
)

var ErrNotFound = errors.New("chapter report not found")

// SQLiteStore keeps every analyzed version of a chapter. Exactly one version
// per (group, chapter) is flagged current.
type SQLiteStore struct {
	db    *sqlx.DB
	clock func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chapter_reports (
	id                        TEXT PRIMARY KEY,
	group_id                  TEXT NOT NULL,
	chapter_number            INTEGER NOT NULL,
	version                   INTEGER NOT NULL,
	is_current                INTEGER NOT NULL DEFAULT 0,
	file_name                 TEXT NOT NULL DEFAULT '',
	content_type              TEXT NOT NULL DEFAULT '',
	file_size                 INTEGER NOT NULL DEFAULT 0,
	file_sha256               TEXT NOT NULL DEFAULT '',
	enabled_sections          TEXT NOT NULL DEFAULT '[]',
	originality_score         REAL NOT NULL DEFAULT 0,
	originality_feedback      TEXT NOT NULL DEFAULT '',
	originality_report        TEXT NOT NULL DEFAULT '',
	completeness_score        REAL NOT NULL DEFAULT 0,
	completeness_feedback     TEXT NOT NULL DEFAULT '',
	completeness_report       TEXT NOT NULL DEFAULT '',
	citation_score            REAL NOT NULL DEFAULT 0,
	citation_feedback         TEXT NOT NULL DEFAULT '',
	citation_report           TEXT NOT NULL DEFAULT '',
	spelling_score            REAL NOT NULL DEFAULT 0,
	grammar_score             REAL NOT NULL DEFAULT 0,
	spelling_grammar_feedback TEXT NOT NULL DEFAULT '',
	spelling_grammar_report   TEXT NOT NULL DEFAULT '',
	generated_at              TEXT NOT NULL DEFAULT '',
	created_at                TEXT NOT NULL,
	UNIQUE (group_id, chapter_number, version)
);

CREATE INDEX IF NOT EXISTS idx_chapter_reports_current
	ON chapter_reports (group_id, chapter_number, is_current);
`

const reportColumns = `id, group_id, chapter_number, version, is_current, file_name, content_type,
	file_size, file_sha256, enabled_sections,
	originality_score, originality_feedback, originality_report,
	completeness_score, completeness_feedback, completeness_report,
	citation_score, citation_feedback, citation_report,
	spelling_score, grammar_score, spelling_grammar_feedback, spelling_grammar_report,
	generated_at, created_at`

type reportRow struct {
	ID              string  `db:"id"`
	GroupID         string  `db:"group_id"`
	ChapterNumber   int     `db:"chapter_number"`
	Version         int     `db:"version"`
	IsCurrent       int     `db:"is_current"`
	FileName        string  `db:"file_name"`
	ContentType     string  `db:"content_type"`
	FileSize        int64   `db:"file_size"`
	FileSHA256      string  `db:"file_sha256"`
	EnabledSections string  `db:"enabled_sections"`
	OriginalityScr  float64 `db:"originality_score"`
	OriginalityFb   string  `db:"originality_feedback"`
	OriginalityRep  string  `db:"originality_report"`
	CompletenessScr float64 `db:"completeness_score"`
	CompletenessFb  string  `db:"completeness_feedback"`
	CompletenessRep string  `db:"completeness_report"`
	CitationScr     float64 `db:"citation_score"`
	CitationFb      string  `db:"citation_feedback"`
	CitationRep     string  `db:"citation_report"`
	SpellingScr     float64 `db:"spelling_score"`
	GrammarScr      float64 `db:"grammar_score"`
	LanguageFb      string  `db:"spelling_grammar_feedback"`
	LanguageRep     string  `db:"spelling_grammar_report"`
	GeneratedAt     string  `db:"generated_at"`
	CreatedAt       string  `db:"created_at"`
}

type versionRow struct {
	ID            string `db:"id"`
	GroupID       string `db:"group_id"`
	ChapterNumber int    `db:"chapter_number"`
	Version       int    `db:"version"`
	IsCurrent     int    `db:"is_current"`
	FileName      string `db:"file_name"`
	CreatedAt     string `db:"created_at"`
}

// NewSQLiteStore opens (creating if needed) the database at dbPath. A nil
// clock means time.Now.
func NewSQLiteStore(dbPath string, clock func() time.Time) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &SQLiteStore{db: db, clock: clock}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert stores rec as the next version of its chapter and makes it current.
// The version number, current flag and creation time are assigned here.
func (s *SQLiteStore) Insert(ctx context.Context, rec review.ChapterRecord) (review.ChapterRecord, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return review.ChapterRecord{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	if err := tx.GetContext(ctx, &maxVersion,
		`SELECT MAX(version) FROM chapter_reports WHERE group_id = ? AND chapter_number = ?`,
		rec.GroupID, rec.ChapterNumber); err != nil {
		return review.ChapterRecord{}, fmt.Errorf("next version: %w", err)
	}
	rec.Version = int(maxVersion.Int64) + 1
	rec.IsCurrent = true
	rec.CreatedAt = s.clock().UTC()
	if rec.EnabledSections == nil {
		rec.EnabledSections = []string{}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chapter_reports SET is_current = 0 WHERE group_id = ? AND chapter_number = ? AND is_current = 1`,
		rec.GroupID, rec.ChapterNumber); err != nil {
		return review.ChapterRecord{}, fmt.Errorf("clear current: %w", err)
	}

	if _, err := tx.NamedExecContext(ctx, `INSERT INTO chapter_reports (`+reportColumns+`) VALUES (
		:id, :group_id, :chapter_number, :version, :is_current, :file_name, :content_type,
		:file_size, :file_sha256, :enabled_sections,
		:originality_score, :originality_feedback, :originality_report,
		:completeness_score, :completeness_feedback, :completeness_report,
		:citation_score, :citation_feedback, :citation_report,
		:spelling_score, :grammar_score, :spelling_grammar_feedback, :spelling_grammar_report,
		:generated_at, :created_at)`, toRow(rec)); err != nil {
		return review.ChapterRecord{}, fmt.Errorf("insert report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return review.ChapterRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, groupID string, chapter, version int) (review.ChapterRecord, error) {
	return s.getOne(ctx, `SELECT `+reportColumns+` FROM chapter_reports
		WHERE group_id = ? AND chapter_number = ? AND version = ?`, groupID, chapter, version)
}

func (s *SQLiteStore) Current(ctx context.Context, groupID string, chapter int) (review.ChapterRecord, error) {
	return s.getOne(ctx, `SELECT `+reportColumns+` FROM chapter_reports
		WHERE group_id = ? AND chapter_number = ? AND is_current = 1`, groupID, chapter)
}

// Versions lists stored versions in ascending order.
func (s *SQLiteStore) Versions(ctx context.Context, groupID string, chapter int) ([]review.VersionInfo, error) {
	var rows []versionRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, group_id, chapter_number, version, is_current, file_name, created_at
		FROM chapter_reports WHERE group_id = ? AND chapter_number = ? ORDER BY version ASC`,
		groupID, chapter); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	out := make([]review.VersionInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, review.VersionInfo{
			ID:            r.ID,
			GroupID:       r.GroupID,
			ChapterNumber: r.ChapterNumber,
			Version:       r.Version,
			IsCurrent:     r.IsCurrent != 0,
			FileName:      r.FileName,
			CreatedAt:     parseTime(r.CreatedAt),
		})
	}
	return out, nil
}

func (s *SQLiteStore) getOne(ctx context.Context, query string, args ...any) (review.ChapterRecord, error) {
	var row reportRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return review.ChapterRecord{}, ErrNotFound
		}
		return review.ChapterRecord{}, fmt.Errorf("load report: %w", err)
	}
	return fromRow(row), nil
}

func toRow(rec review.ChapterRecord) reportRow {
	current := 0
	if rec.IsCurrent {
		current = 1
	}
	return reportRow{
		ID:              rec.ID,
		GroupID:         rec.GroupID,
		ChapterNumber:   rec.ChapterNumber,
		Version:         rec.Version,
		IsCurrent:       current,
		FileName:        rec.FileName,
		ContentType:     rec.ContentType,
		FileSize:        rec.FileSize,
		FileSHA256:      rec.FileSHA256,
		EnabledSections: marshalJSON(rec.EnabledSections),
		OriginalityScr:  rec.OriginalityScore,
		OriginalityFb:   rec.OriginalityFeedback,
		OriginalityRep:  rec.OriginalityReport,
		CompletenessScr: rec.CompletenessScore,
		CompletenessFb:  rec.CompletenessFeedback,
		CompletenessRep: rec.CompletenessReport,
		CitationScr:     rec.CitationScore,
		CitationFb:      rec.CitationFeedback,
		CitationRep:     rec.CitationReport,
		SpellingScr:     rec.SpellingScore,
		GrammarScr:      rec.GrammarScore,
		LanguageFb:      rec.SpellingGrammarFeedback,
		LanguageRep:     rec.SpellingGrammarReport,
		GeneratedAt:     timeToString(rec.GeneratedAt),
		CreatedAt:       timeToString(rec.CreatedAt),
	}
}

func fromRow(r reportRow) review.ChapterRecord {
	rec := review.ChapterRecord{
		ID:                      r.ID,
		GroupID:                 r.GroupID,
		ChapterNumber:           r.ChapterNumber,
		Version:                 r.Version,
		IsCurrent:               r.IsCurrent != 0,
		FileName:                r.FileName,
		ContentType:             r.ContentType,
		FileSize:                r.FileSize,
		FileSHA256:              r.FileSHA256,
		GeneratedAt:             parseTime(r.GeneratedAt),
		CreatedAt:               parseTime(r.CreatedAt),
		OriginalityScore:        r.OriginalityScr,
		OriginalityFeedback:     r.OriginalityFb,
		OriginalityReport:       r.OriginalityRep,
		CompletenessScore:       r.CompletenessScr,
		CompletenessFeedback:    r.CompletenessFb,
		CompletenessReport:      r.CompletenessRep,
		CitationScore:           r.CitationScr,
		CitationFeedback:        r.CitationFb,
		CitationReport:          r.CitationRep,
		SpellingScore:           r.SpellingScr,
		GrammarScore:            r.GrammarScr,
		SpellingGrammarFeedback: r.LanguageFb,
		SpellingGrammarReport:   r.LanguageRep,
	}
	_ = json.Unmarshal([]byte(r.EnabledSections), &rec.EnabledSections)
	if rec.EnabledSections == nil {
		rec.EnabledSections = []string{}
	}
	return rec
}

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}
