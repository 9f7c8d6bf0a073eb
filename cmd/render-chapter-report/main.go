package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joelkehle/chapter-review/internal/httpapi"
	"github.com/joelkehle/chapter-review/internal/review"
	"github.com/joelkehle/chapter-review/internal/sections"
	"github.com/joelkehle/chapter-review/internal/store"
)

// render-chapter-report rebuilds the markdown (and optionally PDF) report for
// a stored chapter version without re-running any analysis.
func main() {
	dbPath := flag.String("db", "./data/chapter-review.db", "Path to the chapter report database")
	groupID := flag.String("group", "", "Group identifier")
	chapter := flag.Int("chapter", 0, "Chapter number")
	version := flag.Int("version", 0, "Version to render (defaults to the current version)")
	sectionsFile := flag.String("sections", "", "Optional YAML section catalog")
	outputPath := flag.String("output", "", "Path to write markdown (defaults to stdout)")
	pdfPath := flag.String("pdf", "", "Optional path to write a PDF rendering")
	webDir := flag.String("web-dir", "web", "Directory containing style.css for PDF output")
	flag.Parse()

	if *groupID == "" {
		log.Fatal("missing required -group")
	}
	if !sections.ValidChapter(*chapter) {
		log.Fatalf("-chapter must be between %d and %d", sections.MinChapter, sections.MaxChapter)
	}

	catalog, err := sections.Load(*sectionsFile)
	if err != nil {
		log.Fatalf("load sections: %v", err)
	}
	st, err := store.NewSQLiteStore(*dbPath, nil)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	var rec review.ChapterRecord
	if *version > 0 {
		rec, err = st.Get(ctx, *groupID, *chapter, *version)
	} else {
		rec, err = st.Current(ctx, *groupID, *chapter)
	}
	if errors.Is(err, store.ErrNotFound) {
		log.Fatalf("no stored report for group %q chapter %d", *groupID, *chapter)
	}
	if err != nil {
		log.Fatalf("load report: %v", err)
	}

	markdown := review.BuildMarkdown(rec, review.NewProjector(catalog).Project(rec))
	if err := writeMarkdown(*outputPath, markdown); err != nil {
		log.Fatalf("write markdown: %v", err)
	}
	if *pdfPath != "" {
		if err := writePDF(ctx, *pdfPath, *webDir, markdown); err != nil {
			log.Fatalf("write pdf: %v", err)
		}
	}
}

func writeMarkdown(outputPath, markdown string) error {
	if outputPath == "" {
		_, err := fmt.Print(markdown)
		return err
	}
	return os.WriteFile(outputPath, []byte(markdown), 0o644)
}

func writePDF(ctx context.Context, path, webDir, markdown string) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	pdf, err := httpapi.NewChromiumPDFRenderer(webDir).Render(ctx, markdown)
	if err != nil {
		return err
	}
	return os.WriteFile(path, pdf, 0o644)
}
