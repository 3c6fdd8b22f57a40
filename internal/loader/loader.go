// Package loader resolves a document's raw source into plain text.
package loader

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"

	"github.com/PoshanP/ThinkFolio-sub000/internal/splitter"
	"github.com/PoshanP/ThinkFolio-sub000/internal/storage"
	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
)

const maxFetchBytes = 10 << 20 // 10 MiB cap on remote fetches

// Content is the extracted text of a source. PDF sources carry a real page
// map; text and URL sources only have flat text, and page numbers are
// estimated downstream.
type Content struct {
	Pages []splitter.PageContent
	Text  string
}

// Paginated reports whether the source had a real page structure.
func (c *Content) Paginated() bool {
	return len(c.Pages) > 0
}

// Loader fetches and extracts document content from object storage or URLs.
type Loader struct {
	objects    storage.ObjectStore
	httpClient *http.Client
	log        *logger.Logger
}

// New creates a loader. objects may be nil when only URL sources are used.
func New(objects storage.ObjectStore, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.Default()
	}
	return &Loader{
		objects:    objects,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.WithComponent("loader"),
	}
}

// Load resolves a document's source into text.
func (l *Loader) Load(ctx context.Context, doc *storage.Document) (*Content, error) {
	start := time.Now()

	var (
		content *Content
		err     error
	)
	switch doc.SourceType {
	case storage.SourcePDF:
		content, err = l.loadPDF(ctx, doc.SourceRef)
	case storage.SourceText:
		content, err = l.loadText(ctx, doc.SourceRef)
	case storage.SourceURL:
		content, err = l.loadURL(ctx, doc.SourceRef)
	default:
		return nil, fmt.Errorf("unsupported source type %q", doc.SourceType)
	}
	if err != nil {
		return nil, err
	}

	l.log.Info("document loaded",
		"document_id", doc.ID,
		"source_type", doc.SourceType,
		"pages", len(content.Pages),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}

func (l *Loader) loadPDF(ctx context.Context, key string) (*Content, error) {
	data, err := l.download(ctx, key)
	if err != nil {
		return nil, err
	}

	pdf, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer pdf.Close()

	pages := make([]splitter.PageContent, 0, pdf.NumPage())
	for i := 0; i < pdf.NumPage(); i++ {
		text, err := pdf.Text(i)
		if err != nil {
			return nil, fmt.Errorf("failed to extract page %d: %w", i+1, err)
		}
		pages = append(pages, splitter.PageContent{PageNumber: i + 1, Text: text})
	}

	return &Content{Pages: pages}, nil
}

func (l *Loader) loadText(ctx context.Context, key string) (*Content, error) {
	data, err := l.download(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Content{Text: string(data)}, nil
}

func (l *Loader) loadURL(ctx context.Context, rawURL string) (*Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") ||
		strings.Contains(text, "<html") || strings.Contains(text, "<body") {
		text = StripHTML(text)
	}

	return &Content{Text: text}, nil
}

func (l *Loader) download(ctx context.Context, key string) ([]byte, error) {
	if l.objects == nil {
		return nil, fmt.Errorf("object storage not configured")
	}
	data, err := l.objects.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download %q: %w", key, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("object %q is empty", key)
	}
	return data, nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</\w+>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// StripHTML removes markup from an HTML page, keeping readable text with
// paragraph breaks.
func StripHTML(input string) string {
	text := scriptRe.ReplaceAllString(input, "")

	// Preserve block boundaries as newlines before dropping tags.
	for _, tag := range []string{"</p>", "</div>", "</li>", "</h1>", "</h2>", "</h3>", "</tr>", "<br>", "<br/>", "<br />"} {
		text = strings.ReplaceAll(text, tag, tag+"\n")
	}

	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
