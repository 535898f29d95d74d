package pdf

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

const defaultMaxWorkers = 4

// Document is the text layer of a PDF.
type Document struct {
	Pages     []models.DocumentChunk
	PageCount int
	Title     string
	Author    string
}

type Processor struct {
	logger     logger.Logger
	maxWorkers int
}

func NewProcessor(log logger.Logger) *Processor {
	return &Processor{
		logger:     log.Named("pdf"),
		maxWorkers: defaultMaxWorkers,
	}
}

// Process reads every page's text layer concurrently. Pages come back in
// page order; pages with no text layer are skipped.
func (p *Processor) Process(ctx context.Context, content []byte) (*Document, error) {
	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := pdfReader.NumPage()
	doc := &Document{PageCount: numPages}
	doc.Title, doc.Author = info(pdfReader)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)
	chunks := make([]*models.DocumentChunk, numPages)

	// 并行处理每一页
	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}
			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}
			text = cleanText(text)
			if text == "" {
				return nil
			}
			chunks[pageNum-1] = &models.DocumentChunk{
				Content:  text,
				Metadata: map[string]interface{}{"page": pageNum},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range chunks {
		if c != nil {
			doc.Pages = append(doc.Pages, *c)
		}
	}

	p.logger.Debug("pdf text layer read",
		logger.Int("pages", numPages),
		logger.Int("pages_with_text", len(doc.Pages)),
	)
	return doc, nil
}

func info(r *pdf.Reader) (title, author string) {
	trailer := r.Trailer()
	if trailer.IsNull() {
		return "", ""
	}
	inf := trailer.Key("Info")
	if inf.IsNull() {
		return "", ""
	}
	if v := inf.Key("Title"); !v.IsNull() {
		title = v.Text()
	}
	if v := inf.Key("Author"); !v.IsNull() {
		author = v.Text()
	}
	return title, author
}

var (
	hyphenBreak = regexp.MustCompile(`(\p{L})-\n(\p{L})`)
	spaceRun    = regexp.MustCompile(`[ \t\f\v]+`)
	blankRun    = regexp.MustCompile(`\n{3,}`)
)

// cleanText joins hyphenated line breaks and collapses whitespace runs.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = hyphenBreak.ReplaceAllString(text, "$1$2")
	text = spaceRun.ReplaceAllString(text, " ")
	text = blankRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
