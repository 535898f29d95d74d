// Package document extracts text from uploaded files: PDFs (text layer, with
// an OCR fallback for scanned single pages), Office Open XML and plain text.
package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/feichai0017/seed-processor/internal/agent/document/pdf"
	"github.com/feichai0017/seed-processor/internal/agent/extractor"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

// Format is a document container format.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatPPTX    Format = "pptx"
	FormatText    Format = "txt"
	FormatUnknown Format = ""
)

// 添加扩展名到格式的映射
var extToFormat = map[string]Format{
	".pdf":      FormatPDF,
	".docx":     FormatDOCX,
	".pptx":     FormatPPTX,
	".txt":      FormatText,
	".md":       FormatText,
	".markdown": FormatText,
	".csv":      FormatText,
}

var mimeToFormat = map[string]Format{
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   FormatDOCX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FormatPPTX,
	"text/plain":    FormatText,
	"text/markdown": FormatText,
	"text/csv":      FormatText,
}

// DetectFormat sniffs the magic bytes first, then falls back to the MIME type
// and the file extension.
func DetectFormat(data []byte, mimeType, filename string) Format {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return FormatPDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		if f := openXMLKind(data); f != FormatUnknown {
			return f
		}
	}
	if f, ok := mimeToFormat[strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))]; ok {
		return f
	}
	if f, ok := extToFormat[strings.ToLower(filepath.Ext(filename))]; ok {
		return f
	}
	return FormatUnknown
}

// Extractor handles models.KindDocument.
type Extractor struct {
	pdf    *pdf.Processor
	ocr    extractor.Extractor
	logger logger.Logger
}

// NewExtractor builds the document extractor. ocr may be nil, in which case
// scanned PDFs yield an empty result.
func NewExtractor(log logger.Logger, ocr extractor.Extractor) *Extractor {
	return &Extractor{
		pdf:    pdf.NewProcessor(log),
		ocr:    ocr,
		logger: log.Named("document"),
	}
}

func (e *Extractor) Kind() models.ContentKind { return models.KindDocument }

func (e *Extractor) Extract(ctx context.Context, src extractor.Source) (*extractor.Result, error) {
	if len(src.Data) == 0 {
		return nil, extractor.Empty("empty file")
	}

	format := DetectFormat(src.Data, src.MimeType, src.Filename)
	var (
		res *extractor.Result
		err error
	)
	switch format {
	case FormatPDF:
		res, err = e.extractPDF(ctx, src)
	case FormatDOCX:
		res, err = extractOpenXML(src.Data, FormatDOCX)
	case FormatPPTX:
		res, err = extractOpenXML(src.Data, FormatPPTX)
	case FormatText:
		res, err = extractPlain(src.Data)
	default:
		label := strings.TrimPrefix(strings.ToLower(filepath.Ext(src.Filename)), ".")
		if label == "" {
			label = src.MimeType
		}
		return nil, extractor.Unsupported(label)
	}
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(src.Data)
	res.SetMeta("format", string(format))
	res.SetMeta("hash", hex.EncodeToString(hash[:]))
	res.SetMeta("size_bytes", len(src.Data))
	if res.Language == "" {
		res.Language = src.LanguageHint
	}
	return extractor.NonEmpty(res, "no text found in "+string(format))
}

func (e *Extractor) extractPDF(ctx context.Context, src extractor.Source) (*extractor.Result, error) {
	doc, err := e.pdf.Process(ctx, src.Data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, extractor.Remote(ctx.Err(), false)
		}
		e.logger.Warn("Failed to read pdf", logger.Error(err))
		return nil, extractor.Unsupported("unreadable PDF")
	}

	text, _ := extractor.JoinChunks(doc.Pages, "\n\n")
	if strings.TrimSpace(text) == "" && doc.PageCount == 1 && e.ocr != nil {
		e.logger.Info("PDF has no text layer, falling back to OCR")
		res, err := e.ocr.Extract(ctx, extractor.Source{
			Kind:         models.KindImage,
			Data:         src.Data,
			MimeType:     "application/pdf",
			LanguageHint: src.LanguageHint,
		})
		if err != nil {
			return nil, err
		}
		res.SetMeta("page_count", 1)
		res.SetMeta("ocr_fallback", true)
		return res, nil
	}

	res := &extractor.Result{Text: text, Confidence: 1.0}
	res.SetMeta("page_count", doc.PageCount)
	res.SetMeta("pages_with_text", len(doc.Pages))
	if doc.Title != "" {
		res.SetMeta("title", doc.Title)
	}
	if doc.Author != "" {
		res.SetMeta("author", doc.Author)
	}
	return res, nil
}

func extractPlain(data []byte) (*extractor.Result, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return nil, extractor.Unsupported("non UTF-8 text")
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	res := &extractor.Result{Text: strings.TrimSpace(text), Confidence: 1.0}
	res.SetMeta("page_count", 1)
	return res, nil
}
