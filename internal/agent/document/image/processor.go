package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/seed-processor/internal/agent/extractor"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

var supportedMIME = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/tiff": true,
	"image/webp": true,
	"image/heic": true,
}

// SupportedMIME reports whether an image MIME type can be OCR'd.
func SupportedMIME(mimeType string) bool {
	return supportedMIME[strings.ToLower(mimeType)]
}

// TesseractOptions 处理选项
type TesseractOptions struct {
	Languages     []string
	PageSegMode   gosseract.PageSegMode
	MinConfidence float64
	Preprocess    *PreprocessConfig
}

// TesseractExtractor runs a local tesseract engine. A new client is created
// per call since gosseract clients are not safe for concurrent use.
type TesseractExtractor struct {
	logger        logger.Logger
	preprocessors []ImagePreprocessor
	config        *TesseractOptions
}

func NewTesseractExtractor(log logger.Logger, opts *TesseractOptions) (*TesseractExtractor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts == nil {
		opts = &TesseractOptions{}
	}
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"eng"}
	}
	if opts.PageSegMode == 0 {
		opts.PageSegMode = gosseract.PSM_AUTO
	}
	if opts.Preprocess == nil {
		opts.Preprocess = DefaultPreprocessConfig()
	}

	return &TesseractExtractor{
		logger:        log.Named("tesseract"),
		preprocessors: Pipeline(opts.Preprocess),
		config:        opts,
	}, nil
}

func (p *TesseractExtractor) Kind() models.ContentKind { return models.KindImage }

func (p *TesseractExtractor) Extract(ctx context.Context, src extractor.Source) (*extractor.Result, error) {
	if len(src.Data) == 0 {
		return nil, extractor.Empty("no image data")
	}
	if src.MimeType != "" && !SupportedMIME(src.MimeType) {
		return nil, extractor.Unsupported(src.MimeType)
	}

	img, format, err := image.Decode(bytes.NewReader(src.Data))
	if err != nil {
		return nil, extractor.Unsupported("undecodable image")
	}

	processed, err := Apply(img, p.preprocessors)
	if err != nil {
		return nil, extractor.Remote(err, false)
	}

	if err := ctx.Err(); err != nil {
		return nil, extractor.Remote(err, false)
	}

	text, confidence, words, err := p.performOCR(processed)
	if err != nil {
		return nil, extractor.Remote(err, false)
	}

	bounds := img.Bounds()
	res := &extractor.Result{
		Text:       strings.TrimSpace(text),
		Confidence: confidence,
		Language:   src.LanguageHint,
	}
	res.SetMeta("ocr_backend", "tesseract")
	res.SetMeta("format", format)
	res.SetMeta("width", bounds.Dx())
	res.SetMeta("height", bounds.Dy())
	res.SetMeta("line_count", strings.Count(res.Text, "\n")+1)
	res.SetMeta("word_count", words)

	return extractor.NonEmpty(res, "no text detected in image")
}

// performOCR returns the text, the mean word confidence in [0,1] and the
// number of words above the confidence floor.
func (p *TesseractExtractor) performOCR(img image.Image) (string, float64, int, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(p.config.Languages...); err != nil {
		return "", 0, 0, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(p.config.PageSegMode); err != nil {
		return "", 0, 0, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		return "", 0, 0, fmt.Errorf("failed to encode image: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", 0, 0, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to get text: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		p.logger.Warn("Failed to get bounding boxes", logger.Error(err))
		return text, 0, 0, nil
	}

	var total float64
	var n int
	for _, box := range boxes {
		if box.Confidence >= p.config.MinConfidence {
			total += box.Confidence
			n++
		}
	}
	if n == 0 {
		return text, 0, 0, nil
	}
	return text, total / float64(n) / 100, n, nil
}

// New picks the OCR backend named by backend ("textract" or "tesseract").
func New(ctx context.Context, backend string, tcfg *TextractConfig, topts *TesseractOptions, log logger.Logger) (extractor.Extractor, error) {
	switch strings.ToLower(backend) {
	case "", "textract":
		return NewTextractExtractor(ctx, tcfg, log)
	case "tesseract":
		return NewTesseractExtractor(log, topts)
	default:
		return nil, fmt.Errorf("unknown OCR backend: %s", backend)
	}
}
