package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/seed-processor/internal/agent/extractor"
	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

// textractAPI is the slice of the Textract client the extractor calls.
type textractAPI interface {
	AnalyzeDocument(ctx context.Context, in *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

type TextractExtractor struct {
	client textractAPI
	logger logger.Logger
	config *TextractConfig
}

type TextractConfig struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
	EnableTable   bool
	EnableForm    bool
}

func (c *TextractConfig) featureTypes() []types.FeatureType {
	var ft []types.FeatureType
	if c.EnableTable {
		ft = append(ft, types.FeatureTypeTables)
	}
	if c.EnableForm {
		ft = append(ft, types.FeatureTypeForms)
	}
	// AnalyzeDocument rejects an empty feature list
	if len(ft) == 0 {
		ft = append(ft, types.FeatureTypeLayout)
	}
	return ft
}

func NewTextractExtractor(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractExtractor, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newTextractExtractor(client, cfg, log), nil
}

func newTextractExtractor(client textractAPI, cfg *TextractConfig, log logger.Logger) *TextractExtractor {
	return &TextractExtractor{
		client: client,
		logger: log.Named("textract"),
		config: cfg,
	}
}

func (p *TextractExtractor) Kind() models.ContentKind { return models.KindImage }

// Extract sends the bytes to AnalyzeDocument. Single page PDFs are accepted
// too, which is how scanned documents get OCR'd.
func (p *TextractExtractor) Extract(ctx context.Context, src extractor.Source) (*extractor.Result, error) {
	if len(src.Data) == 0 {
		return nil, extractor.Empty("no image data")
	}
	if src.MimeType != "" && !SupportedMIME(src.MimeType) && src.MimeType != "application/pdf" {
		return nil, extractor.Unsupported(src.MimeType)
	}

	out, err := p.client.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document:     &types.Document{Bytes: src.Data},
		FeatureTypes: p.config.featureTypes(),
	})
	if err != nil {
		var badDoc *types.UnsupportedDocumentException
		if errors.As(err, &badDoc) {
			return nil, extractor.Unsupported("image")
		}
		return nil, extractor.Remote(fmt.Errorf("failed to analyze document: %w", err), retryableAWS(err))
	}

	lines, confidence := p.processBlocks(out.Blocks)
	chunks := []models.DocumentChunk{{
		Content:  strings.Join(lines, "\n"),
		Metadata: map[string]interface{}{"type": "text"},
	}}

	if p.config.EnableTable {
		for _, table := range p.processTables(out.Blocks) {
			chunks = append(chunks, models.DocumentChunk{
				Content:  table.Content(),
				Metadata: map[string]interface{}{"type": "table", "rows": table.Rows, "cols": table.Cols},
			})
		}
	}
	if p.config.EnableForm {
		for _, form := range p.processForms(out.Blocks) {
			chunks = append(chunks, models.DocumentChunk{
				Content:  fmt.Sprintf("%s: %s", form.Key, form.Value),
				Metadata: map[string]interface{}{"type": "form", "key": form.Key},
			})
		}
	}

	text, _ := extractor.JoinChunks(chunks, "\n\n")
	res := &extractor.Result{
		Text:       text,
		Confidence: confidence,
		Language:   src.LanguageHint,
	}
	res.SetMeta("ocr_backend", "textract")
	res.SetMeta("line_count", len(lines))
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(src.Data)); err == nil {
		res.SetMeta("width", cfg.Width)
		res.SetMeta("height", cfg.Height)
	}

	p.logger.Debug("textract finished",
		logger.Int("lines", len(lines)),
		logger.Float64("confidence", confidence),
	)
	return extractor.NonEmpty(res, "no text detected in image")
}

// processBlocks returns LINE texts above the confidence floor and their mean
// confidence in [0,1].
func (p *TextractExtractor) processBlocks(blocks []types.Block) ([]string, float64) {
	var texts []string
	var total float64
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeLine || block.Confidence == nil || block.Text == nil {
			continue
		}
		if *block.Confidence < p.config.MinConfidence {
			continue
		}
		texts = append(texts, *block.Text)
		total += float64(*block.Confidence)
	}
	if len(texts) == 0 {
		return nil, 0
	}
	return texts, total / float64(len(texts)) / 100
}

type Table struct {
	Rows  int
	Cols  int
	Cells [][]string
}

// Content renders the table as tab separated rows.
func (t Table) Content() string {
	rows := make([]string, 0, len(t.Cells))
	for _, row := range t.Cells {
		rows = append(rows, strings.Join(row, "\t"))
	}
	return strings.Join(rows, "\n")
}

func (p *TextractExtractor) processTables(blocks []types.Block) []Table {
	byID := indexBlocks(blocks)
	var tables []Table

	for _, block := range blocks {
		if block.BlockType != types.BlockTypeTable {
			continue
		}
		var cells []types.Block
		var rows, cols int32
		for _, rel := range block.Relationships {
			if rel.Type != types.RelationshipTypeChild {
				continue
			}
			for _, id := range rel.Ids {
				cell, ok := byID[id]
				if !ok || cell.BlockType != types.BlockTypeCell || cell.RowIndex == nil || cell.ColumnIndex == nil {
					continue
				}
				cells = append(cells, cell)
				rows = max(rows, *cell.RowIndex)
				cols = max(cols, *cell.ColumnIndex)
			}
		}
		if rows == 0 || cols == 0 {
			continue
		}

		t := Table{Rows: int(rows), Cols: int(cols), Cells: make([][]string, rows)}
		for i := range t.Cells {
			t.Cells[i] = make([]string, cols)
		}
		for _, cell := range cells {
			t.Cells[*cell.RowIndex-1][*cell.ColumnIndex-1] = childText(cell.Relationships, byID)
		}
		tables = append(tables, t)
	}
	return tables
}

type FormField struct {
	Key   string
	Value string
}

func (p *TextractExtractor) processForms(blocks []types.Block) []FormField {
	byID := indexBlocks(blocks)
	var forms []FormField

	for _, block := range blocks {
		if block.BlockType != types.BlockTypeKeyValueSet || len(block.EntityTypes) == 0 || block.EntityTypes[0] != types.EntityTypeKey {
			continue
		}
		key := childText(block.Relationships, byID)
		var value string
		for _, rel := range block.Relationships {
			if rel.Type != types.RelationshipTypeValue {
				continue
			}
			for _, id := range rel.Ids {
				if vb, ok := byID[id]; ok {
					value = childText(vb.Relationships, byID)
				}
			}
		}
		if key != "" && value != "" {
			forms = append(forms, FormField{Key: key, Value: value})
		}
	}
	return forms
}

func indexBlocks(blocks []types.Block) map[string]types.Block {
	byID := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if b.Id != nil {
			byID[*b.Id] = b
		}
	}
	return byID
}

func childText(rels []types.Relationship, byID map[string]types.Block) string {
	var words []string
	for _, rel := range rels {
		if rel.Type != types.RelationshipTypeChild {
			continue
		}
		for _, id := range rel.Ids {
			if b, ok := byID[id]; ok && b.Text != nil {
				words = append(words, *b.Text)
			}
		}
	}
	return strings.Join(words, " ")
}

// retryableAWS treats throttling and 5xx responses as transient.
func retryableAWS(err error) bool {
	var throttled *types.ThrottlingException
	var limit *types.ProvisionedThroughputExceededException
	if errors.As(err, &throttled) || errors.As(err, &limit) {
		return true
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}
