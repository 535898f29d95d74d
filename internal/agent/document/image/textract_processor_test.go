package image

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/seed-processor/internal/agent/extractor"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

type fakeTextract struct {
	out *textract.AnalyzeDocumentOutput
	err error
	in  *textract.AnalyzeDocumentInput
}

func (f *fakeTextract) AnalyzeDocument(_ context.Context, in *textract.AnalyzeDocumentInput, _ ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error) {
	f.in = in
	return f.out, f.err
}

func line(text string, conf float32) types.Block {
	return types.Block{BlockType: types.BlockTypeLine, Text: aws.String(text), Confidence: aws.Float32(conf)}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.Black)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestTextractExtractLines(t *testing.T) {
	fake := &fakeTextract{out: &textract.AnalyzeDocumentOutput{Blocks: []types.Block{
		line("Photosynthesis converts light", 90),
		line("smudge", 20),
		line("into chemical energy", 80),
	}}}
	ex := newTextractExtractor(fake, &TextractConfig{MinConfidence: 50}, logger.NewTestLogger())

	res, err := ex.Extract(context.Background(), extractor.Source{Data: pngBytes(t, 40, 20), MimeType: "image/png"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "Photosynthesis converts light\ninto chemical energy" {
		t.Fatalf("text = %q", res.Text)
	}
	if res.Confidence < 0.849 || res.Confidence > 0.851 {
		t.Fatalf("confidence = %v", res.Confidence)
	}
	if res.Metadata["width"] != 40 || res.Metadata["line_count"] != 2 || res.Metadata["ocr_backend"] != "textract" {
		t.Fatalf("metadata = %v", res.Metadata)
	}
	if len(fake.in.FeatureTypes) == 0 {
		t.Fatal("feature types must never be empty")
	}
}

func TestTextractNoTextIsEmptyResult(t *testing.T) {
	fake := &fakeTextract{out: &textract.AnalyzeDocumentOutput{}}
	ex := newTextractExtractor(fake, &TextractConfig{}, logger.NewTestLogger())

	_, err := ex.Extract(context.Background(), extractor.Source{Data: pngBytes(t, 4, 4), MimeType: "image/png"})
	if !extractor.IsEmpty(err) {
		t.Fatalf("want EMPTY_RESULT, got %v", err)
	}
}

func TestTextractErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		code      extractor.Code
		retryable bool
	}{
		{"throttled", &types.ThrottlingException{Message: aws.String("slow down")}, extractor.CodeRemoteFailure, true},
		{"bad document", &types.UnsupportedDocumentException{}, extractor.CodeUnsupportedFormat, false},
		{"other", errors.New("boom"), extractor.CodeRemoteFailure, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ex := newTextractExtractor(&fakeTextract{err: tc.err}, &TextractConfig{}, logger.NewTestLogger())
			_, err := ex.Extract(context.Background(), extractor.Source{Data: []byte("x")})
			var ee *extractor.ExtractionError
			if !errors.As(err, &ee) {
				t.Fatalf("want ExtractionError, got %v", err)
			}
			if ee.Code != tc.code || ee.Retryable != tc.retryable {
				t.Fatalf("got code=%s retryable=%v", ee.Code, ee.Retryable)
			}
		})
	}
}

func TestTextractTablesAndForms(t *testing.T) {
	word := func(id, text string) types.Block {
		return types.Block{Id: aws.String(id), BlockType: types.BlockTypeWord, Text: aws.String(text)}
	}
	cell := func(id string, row, col int32, child string) types.Block {
		return types.Block{
			Id: aws.String(id), BlockType: types.BlockTypeCell,
			RowIndex: aws.Int32(row), ColumnIndex: aws.Int32(col),
			Relationships: []types.Relationship{{Type: types.RelationshipTypeChild, Ids: []string{child}}},
		}
	}
	blocks := []types.Block{
		line("Cell cycle", 99),
		{Id: aws.String("t"), BlockType: types.BlockTypeTable, Relationships: []types.Relationship{
			{Type: types.RelationshipTypeChild, Ids: []string{"c1", "c2"}},
		}},
		cell("c1", 1, 1, "w1"), cell("c2", 1, 2, "w2"),
		word("w1", "Phase"), word("w2", "Mitosis"),
		{Id: aws.String("k"), BlockType: types.BlockTypeKeyValueSet, EntityTypes: []types.EntityType{types.EntityTypeKey},
			Relationships: []types.Relationship{
				{Type: types.RelationshipTypeChild, Ids: []string{"w3"}},
				{Type: types.RelationshipTypeValue, Ids: []string{"v"}},
			}},
		{Id: aws.String("v"), BlockType: types.BlockTypeKeyValueSet, EntityTypes: []types.EntityType{types.EntityTypeValue},
			Relationships: []types.Relationship{{Type: types.RelationshipTypeChild, Ids: []string{"w4"}}}},
		word("w3", "Chapter"), word("w4", "4"),
	}
	ex := newTextractExtractor(&fakeTextract{out: &textract.AnalyzeDocumentOutput{Blocks: blocks}},
		&TextractConfig{EnableTable: true, EnableForm: true}, logger.NewTestLogger())

	res, err := ex.Extract(context.Background(), extractor.Source{Data: []byte("%PDF"), MimeType: "application/pdf"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, want := range []string{"Cell cycle", "Phase\tMitosis", "Chapter: 4"} {
		if !strings.Contains(res.Text, want) {
			t.Fatalf("text %q missing %q", res.Text, want)
		}
	}
}

func TestUnsupportedMIME(t *testing.T) {
	ex := newTextractExtractor(&fakeTextract{}, &TextractConfig{}, logger.NewTestLogger())
	_, err := ex.Extract(context.Background(), extractor.Source{Data: []byte("x"), MimeType: "application/zip"})
	var ee *extractor.ExtractionError
	if !errors.As(err, &ee) || ee.Code != extractor.CodeUnsupportedFormat {
		t.Fatalf("want UNSUPPORTED_FORMAT, got %v", err)
	}
	if ee.UserMessage() == "" {
		t.Fatal("unsupported format needs a user message")
	}
}
