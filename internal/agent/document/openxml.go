package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/feichai0017/seed-processor/internal/agent/extractor"
)

const maxXMLPart = 64 << 20

func openXMLKind(data []byte) Format {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return FormatUnknown
	}
	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			return FormatDOCX
		case strings.HasPrefix(f.Name, "ppt/slides/"):
			return FormatPPTX
		}
	}
	return FormatUnknown
}

// extractOpenXML pulls the text runs out of a .docx body or every .pptx slide.
func extractOpenXML(data []byte, format Format) (*extractor.Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, extractor.Unsupported("corrupt " + string(format))
	}

	var parts []*zip.File
	for _, f := range zr.File {
		switch format {
		case FormatDOCX:
			if f.Name == "word/document.xml" {
				parts = append(parts, f)
			}
		case FormatPPTX:
			if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
				parts = append(parts, f)
			}
		}
	}
	if len(parts) == 0 {
		return nil, extractor.Unsupported("corrupt " + string(format))
	}
	sort.Slice(parts, func(i, j int) bool { return slideLess(parts[i].Name, parts[j].Name) })

	var sections []string
	for _, f := range parts {
		text, err := readXMLText(f)
		if err != nil {
			return nil, extractor.Unsupported("corrupt " + string(format))
		}
		if text != "" {
			sections = append(sections, text)
		}
	}

	res := &extractor.Result{Text: strings.Join(sections, "\n\n"), Confidence: 1.0}
	if format == FormatPPTX {
		res.SetMeta("page_count", len(parts))
	}
	if title := coreTitle(zr); title != "" {
		res.SetMeta("title", title)
	}
	return res, nil
}

// slideLess orders slide2.xml before slide10.xml.
func slideLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func readXMLText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(io.LimitReader(rc, maxXMLPart))
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse %s: %w", f.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func coreTitle(zr *zip.Reader) string {
	for _, f := range zr.File {
		if f.Name != "docProps/core.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return ""
		}
		defer rc.Close()
		var core struct {
			Title string `xml:"title"`
		}
		if err := xml.NewDecoder(io.LimitReader(rc, 1<<20)).Decode(&core); err != nil {
			return ""
		}
		return strings.TrimSpace(core.Title)
	}
	return ""
}
