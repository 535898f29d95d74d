package models

// DocumentChunk is one unit of extracted text (a page, an OCR line block, a
// caption segment) before the chunks are merged into a seed's text.
type DocumentChunk struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}
