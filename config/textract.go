package config

import (
	"sync"
)

var (
	textractOnce   sync.Once
	textractConfig *TextractConfig
)

// TextractConfig also selects the OCR backend used for images and scanned PDFs.
type TextractConfig struct {
	Backend       string // "textract" or "tesseract"
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
	Languages     []string // tesseract language packs
}

func GetTextractConfig() *TextractConfig {
	textractOnce.Do(func() {
		loadEnv()
		textractConfig = &TextractConfig{
			Backend:       getEnv("OCR_BACKEND", "textract"),
			Region:        getEnv("AWS_REGION", "us-east-1"),
			Endpoint:      getEnv("AWS_ENDPOINT", ""),
			AccessKey:     getEnv("AWS_ACCESS_KEY", ""),
			SecretKey:     getEnv("AWS_SECRET_KEY", ""),
			MinConfidence: float32(getEnvInt("OCR_MIN_CONFIDENCE", 60)),
			Languages:     splitList(getEnv("TESSERACT_LANGUAGES", "eng")),
		}
	})
	return textractConfig
}
