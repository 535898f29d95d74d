package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/feichai0017/seed-processor/internal/models"
	"github.com/feichai0017/seed-processor/pkg/logger"
)

// UploadValidator 上传文件验证器
type UploadValidator struct {
	logger logger.Logger
	config *UploadConfig
}

// UploadConfig 验证器配置
type UploadConfig struct {
	MaxFileSize  map[models.ContentKind]int64 // 最大文件大小（字节）
	AllowedTypes map[models.ContentKind][]string
}

// FileInfo 文件信息
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
	Data      []byte `json:"-"`
}

func DefaultUploadConfig() *UploadConfig {
	return &UploadConfig{
		MaxFileSize: map[models.ContentKind]int64{
			models.KindDocument: 50 << 20,
			models.KindImage:    20 << 20,
			models.KindAudio:    25 << 20,
		},
		AllowedTypes: map[models.ContentKind][]string{
			models.KindDocument: {".pdf", ".docx", ".pptx", ".txt", ".md", ".markdown", ".csv"},
			models.KindImage:    {".jpg", ".jpeg", ".png", ".tiff", ".tif", ".webp", ".heic"},
			models.KindAudio:    {".mp3", ".m4a", ".mp4", ".mpeg", ".mpga", ".wav", ".webm", ".ogg", ".flac"},
		},
	}
}

func NewUploadValidator(log logger.Logger, config *UploadConfig) *UploadValidator {
	if config == nil {
		config = DefaultUploadConfig()
	}
	return &UploadValidator{
		logger: log.Named("upload"),
		config: config,
	}
}

// ValidateFile checks size and extension, then reads the file into memory.
func (v *UploadValidator) ValidateFile(kind models.ContentKind, file *multipart.FileHeader) (*FileInfo, error) {
	info := &FileInfo{
		Filename:  filepath.Base(file.Filename),
		Size:      file.Size,
		Extension: strings.ToLower(filepath.Ext(file.Filename)),
	}

	if err := v.checkBasics(kind, info); err != nil {
		return nil, err
	}

	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	limit := v.config.MaxFileSize[kind]
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, tooLarge(int64(len(data)), limit)
	}

	hash := sha256.Sum256(data)
	info.Data = data
	info.Size = int64(len(data))
	info.Hash = hex.EncodeToString(hash[:])
	info.MimeType = detectMimeType(data, file.Header.Get("Content-Type"))

	v.logger.Debug("upload accepted",
		logger.String("kind", string(kind)),
		logger.String("filename", info.Filename),
		logger.String("mime", info.MimeType),
		logger.Int64("size", info.Size),
	)
	return info, nil
}

// 基本验证
func (v *UploadValidator) checkBasics(kind models.ContentKind, info *FileInfo) error {
	allowed, ok := v.config.AllowedTypes[kind]
	if !ok {
		return fmt.Errorf("no upload rules for kind %s", kind)
	}
	if limit := v.config.MaxFileSize[kind]; limit > 0 && info.Size > limit {
		return tooLarge(info.Size, limit)
	}
	for _, ext := range allowed {
		if ext == info.Extension {
			return nil
		}
	}
	return &ValidationError{
		Code:    CodeInvalidFileType,
		Field:   "file",
		Message: fmt.Sprintf("Files of type %s can't be used here. Supported types: %s.", displayExt(info.Extension), strings.Join(allowed, ", ")),
	}
}

func tooLarge(size, limit int64) *ValidationError {
	return &ValidationError{
		Code:    CodeFileTooLarge,
		Field:   "file",
		Message: fmt.Sprintf("This file is %s, but the maximum allowed is %s.", humanize.Bytes(uint64(size)), humanize.Bytes(uint64(limit))),
	}
}

func displayExt(ext string) string {
	if ext == "" {
		return "(no extension)"
	}
	return ext
}

// detectMimeType sniffs the content type. A specific client-declared type
// wins over the sniffed fallback types.
func detectMimeType(data []byte, declared string) string {
	sniffed := http.DetectContentType(data)
	declared = strings.TrimSpace(strings.Split(declared, ";")[0])
	if declared != "" && declared != "application/octet-stream" &&
		(sniffed == "application/octet-stream" || strings.HasPrefix(sniffed, "text/plain") || sniffed == "application/zip") {
		return declared
	}
	return strings.Split(sniffed, ";")[0]
}
