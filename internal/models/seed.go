package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ContentKind 内容类型
type ContentKind string

const (
	KindDocument ContentKind = "document"
	KindImage    ContentKind = "image"
	KindAudio    ContentKind = "audio"
	KindText     ContentKind = "text"
	KindVideo    ContentKind = "video"
)

// AllKinds lists every supported content kind.
var AllKinds = []ContentKind{KindDocument, KindImage, KindAudio, KindText, KindVideo}

// HasUpload reports whether the kind arrives as a binary upload. Upload kinds
// get their record created before extraction.
func (k ContentKind) HasUpload() bool {
	switch k {
	case KindDocument, KindImage, KindAudio:
		return true
	default:
		return false
	}
}

func ParseContentKind(s string) (ContentKind, error) {
	k := ContentKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown content kind: %q", s)
}

// ProcessingStatus 处理状态
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusExtracting ProcessingStatus = "extracting"
	StatusAnalyzing  ProcessingStatus = "analyzing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

var statusOrder = map[ProcessingStatus]int{
	StatusPending:    0,
	StatusExtracting: 1,
	StatusAnalyzing:  2,
	StatusCompleted:  3,
	StatusFailed:     4,
}

// Before reports whether s comes earlier than other in the lifecycle.
func (s ProcessingStatus) Before(other ProcessingStatus) bool {
	return statusOrder[s] < statusOrder[other]
}

// Material status values stored under ExtractionMetadata["materials_status"].
const (
	MaterialPending   = "pending"
	MaterialCompleted = "completed"

	MetaMaterialsStatus = "materials_status"
)

// Seed is one persisted piece of ingested study material.
type Seed struct {
	ID                 uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             string            `gorm:"index;not null" json:"user_id"`
	Title              string            `json:"title"`
	ContentType        ContentKind       `gorm:"column:content_type;not null" json:"content_type"`
	SourceRef          string            `json:"source_ref,omitempty"`
	ExtractedText      string            `gorm:"type:text" json:"extracted_text"`
	Explanation        string            `gorm:"type:text" json:"explanation"`
	Intent             string            `json:"intent,omitempty"`
	ProcessingStatus   ProcessingStatus  `gorm:"not null;default:pending;index" json:"processing_status"`
	Confidence         float64           `json:"confidence"`
	ExtractionMetadata datatypes.JSONMap `json:"extraction_metadata,omitempty"`
	ErrorMessage       *string           `json:"error_message,omitempty"`
	Language           string            `json:"language,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func (Seed) TableName() string { return "seeds" }

// NewSeed returns a pending record owned by userID.
func NewSeed(userID, title string, kind ContentKind) *Seed {
	return &Seed{
		ID:                 uuid.New(),
		UserID:             userID,
		Title:              title,
		ContentType:        kind,
		ProcessingStatus:   StatusPending,
		ExtractionMetadata: datatypes.JSONMap{},
	}
}

// Validate checks the completed-record invariant.
func (s *Seed) Validate() error {
	if s.ProcessingStatus != StatusCompleted {
		return nil
	}
	if strings.TrimSpace(s.ExtractedText) == "" {
		return fmt.Errorf("completed seed %s has no extracted text", s.ID)
	}
	if strings.TrimSpace(s.Explanation) == "" {
		return fmt.Errorf("completed seed %s has no explanation", s.ID)
	}
	return nil
}

// MaterialsStatus returns a copy of the per-artifact status map.
func (s *Seed) MaterialsStatus() map[string]string {
	out := map[string]string{}
	raw, ok := s.ExtractionMetadata[MetaMaterialsStatus]
	if !ok {
		return out
	}
	switch m := raw.(type) {
	case map[string]interface{}:
		for k, v := range m {
			if str, ok := v.(string); ok {
				out[k] = str
			}
		}
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// SeedMaterial is a derived study artifact produced by the background worker.
type SeedMaterial struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SeedID    uuid.UUID `gorm:"type:uuid;index;not null" json:"seed_id"`
	UserID    string    `gorm:"index;not null" json:"user_id"`
	Type      string    `gorm:"not null" json:"type"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (SeedMaterial) TableName() string { return "seed_materials" }
