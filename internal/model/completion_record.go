package model

import (
	"time"

	"gorm.io/datatypes"
)

// CompletionRecord is the audit row for one finished /api/complete request.
type CompletionRecord struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	RequestID        string         `gorm:"size:36;not null;uniqueIndex" json:"request_id"`
	Model            string         `gorm:"size:128;not null;index" json:"model"`
	Message          string         `gorm:"type:text;not null" json:"message"`
	Prompt           string         `gorm:"type:longtext" json:"prompt"`
	Response         string         `gorm:"type:longtext" json:"response"`
	SourceIDs        datatypes.JSON `json:"source_ids"`
	UsedRetrieval    bool           `json:"used_retrieval"`
	Temperature      float64        `json:"temperature"`
	MaxTokens        int            `json:"max_tokens"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TotalTokens      int            `json:"total_tokens"`
	DurationMS       int64          `json:"duration_ms"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
}
