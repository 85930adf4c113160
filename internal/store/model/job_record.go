package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// JobRecord is the durable, incrementally-enriched record tracking one
// document through the pipeline. It is addressed by (PartitionKey, SortKey)
// for writes and looked up by ExternalJobID for stage handlers. Every stage
// transition merges only the fields that stage owns; unspecified fields
// persist.
type JobRecord struct {
	PartitionKey string `gorm:"primaryKey;column:partition_key;size:64" json:"pk"`
	// SortKey is the ISO-8601 creation timestamp; it doubles as the natural
	// chronological ordering key within a partition.
	SortKey string `gorm:"primaryKey;column:sort_key;size:64" json:"sk"`
	// ExternalJobID is assigned by the recognition engine. The index mirrors
	// the original secondary index: it is a lookup index, not a uniqueness
	// constraint (rejected submissions have no engine job id).
	ExternalJobID string `gorm:"index;column:external_job_id" json:"externalJobId,omitempty"`

	CurrentStep string `gorm:"index;column:current_step" json:"currentStep"`

	FileID           string `gorm:"column:file_id" json:"fileId"`
	FileName         string `gorm:"column:file_name" json:"fileName"`
	FileType         string `gorm:"column:file_type" json:"fileType"`
	URL              string `gorm:"column:url" json:"url"`
	OriginalFilename string `gorm:"column:original_filename" json:"originalFilename"`

	// BlocksLocation points at the immutable raw block dump in blob storage.
	BlocksLocation string `gorm:"column:blocks_location" json:"blocksLocation,omitempty"`

	Form        datatypes.JSON `gorm:"column:form" json:"form,omitempty"`
	TableData   datatypes.JSON `gorm:"column:table_data" json:"table,omitempty"`
	Confidence  float64        `gorm:"column:confidence" json:"confidence,omitempty"`
	Handwritten datatypes.JSON `gorm:"column:handwritten" json:"handwritten,omitempty"`

	Summary        string         `gorm:"column:summary" json:"summary,omitempty"`
	Classification string         `gorm:"column:classification" json:"classification,omitempty"`
	Category       string         `gorm:"column:category" json:"category,omitempty"`
	RelevantDates  datatypes.JSON `gorm:"column:relevant_dates" json:"relevantDates,omitempty"`
	Contact        datatypes.JSON `gorm:"column:contact" json:"contact,omitempty"`
	PagesCount     int            `gorm:"column:pages_count" json:"pagesCount,omitempty"`
	SearchKey      string         `gorm:"index;column:search_key" json:"searchKey,omitempty"`

	LastError string `gorm:"column:last_error" json:"error,omitempty"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Column names used in field-level merges. Stage handlers build update maps
// from these so a typo cannot silently write a new column.
const (
	FieldCurrentStep    = "current_step"
	FieldBlocksLocation = "blocks_location"
	FieldForm           = "form"
	FieldTableData      = "table_data"
	FieldConfidence     = "confidence"
	FieldHandwritten    = "handwritten"
	FieldSummary        = "summary"
	FieldClassification = "classification"
	FieldCategory       = "category"
	FieldRelevantDates  = "relevant_dates"
	FieldContact        = "contact"
	FieldPagesCount     = "pages_count"
	FieldSearchKey      = "search_key"
	FieldLastError      = "last_error"
)

func (JobRecord) TableName() string { return "ocr_jobs" }

func (r JobRecord) String() string {
	val, _ := json.Marshal(r)
	return string(val)
}

// DecodeForm unmarshals the persisted form field mapping. A record without a
// parsed form yields an empty map.
func (r *JobRecord) DecodeForm() (map[string]string, error) {
	form := map[string]string{}
	if len(r.Form) == 0 {
		return form, nil
	}
	if err := json.Unmarshal(r.Form, &form); err != nil {
		return nil, err
	}
	return form, nil
}
