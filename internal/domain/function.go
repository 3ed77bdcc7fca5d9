package domain

import "time"

// Function is a read-only catalog entry (C6). The core never writes to
// these rows; they are provisioned out of band.
type Function struct {
	ID            string    `json:"id"`
	Language      string    `json:"language"`
	Title         string    `json:"title"`
	LanguageTitle string    `json:"language_title"`
	Description   string    `json:"description,omitempty"`
	Schema        string    `json:"schema,omitempty"`
	Examples      string    `json:"examples,omitempty"`
	Version       int       `json:"version"`
	Tags          []string  `json:"tags,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ScriptRecord is the script body that parallels a Function entry,
// consulted by the Dispatch Engine (through the Function Catalog) when an
// Initialize request omits script_content.
type ScriptRecord struct {
	FunctionID string `json:"function_id"`
	Content    string `json:"content"`
}
