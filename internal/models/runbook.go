package models

import (
	"strings"
	"time"
)

// SourceAzure tags runbooks hosted on Azure Automation.
const SourceAzure = "azure"

// RunbookDocument is the metadata kept for every known automation runbook.
type RunbookDocument struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Source        string     `json:"source"`
	Description   string     `json:"description"`
	OSSupported   []string   `json:"os_supported"`
	Args          []string   `json:"args"`
	Type          string     `json:"type"`
	Tags          []string   `json:"tags"`
	PublishedTime *time.Time `json:"published_time,omitempty"`
	IsIndexed     bool       `json:"is_indexed"`
	CreatedTime   time.Time  `json:"created_time"`
	UpdatedTime   time.Time  `json:"updated_time"`
}

// RunbookIndexUpdate is written back once a runbook has been summarised and embedded.
type RunbookIndexUpdate struct {
	Description string
	OSSupported []string
	Args        []string
}

// ArgBinding pairs a runbook parameter with the resolver that supplies it.
type ArgBinding struct {
	Parameter string
	Function  string
}

// ParseArgBinding splits a stored "parameter:function" entry. Only the first colon separates.
func ParseArgBinding(raw string) ArgBinding {
	param, fn, _ := strings.Cut(raw, ":")
	return ArgBinding{Parameter: strings.TrimSpace(param), Function: strings.TrimSpace(fn)}
}

// String renders the binding in its stored form.
func (b ArgBinding) String() string {
	return b.Parameter + ":" + b.Function
}

// VectorRecord is one embedding row in the vector index.
type VectorRecord struct {
	DocID     string    `json:"doc_id"`
	Vector    []float32 `json:"-"`
	Text      string    `json:"text"`
	FileName  string    `json:"file_name"`
	PageLabel string    `json:"page_label"`
}

// VectorHit is a nearest-neighbour match returned by the vector index.
type VectorHit struct {
	DocID    string  `json:"doc_id"`
	Distance float64 `json:"distance"`
	Text     string  `json:"text"`
}

// RemoteRunbook is a runbook as listed by the automation platform.
type RemoteRunbook struct {
	Name         string
	RunbookType  string
	State        string
	LastModified *time.Time
}
