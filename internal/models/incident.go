package models

import (
	"fmt"
	"strings"
	"time"
)

// Incident mirrors a ticketing-system incident and the runbook outcome recorded against it.
type Incident struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	SysID           string    `json:"sys_id"`
	Subject         string    `json:"subject"`
	Description     string    `json:"description"`
	Severity        string    `json:"severity"`
	Status          string    `json:"status"`
	RunbookExecuted bool      `json:"runbook_executed"`
	RunbookStatus   string    `json:"runbook_status"`
	RunbookName     string    `json:"runbook_name"`
	RunbookLink     string    `json:"runbook_link"`
	RunbookOutput   string    `json:"runbook_output"`
	CreatedTime     time.Time `json:"created_time"`
	UpdatedTime     time.Time `json:"updated_time"`
}

// IncidentRequest is a ticket as handed to the selection pipeline.
type IncidentRequest struct {
	SysID            string `json:"sys_id"`
	ShortDescription string `json:"short_description"`
	CallerID         string `json:"caller_id"`
	Description      string `json:"description"`
	Severity         string `json:"severity"`
	Status           string `json:"status"`
}

// IncidentPayload is the ServiceNow webhook body. Every key must be present but only
// sys_id must be non-empty.
type IncidentPayload struct {
	SysID            string  `json:"sys_id" binding:"required"`
	ShortDescription *string `json:"short_description" binding:"required"`
	CallerID         *string `json:"caller_id" binding:"required"`
	Description      *string `json:"description" binding:"required"`
	Severity         *string `json:"severity" binding:"required"`
	Status           *string `json:"status" binding:"required"`
}

// Request flattens the payload.
func (p IncidentPayload) Request() IncidentRequest {
	return IncidentRequest{
		SysID:            p.SysID,
		ShortDescription: deref(p.ShortDescription),
		CallerID:         deref(p.CallerID),
		Description:      deref(p.Description),
		Severity:         deref(p.Severity),
		Status:           deref(p.Status),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RunbookOutcome is written onto an incident when a runbook run settles.
type RunbookOutcome struct {
	Status string
	Name   string
	Link   string
	Output string
}

// IncidentURL derives the dedupe key for a ticket from its instance and sys_id.
func IncidentURL(instanceURL, sysID string) string {
	host := strings.TrimRight(instanceURL, "/")
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	return fmt.Sprintf("https://%s/nav_to.do?uri=incident.do?sys_id=%s", host, sysID)
}
