package engine

import (
	"fmt"
	"strings"

	"github.com/akhi19-dev/incident-agent/internal/models"
)

const runbookAnalysisPrompt = `You are an expert runbook analyst with extensive experience in IT Service Management (ITSM) for large enterprises. Analyze the provided runbook content and extract the following details.

1. description: a concise summary of what the script does.
2. issues_it_resolves: the issues, error conditions or operational failures this runbook is meant to fix.
3. array_of_os: every operating system the runbook is designed to run on.
4. array_of_args: the parameters that must be passed to the runbook from outside to execute it correctly. Parameters defined or set inside the runbook itself do not count. Return an empty list when none are required.
   For each parameter set function_to_extract to a function from the supplied list whose name and description clearly match the parameter. If the relationship is not clear leave it empty. Example: for a "ServerID" argument return getServerID() only if such a function is listed.
5. user_queries: the top 5 queries an incident-management user might ask that this runbook would resolve, for example "How do I reset the password for a virtual machine?" or "Why is the server not responding after the update?".`

const vmNamesPrompt = `You are an expert system and IT analyst. Extract every virtual machine name explicitly mentioned in the user's description.

Only include a VM name if you are certain about it and there is no ambiguity. Generic, placeholder or templated references such as "the VM", "VM X", "a virtual machine", "VirtualMachine X" or "VM with 4 cores" must be omitted.
Include: "WebServer1", "DBServer", "AppVM".
Return an empty vm_names array when nothing qualifies.`

const runbookSelectionPrompt = `You are a virtual assistant that matches incident descriptions to the most relevant runbook from a set of candidates.

Compare the nature and symptoms of the incident against each candidate runbook description. Weigh keywords, technical indicators and how specifically each runbook addresses the issue. When several are relevant pick the one most directly related.
For example a VM performance incident should match a runbook addressing VM performance or diagnostics, and a disk space incident a runbook that frees disk space.

Return the doc_id of the runbook to execute and, in description, why it addresses the incident. If no runbook fits, return doc_id as "" and explain why in description.

Candidates are listed as:
1. doc_id: <runbook identifier>
   description: <what the runbook does>`

const actionClassificationPrompt = `You decide how an automation runbook should be executed for an incident.

Choose exactly one func_name:
- TriggerTaskImmediately: run the runbook now. Leave every args field empty.
- ScheduleTaskForExecution: the ticket asks for the work to happen later or on a recurrence. Fill args.start_time (ISO-8601 with offset), args.frequency (one of OneTime, Minute, Hour, Day, Week, Month), args.interval (a positive whole number as text), args.time_zone (IANA name, default UTC) and optionally args.expiry_time (ISO-8601).

If the ticket does not make clear which of the two is wanted, or a schedule is wanted but its start time or recurrence cannot be determined, explain why in ambiguity and leave func_name empty. Otherwise leave ambiguity empty.`

const logAnalysisPrompt = `You are a log analysis expert. You are given machine logs. Identify log lines that could explain either of these issues:
1. The machine is experiencing high CPU usage.
2. The machine is running low on disk space.

Skim each line. Look for warnings or errors mentioning CPU load, processes using excessive CPU time, CPU temperature, disk usage thresholds, out-of-space errors or failed writes due to insufficient storage.
For each issue found return the potential issue, the log lines that explain it and a short summary of why. Omit issues that are not found. Return an empty issues array when nothing relevant is present.`

// RunbookAnalysis is the structured summary extracted from runbook source.
type RunbookAnalysis struct {
	Description      string         `json:"description" description:"Concise summary of what the runbook does" validate:"required"`
	IssuesItResolves []string       `json:"issues_it_resolves"`
	ArrayOfOS        []string       `json:"array_of_os"`
	ArrayOfArgs      []ArgumentSpec `json:"array_of_args" validate:"dive"`
	UserQueries      []string       `json:"user_queries"`
}

// ArgumentSpec pairs a runbook parameter with the function that resolves it.
type ArgumentSpec struct {
	Name              string `json:"name" validate:"required"`
	FunctionToExtract string `json:"function_to_extract"`
}

type runbookSelection struct {
	DocID       string `json:"doc_id" description:"Identifier of the chosen runbook, empty when none fits"`
	Description string `json:"description" description:"Why the chosen runbook addresses the incident"`
}

type vmNamesResponse struct {
	VMNames []string `json:"vm_names"`
}

type actionClassification struct {
	FuncName  string         `json:"func_name" description:"ScheduleTaskForExecution, TriggerTaskImmediately or empty when ambiguous"`
	Args      scheduleFields `json:"args"`
	Ambiguity string         `json:"ambiguity"`
}

type scheduleFields struct {
	StartTime  string `json:"start_time"`
	Frequency  string `json:"frequency"`
	Interval   string `json:"interval"`
	TimeZone   string `json:"time_zone"`
	ExpiryTime string `json:"expiry_time"`
}

// plan converts the model answer into an ActionPlan, dropping empty args.
func (a actionClassification) plan() models.ActionPlan {
	args := make(map[string]string)
	for key, value := range map[string]string{
		models.ArgStartTime:  a.Args.StartTime,
		models.ArgFrequency:  a.Args.Frequency,
		models.ArgInterval:   a.Args.Interval,
		models.ArgTimeZone:   a.Args.TimeZone,
		models.ArgExpiryTime: a.Args.ExpiryTime,
	} {
		if v := strings.TrimSpace(value); v != "" {
			args[key] = v
		}
	}
	return models.ActionPlan{FuncName: strings.TrimSpace(a.FuncName), Args: args, Ambiguity: strings.TrimSpace(a.Ambiguity)}
}

// LogIssue is one potential problem found in a log chunk.
type LogIssue struct {
	PotentialIssue string `json:"potential_issue" validate:"required"`
	LogItems       string `json:"log_items"`
	Insights       string `json:"insights"`
}

// LogAnalysis is the structured result of analysing a log chunk.
type LogAnalysis struct {
	Issues []LogIssue `json:"issues" validate:"dive"`
}

func analysisUserMessage(content, functions string) string {
	return fmt.Sprintf("Runbook content: %s\n\nList of functions with description:\n%s", content, functions)
}

func vmNamesUserMessage(description string) string {
	return "Description: " + description
}

func selectionUserMessage(description string, hits []models.VectorHit) string {
	var b strings.Builder
	b.WriteString("Runbooks:\n")
	for i, hit := range hits {
		fmt.Fprintf(&b, "%d. doc_id: %s\n   description: %s\n", i+1, hit.DocID, hit.Text)
	}
	b.WriteString("\nIncident description: ")
	b.WriteString(description)
	return b.String()
}

func classificationUserMessage(ticket, runbookDescription, rationale, entityHint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket description: %s\n\nSelected runbook description: %s\n", ticket, runbookDescription)
	if rationale != "" {
		fmt.Fprintf(&b, "\nWhy it was selected: %s\n", rationale)
	}
	if entityHint != "" {
		fmt.Fprintf(&b, "\n%s\n", entityHint)
	}
	return b.String()
}

func entityHint(entity string) string {
	return "Focus only on actions to be taken for entity " + entity
}
