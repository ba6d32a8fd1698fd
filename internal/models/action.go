package models

// Action function names understood by the orchestrator.
const (
	ActionSchedule = "ScheduleTaskForExecution"
	ActionTrigger  = "TriggerTaskImmediately"

	// actionScheduleLegacy is the misspelt name older prompts produced.
	actionScheduleLegacy = "SchdeuleTaskForExecution"
)

// Schedule argument keys.
const (
	ArgStartTime  = "start_time"
	ArgFrequency  = "frequency"
	ArgInterval   = "interval"
	ArgTimeZone   = "time_zone"
	ArgExpiryTime = "expiry_time"
)

// ActionPlan is the model's decision on how to run a selected runbook for one target.
type ActionPlan struct {
	FuncName  string            `json:"func_name"`
	Args      map[string]string `json:"args"`
	Ambiguity string            `json:"ambiguity"`
}

// Kind normalises FuncName, returning "" for anything unrecognised.
func (p ActionPlan) Kind() string {
	switch p.FuncName {
	case ActionSchedule, actionScheduleLegacy:
		return ActionSchedule
	case ActionTrigger:
		return ActionTrigger
	default:
		return ""
	}
}

// Ambiguous reports whether the model flagged the plan as unsafe to run.
func (p ActionPlan) Ambiguous() bool {
	return p.Ambiguity != ""
}
