package models

// Action is the classification a run assigned to an incident.
type Action string

const (
	ActionNew                Action = "new"
	ActionResolved           Action = "resolved"
	ActionMonitoring         Action = "monitoring"
	ActionStatusChange       Action = "status_change"
	ActionStatusChangeSilent Action = "status_change_silent"
	ActionUnchanged          Action = "unchanged"
	ActionFiltered           Action = "filtered"
)

// ProcessResult describes what a run decided for one incident.
type ProcessResult struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Impact       string  `json:"impact"`
	Status       string  `json:"status"`
	StoredStatus *string `json:"storedStatus"`
	Action       Action  `json:"action"`
}
