package models

import "time"

// Incident lifecycle statuses as reported by the status page.
const (
	StatusInvestigating = "investigating"
	StatusIdentified    = "identified"
	StatusMonitoring    = "monitoring"
	StatusResolved      = "resolved"
)

// Impact levels, least to most severe.
const (
	ImpactNone     = "none"
	ImpactMinor    = "minor"
	ImpactMajor    = "major"
	ImpactCritical = "critical"
)

var statusPriority = map[string]int{
	StatusInvestigating: 1,
	StatusIdentified:    2,
	StatusMonitoring:    3,
	StatusResolved:      4,
}

var impactPriority = map[string]int{
	ImpactNone:     0,
	ImpactMinor:    1,
	ImpactMajor:    2,
	ImpactCritical: 3,
}

// StatusPriority orders lifecycle statuses; unknown values rank 0.
func StatusPriority(status string) int {
	return statusPriority[status]
}

// ImpactPriority orders impact levels; unknown values rank as none.
func ImpactPriority(impact string) int {
	return impactPriority[impact]
}

// ValidImpact reports whether impact is one of the known levels.
func ValidImpact(impact string) bool {
	_, ok := impactPriority[impact]
	return ok
}

// Incident is a status-page incident as fetched from the source.
type Incident struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Status     string           `json:"status"`
	Impact     string           `json:"impact"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  *time.Time       `json:"updated_at,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
	Shortlink  string           `json:"shortlink,omitempty"`
	Updates    []IncidentUpdate `json:"incident_updates"`
	Components []Component      `json:"components,omitempty"`
}

// IncidentUpdate is one free-text entry in an incident's history.
type IncidentUpdate struct {
	Body      string     `json:"body"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	DisplayAt *time.Time `json:"display_at,omitempty"`
}

// Component is a piece of the service affected by an incident.
type Component struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// Started returns started_at, falling back to created_at.
func (i Incident) Started() time.Time {
	if i.StartedAt != nil && !i.StartedAt.IsZero() {
		return *i.StartedAt
	}
	return i.CreatedAt
}

// LatestUpdate returns the most recent update. Updates are newest first.
func (i Incident) LatestUpdate() (IncidentUpdate, bool) {
	if len(i.Updates) == 0 {
		return IncidentUpdate{}, false
	}
	return i.Updates[0], true
}

// UpdateWithStatus returns the first (newest) update carrying status.
func (i Incident) UpdateWithStatus(status string) (IncidentUpdate, bool) {
	for _, u := range i.Updates {
		if u.Status == status {
			return u, true
		}
	}
	return IncidentUpdate{}, false
}

// ComponentNames lists affected component names, skipping blanks.
func (i Incident) ComponentNames() []string {
	names := make([]string, 0, len(i.Components))
	for _, c := range i.Components {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	return names
}
