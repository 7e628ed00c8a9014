package models

import "time"

// StoredIncidentState is the last status observed for an incident.
type StoredIncidentState struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// RunMetrics is the singleton record describing the most recent run.
type RunMetrics struct {
	LastRun            *time.Time `json:"lastRun"`
	NotificationsSent  int        `json:"notificationsSent"`
	IncidentsProcessed int        `json:"incidentsProcessed"`
	Errors             int        `json:"errors"`
}

// MetricsPatch carries the fields of RunMetrics a run wants to overwrite.
// Nil fields keep their stored value.
type MetricsPatch struct {
	LastRun            *time.Time
	NotificationsSent  *int
	IncidentsProcessed *int
	Errors             *int
}

// Apply merges the patch over m.
func (p MetricsPatch) Apply(m RunMetrics) RunMetrics {
	if p.LastRun != nil {
		t := *p.LastRun
		m.LastRun = &t
	}
	if p.NotificationsSent != nil {
		m.NotificationsSent = *p.NotificationsSent
	}
	if p.IncidentsProcessed != nil {
		m.IncidentsProcessed = *p.IncidentsProcessed
	}
	if p.Errors != nil {
		m.Errors = *p.Errors
	}
	return m
}
