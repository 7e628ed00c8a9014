package engine

import "github.com/miradorstack/mirador-statuswatch/internal/models"

// Decision is the outcome of comparing one incident against its stored state.
type Decision struct {
	Action models.Action
	// Notify is set when the action queues a notification.
	Notify bool
	// Persist is set when the current status must be written back.
	Persist bool
}

// Classify compares stored (nil when the incident has never been seen) with
// the incident's current status. The first matching rule wins:
//
//	absent                        new (notify unless already resolved)
//	not resolved -> resolved      resolved
//	not monitoring -> monitoring  monitoring
//	any other change              status_change if priority rose, else silent
//	no change                     unchanged, nothing written
//
// The monitoring rule precedes the priority comparison, so a regression from
// resolved back to monitoring still announces monitoring.
func Classify(stored *models.StoredIncidentState, current models.Incident) Decision {
	if stored == nil {
		return Decision{
			Action:  models.ActionNew,
			Notify:  current.Status != models.StatusResolved,
			Persist: true,
		}
	}

	switch {
	case stored.Status != models.StatusResolved && current.Status == models.StatusResolved:
		return Decision{Action: models.ActionResolved, Notify: true, Persist: true}
	case stored.Status != models.StatusMonitoring && current.Status == models.StatusMonitoring:
		return Decision{Action: models.ActionMonitoring, Notify: true, Persist: true}
	case stored.Status != current.Status:
		if models.StatusPriority(current.Status) > models.StatusPriority(stored.Status) {
			return Decision{Action: models.ActionStatusChange, Notify: true, Persist: true}
		}
		return Decision{Action: models.ActionStatusChangeSilent, Persist: true}
	default:
		return Decision{Action: models.ActionUnchanged}
	}
}

// belowMinimum reports whether impact is strictly under the configured floor.
// An empty floor disables filtering.
func belowMinimum(impact, minimum string) bool {
	if minimum == "" {
		return false
	}
	return models.ImpactPriority(impact) < models.ImpactPriority(minimum)
}
