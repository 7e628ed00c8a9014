package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/miradorstack/mirador-statuswatch/internal/models"
)

func stored(status string) *models.StoredIncidentState {
	return &models.StoredIncidentState{Status: status}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		stored  *models.StoredIncidentState
		current string
		want    Decision
	}{
		{"first sighting", nil, models.StatusInvestigating, Decision{models.ActionNew, true, true}},
		{"first sighting already resolved", nil, models.StatusResolved, Decision{models.ActionNew, false, true}},
		{"resolution", stored(models.StatusIdentified), models.StatusResolved, Decision{models.ActionResolved, true, true}},
		{"resolution from monitoring", stored(models.StatusMonitoring), models.StatusResolved, Decision{models.ActionResolved, true, true}},
		{"fix deployed", stored(models.StatusInvestigating), models.StatusMonitoring, Decision{models.ActionMonitoring, true, true}},
		{"reopened into monitoring", stored(models.StatusResolved), models.StatusMonitoring, Decision{models.ActionMonitoring, true, true}},
		{"progressed", stored(models.StatusInvestigating), models.StatusIdentified, Decision{models.ActionStatusChange, true, true}},
		{"regression", stored(models.StatusMonitoring), models.StatusIdentified, Decision{models.ActionStatusChangeSilent, false, true}},
		{"unknown status", stored(models.StatusIdentified), "postmortem", Decision{models.ActionStatusChangeSilent, false, true}},
		{"unchanged", stored(models.StatusIdentified), models.StatusIdentified, Decision{models.ActionUnchanged, false, false}},
		{"still resolved", stored(models.StatusResolved), models.StatusResolved, Decision{models.ActionUnchanged, false, false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.stored, models.Incident{ID: "x", Status: tc.current})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBelowMinimum(t *testing.T) {
	assert.False(t, belowMinimum(models.ImpactNone, ""))
	assert.True(t, belowMinimum(models.ImpactMinor, models.ImpactMajor))
	assert.False(t, belowMinimum(models.ImpactMajor, models.ImpactMajor))
	assert.False(t, belowMinimum(models.ImpactCritical, models.ImpactMajor))
	assert.True(t, belowMinimum("", models.ImpactMinor))
}
