package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"intake-chatbot/pkg"
)

func intPtr(v int) *int                          { return &v }
func strPtr(v string) *string                    { return &v }
func locPtr(v pkg.Location) *pkg.Location        { return &v }
func selPtr(v pkg.IssueSelection) *pkg.IssueSelection { return &v }

func TestTriggerSeverityBoundary(t *testing.T) {
	meta := pkg.RecordMetadata{Location: locPtr(pkg.LocationArm), Severity: intPtr(6)}
	assert.False(t, EvaluateTrigger(meta, testToday).Fires)

	meta.Severity = intPtr(7)
	res := EvaluateTrigger(meta, testToday)
	assert.True(t, res.Fires)
	assert.Len(t, res.Rationale, 1)
}

func TestTriggerOnsetBoundary(t *testing.T) {
	// today is 2025-12-11: five days ago is 2025-12-06, which does not fire;
	// six days ago does.
	meta := pkg.RecordMetadata{Location: locPtr(pkg.LocationArm), Onset: strPtr("2025-12-06")}
	assert.False(t, EvaluateTrigger(meta, testToday).Fires)

	meta.Onset = strPtr("2025-12-05")
	assert.True(t, EvaluateTrigger(meta, testToday).Fires)
}

func TestTriggerCriticalLocations(t *testing.T) {
	critical := []pkg.Location{
		pkg.LocationHead, pkg.LocationChest, pkg.LocationAbdomen,
		pkg.LocationUpperAbdomen, pkg.LocationLowerAbdomen,
	}
	for _, loc := range critical {
		meta := pkg.RecordMetadata{Location: locPtr(loc)}
		assert.True(t, EvaluateTrigger(meta, testToday).Fires, "location %s", loc)
	}
	for _, loc := range []pkg.Location{pkg.LocationArm, pkg.LocationLeg, pkg.LocationSkin} {
		meta := pkg.RecordMetadata{Location: locPtr(loc)}
		assert.False(t, EvaluateTrigger(meta, testToday).Fires, "location %s", loc)
	}
}

func TestTriggerNilFieldsNeverFire(t *testing.T) {
	res := EvaluateTrigger(pkg.RecordMetadata{}, testToday)
	assert.False(t, res.Fires)
	assert.Empty(t, res.Rationale)
}

func TestTriggerCollectsEveryFiringReason(t *testing.T) {
	meta := pkg.RecordMetadata{
		Location: locPtr(pkg.LocationChest),
		Onset:    strPtr("2025-12-04"),
		Severity: intPtr(8),
	}
	res := EvaluateTrigger(meta, testToday)
	assert.True(t, res.Fires)
	assert.Len(t, res.Rationale, 3)
}
