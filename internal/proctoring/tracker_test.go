package proctoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-portal-api/internal/models"
)

func TestRecordIncrementsMatchingCounter(t *testing.T) {
	submission := &models.Submission{ID: 3}
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	types := []models.ViolationType{
		models.ViolationTabSwitch,
		models.ViolationWindowBlur,
		models.ViolationWindowBlur,
		models.ViolationFaceNotDetected,
		models.ViolationMultipleFaces,
		models.ViolationSuspiciousActivity,
	}

	previous := models.ProctoringCounters{}
	for _, violationType := range types {
		recorded, err := Record(submission, models.Violation{Type: violationType}, now)
		require.NoError(t, err)
		require.Equal(t, uint(3), recorded.SubmissionID)
		require.Equal(t, now, recorded.OccurredAt)

		current := submission.Proctoring
		require.GreaterOrEqual(t, current.TabSwitches, previous.TabSwitches)
		require.GreaterOrEqual(t, current.WindowBlurs, previous.WindowBlurs)
		require.GreaterOrEqual(t, current.SuspiciousActivities, previous.SuspiciousActivities)
		previous = current
	}

	require.Equal(t, models.ProctoringCounters{TabSwitches: 1, WindowBlurs: 2, SuspiciousActivities: 3}, submission.Proctoring)
	require.Equal(t, 6, submission.ViolationCount())
}

func TestRecordDefaultsSeverityAndRejectsUnknownType(t *testing.T) {
	submission := &models.Submission{}

	recorded, err := Record(submission, models.Violation{Type: models.ViolationTabSwitch}, time.Now())
	require.NoError(t, err)
	require.Equal(t, models.SeverityMedium, recorded.Severity)

	recorded, err = Record(submission, models.Violation{Type: models.ViolationTabSwitch, Severity: models.SeverityHigh}, time.Now())
	require.NoError(t, err)
	require.Equal(t, models.SeverityHigh, recorded.Severity)

	_, err = Record(submission, models.Violation{Type: "phone-detected"}, time.Now())
	require.ErrorIs(t, err, ErrUnknownViolation)
	require.Len(t, submission.Violations, 2)
}

func TestShouldDisqualifyTriggersOnlyWhenLimitExceeded(t *testing.T) {
	settings := models.ProctoringSettings{Enabled: true, TabSwitchLimit: 3, WindowBlurLimit: 5}

	require.False(t, ShouldDisqualify(settings, models.ProctoringCounters{TabSwitches: 3}))
	require.True(t, ShouldDisqualify(settings, models.ProctoringCounters{TabSwitches: 4}))
	require.False(t, ShouldDisqualify(settings, models.ProctoringCounters{WindowBlurs: 5}))
	require.True(t, ShouldDisqualify(settings, models.ProctoringCounters{WindowBlurs: 6}))
	require.False(t, ShouldDisqualify(settings, models.ProctoringCounters{SuspiciousActivities: 10}))
	require.True(t, ShouldDisqualify(settings, models.ProctoringCounters{SuspiciousActivities: 11}))
}

func TestShouldDisqualifyIgnoresCountersWhenProctoringDisabled(t *testing.T) {
	settings := models.ProctoringSettings{Enabled: false, TabSwitchLimit: 3, WindowBlurLimit: 5}
	require.False(t, ShouldDisqualify(settings, models.ProctoringCounters{TabSwitches: 50, WindowBlurs: 50, SuspiciousActivities: 50}))
}

func TestSeverityDoesNotAffectDisqualification(t *testing.T) {
	settings := models.ProctoringSettings{Enabled: true, TabSwitchLimit: 3, WindowBlurLimit: 5}
	submission := &models.Submission{}

	for i := 0; i < 3; i++ {
		_, err := Record(submission, models.Violation{Type: models.ViolationTabSwitch, Severity: models.SeverityHigh}, time.Now())
		require.NoError(t, err)
	}
	require.False(t, ShouldDisqualify(settings, submission.Proctoring))

	_, err := Record(submission, models.Violation{Type: models.ViolationTabSwitch, Severity: models.SeverityLow}, time.Now())
	require.NoError(t, err)
	require.True(t, ShouldDisqualify(settings, submission.Proctoring))
}
