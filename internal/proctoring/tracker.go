// Package proctoring accumulates integrity violations and decides disqualification.
package proctoring

import (
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/exam-portal-api/internal/models"
)

// SuspiciousActivityLimit is the fixed ceiling for face and suspicious-activity events.
const SuspiciousActivityLimit = 10

// ErrUnknownViolation is returned for a violation type outside the known set.
var ErrUnknownViolation = errors.New("unknown violation type")

// IsValidType reports whether t is a known violation type.
func IsValidType(t models.ViolationType) bool {
	switch t {
	case models.ViolationTabSwitch,
		models.ViolationWindowBlur,
		models.ViolationFaceNotDetected,
		models.ViolationMultipleFaces,
		models.ViolationSuspiciousActivity:
		return true
	default:
		return false
	}
}

// NormalizeSeverity returns severity, or medium when it is empty or unknown.
func NormalizeSeverity(severity string) string {
	switch severity {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
		return severity
	default:
		return models.SeverityMedium
	}
}

// Record appends the violation to the submission and bumps the matching counter.
func Record(submission *models.Submission, violation models.Violation, at time.Time) (models.Violation, error) {
	if !IsValidType(violation.Type) {
		return models.Violation{}, fmt.Errorf("%w: %s", ErrUnknownViolation, violation.Type)
	}

	violation.SubmissionID = submission.ID
	violation.Severity = NormalizeSeverity(violation.Severity)
	violation.OccurredAt = at

	switch violation.Type {
	case models.ViolationTabSwitch:
		submission.Proctoring.TabSwitches++
	case models.ViolationWindowBlur:
		submission.Proctoring.WindowBlurs++
	default:
		submission.Proctoring.SuspiciousActivities++
	}

	submission.Violations = append(submission.Violations, violation)
	return violation, nil
}

// ShouldDisqualify reports whether any counter exceeds its limit on a proctored exam.
func ShouldDisqualify(settings models.ProctoringSettings, counters models.ProctoringCounters) bool {
	if !settings.Enabled {
		return false
	}
	return counters.TabSwitches > settings.TabSwitchLimit ||
		counters.WindowBlurs > settings.WindowBlurLimit ||
		counters.SuspiciousActivities > SuspiciousActivityLimit
}
