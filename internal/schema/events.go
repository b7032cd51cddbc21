package schema

// Well-known event types emitted by the assessment platform. The bus treats
// types as opaque strings; these exist so producers and consumers agree on
// spelling.
const (
	EventBusinessVerified    = "business.verified"
	EventAssessmentStarted   = "assessment.started"
	EventAssessmentCompleted = "assessment.completed"
	EventNotificationQueued  = "notification.queued"
	EventPatternDetected     = "pattern.detected"
	EventSystemStarted       = "system.started"
)
