package schema

const (
	MetaBusinessID   = "business_id"
	MetaAssessmentID = "assessment_id"
	MetaChannel      = "channel"
	MetaCorrelation  = "correlation_id"
	MetaTriggeredBy  = "triggered_by"
)

// MetaString extracts a string from a metadata map. Returns "" if missing/not string.
func MetaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	val, ok := meta[key]
	if !ok {
		return ""
	}
	str, ok := val.(string)
	if !ok {
		return ""
	}
	return str
}
