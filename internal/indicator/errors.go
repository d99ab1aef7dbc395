package indicator

// ValidationError reports malformed parameters at construction time or a
// malformed tick at ingest time. It is always surfaced synchronously to the
// caller — never coerced into a silently adjusted value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "indicator: invalid " + e.Field + ": " + e.Reason
}
