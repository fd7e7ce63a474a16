package pipeline

// invalidConfig is the small unexported error type the teacher's
// bridge/pipeline package uses for "missing required field" construction
// errors (see errInvalid in sip_decode.go); generalized here for every
// pipeline element's configuration validation.
type invalidConfig struct {
	field string
}

func (e invalidConfig) Error() string {
	return "invalid " + e.field
}

// ErrInvalid reports that a required configuration field was missing or
// out of range.
func ErrInvalid(field string) error {
	return invalidConfig{field: field}
}
