package bandit

import "fmt"

// ConfigError reports a configuration the engine refuses to run with
// (unknown optimization target, non-positive sample count, bad windows).
// Never retried; the caller rejects the request.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// DataError reports malformed variant metrics at the engine boundary
// (clicks > impressions, negative revenue). The engine rejects rather than
// clamps: silent correction would mask upstream ingestion bugs.
type DataError struct {
	VariantID string
	Field     string
	Value     interface{}
	Reason    string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error: variant %s: %s=%v: %s", e.VariantID, e.Field, e.Value, e.Reason)
}
