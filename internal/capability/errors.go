package capability

import "fmt"

// ErrToolMissing indicates a required tool is not registered.
var ErrToolMissing = fmt.Errorf("required tool missing")

// ValidationError reports a tool argument that fails its declared schema.
// It is recovered locally: the dispatcher returns it as a failed Result and
// never invokes the underlying capability.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s: %s", e.Tool, e.Field, e.Reason)
}
