package asset

import "fmt"

// ErrUnknownAsset indicates an asset tag outside the supported set
type ErrUnknownAsset struct {
	Tag string
}

func (e ErrUnknownAsset) Error() string {
	return fmt.Sprintf("unknown asset: %q", e.Tag)
}

// Is implements the errors.Is interface for ErrUnknownAsset
func (e ErrUnknownAsset) Is(target error) bool {
	t, ok := target.(ErrUnknownAsset)
	if !ok {
		return false
	}
	return t.Tag == "" || t.Tag == e.Tag
}

// ValidationError reports a malformed or out-of-range input value
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// Is matches any ValidationError when the target has no field set
func (e ValidationError) Is(target error) bool {
	t, ok := target.(ValidationError)
	if !ok {
		return false
	}
	return t.Field == "" || t.Field == e.Field
}
