package bulkwrite

import "fmt"

// MissingStubError mirrors the root package's error of the same name
// (spec.md §7's MissingStub kind). Defined independently here, rather than
// imported from the root package, to avoid a cycle: the root package
// imports bulkwrite, not the other way around. The root package's caller
// recognizes this type via errors.As and re-wraps it as its own
// *lantern.MissingStubError before returning to callers, so package
// boundaries stay invisible in the public error taxonomy.
type MissingStubError struct {
	Digest string
}

func (e *MissingStubError) Error() string {
	return fmt.Sprintf("bulkwrite: missing attachment stub: %s", e.Digest)
}
