package enrich

import (
	"fmt"

	"prism/internal/types"
)

// ServiceError wraps a single analysis service failure with the service that
// produced it.
type ServiceError struct {
	Service types.ServiceType
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s failed: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// CopyIntegrityError marks a reuse snapshot that cannot be replayed verbatim.
// A copy is all-or-nothing: one unusable record aborts the whole copy and the
// item falls back to fresh analysis.
type CopyIntegrityError struct {
	ConceptID string
	Service   types.ServiceType
	Reason    string
}

func (e *CopyIntegrityError) Error() string {
	return fmt.Sprintf("copy integrity violation for concept %s, service %s: %s",
		e.ConceptID, e.Service, e.Reason)
}
