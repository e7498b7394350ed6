package orchestrator

import (
	"fmt"

	"splitpay/internal/splitpayment/models"
)

// OmissionPolicy decides how recipients that never reached execution (failed
// reservation) affect the terminal status.
type OmissionPolicy string

const (
	// OmissionIgnore judges the status on attempted executions only.
	OmissionIgnore OmissionPolicy = "ignore"
	// OmissionPartial downgrades an otherwise COMPLETED run to PARTIAL.
	OmissionPartial OmissionPolicy = "partial"
)

// ParseOmissionPolicy parses a configured policy; empty means ignore.
func ParseOmissionPolicy(s string) (OmissionPolicy, error) {
	switch OmissionPolicy(s) {
	case "", OmissionIgnore:
		return OmissionIgnore, nil
	case OmissionPartial:
		return OmissionPartial, nil
	}
	return "", fmt.Errorf("unknown omission policy %q", s)
}

// DeriveStatus maps execution outcomes to a terminal status:
//
//	errors > 0 and nothing created                       -> FAILED
//	(errors > 0 or a created payment flagged failed) and
//	not every attempted execution succeeded              -> PARTIAL
//	otherwise                                            -> COMPLETED
//
// With OmissionPartial, omitted > 0 turns COMPLETED into PARTIAL.
func DeriveStatus(executions []models.ExecutionOutcome, omitted int, policy OmissionPolicy) models.Status {
	var created, errored, flagged int
	for _, e := range executions {
		switch v := e.(type) {
		case models.ExecutionCreated:
			created++
			if v.Failed {
				flagged++
			}
		case models.ExecutionErrored:
			errored++
		}
	}

	if errored > 0 && created == 0 {
		return models.StatusFailed
	}
	succeeded := created - flagged
	if (errored > 0 || flagged > 0) && succeeded != len(executions) {
		return models.StatusPartial
	}
	if policy == OmissionPartial && omitted > 0 {
		return models.StatusPartial
	}
	return models.StatusCompleted
}
