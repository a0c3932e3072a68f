// Package services holds the domain services of the reliability engine:
// duplicate detection, reception awareness, generic retry handling and
// inbound message intake.
package services

import (
	"context"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
)

// DuplicateDetector maps batches of incoming message identifiers to a
// per-identifier duplicate verdict. It is read-only: flagging and skipping
// duplicates is the caller's business.
type DuplicateDetector struct {
	store datastore.InMessageRepository
}

// NewDuplicateDetector creates a detector backed by the given store.
func NewDuplicateDetector(store datastore.InMessageRepository) *DuplicateDetector {
	return &DuplicateDetector{store: store}
}

// DetermineDuplicateUserMessageIDs reports, for every searched id, whether
// a received UserMessage with that ebMS id is already stored. One batched
// existence query serves the whole candidate set.
func (d *DuplicateDetector) DetermineDuplicateUserMessageIDs(ctx context.Context, searched []string) (map[string]bool, error) {
	existing, err := d.store.SelectExistingInMessageIDs(ctx, searched)
	if err != nil {
		return nil, err
	}
	return mergeDuplicates(searched, existing), nil
}

// DetermineDuplicateSignalMessageIDs reports, for every searched id,
// whether a received signal referencing that id is already stored.
func (d *DuplicateDetector) DetermineDuplicateSignalMessageIDs(ctx context.Context, searched []string) (map[string]bool, error) {
	existing, err := d.store.SelectExistingRefInMessageIDs(ctx, searched)
	if err != nil {
		return nil, err
	}
	return mergeDuplicates(searched, existing), nil
}

// mergeDuplicates produces one verdict per searched id by membership in
// the existing-id result set.
func mergeDuplicates(searched, existing []string) map[string]bool {
	stored := make(map[string]bool, len(existing))
	for _, id := range existing {
		stored[id] = true
	}

	verdicts := make(map[string]bool, len(searched))
	for _, id := range searched {
		verdicts[id] = stored[id]
	}
	return verdicts
}
