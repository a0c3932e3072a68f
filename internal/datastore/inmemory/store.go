// Package inmemory implements the datastore interfaces with plain maps and
// a mutex. It backs unit tests and the example binary; claim semantics are
// the same as the postgres backend, serialized by the store lock.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
)

// Store is an in-memory datastore.Datastore.
type Store struct {
	mu sync.Mutex

	nextID             int64
	inMessages         []*datastore.InMessage
	outMessages        []*datastore.OutMessage
	inExceptions       []*datastore.InException
	outExceptions      []*datastore.OutException
	receptionAwareness []*datastore.ReceptionAwareness
	retryReliability   []*datastore.RetryReliability

	// now is swappable so tests can pin the clock.
	now func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the store's clock. Test helper.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// InsertInMessage stores a received message.
func (s *Store) InsertInMessage(_ context.Context, m *datastore.InMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.allocID()
	if m.InsertionTime.IsZero() {
		m.InsertionTime = s.now()
	}
	m.ModificationTime = s.now()
	cp := *m
	s.inMessages = append(s.inMessages, &cp)
	return nil
}

// InMessageExists reports whether a message with the ebMS id is stored.
func (s *Store) InMessageExists(_ context.Context, ebmsMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.inMessages {
		if m.EbmsMessageID == ebmsMessageID {
			return true, nil
		}
	}
	return false, nil
}

// UpdateInMessage applies mutate to the first message with the ebMS id.
func (s *Store) UpdateInMessage(_ context.Context, ebmsMessageID string, mutate func(*datastore.InMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.inMessages {
		if m.EbmsMessageID == ebmsMessageID {
			mutate(m)
			m.ModificationTime = s.now()
			return nil
		}
	}
	return datastore.ErrNotFound
}

// UpdateInMessages applies mutate to every message whose ebMS id matches.
func (s *Store) UpdateInMessages(_ context.Context, ebmsMessageIDs []string, mutate func(*datastore.InMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := toSet(ebmsMessageIDs)
	for _, m := range s.inMessages {
		if wanted[m.EbmsMessageID] {
			mutate(m)
			m.ModificationTime = s.now()
		}
	}
	return nil
}

// SelectExistingInMessageIDs returns the candidate ids already stored as
// InMessage ebMS ids.
func (s *Store) SelectExistingInMessageIDs(_ context.Context, candidates []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make(map[string]bool, len(s.inMessages))
	for _, m := range s.inMessages {
		stored[m.EbmsMessageID] = true
	}
	return intersect(candidates, stored), nil
}

// SelectExistingRefInMessageIDs returns the candidate ids already stored as
// InMessage ref-to ids.
func (s *Store) SelectExistingRefInMessageIDs(_ context.Context, candidates []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make(map[string]bool, len(s.inMessages))
	for _, m := range s.inMessages {
		if m.EbmsRefToMessageID != "" {
			stored[m.EbmsRefToMessageID] = true
		}
	}
	return intersect(candidates, stored), nil
}

// ClaimInMessages claims up to limit messages in the given operation.
func (s *Store) ClaimInMessages(_ context.Context, operation datastore.Operation, limit int) ([]*datastore.InMessage, error) {
	busy, ok := operation.ClaimMarker()
	if !ok {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*datastore.InMessage
	for _, m := range s.inMessages {
		if len(claimed) >= limit {
			break
		}
		if m.Operation != operation {
			continue
		}
		m.Operation = busy
		m.ModificationTime = s.now()
		cp := *m
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// InsertOutMessage stores an outgoing message and assigns its id.
func (s *Store) InsertOutMessage(_ context.Context, m *datastore.OutMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.allocID()
	if m.InsertionTime.IsZero() {
		m.InsertionTime = s.now()
	}
	m.ModificationTime = s.now()
	cp := *m
	s.outMessages = append(s.outMessages, &cp)
	return nil
}

// GetOutMessage retrieves a message by internal id.
func (s *Store) GetOutMessage(_ context.Context, id int64) (*datastore.OutMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.outMessages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, datastore.ErrNotFound
}

// GetOutMessageStatus projects the status of a message.
func (s *Store) GetOutMessageStatus(ctx context.Context, id int64) (datastore.OutStatus, error) {
	m, err := s.GetOutMessage(ctx, id)
	if err != nil {
		return "", err
	}
	return m.Status, nil
}

// GetOutMessagesByEbmsIDs retrieves every message whose ebMS id matches.
func (s *Store) GetOutMessagesByEbmsIDs(_ context.Context, ebmsMessageIDs []string) ([]*datastore.OutMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := toSet(ebmsMessageIDs)
	var out []*datastore.OutMessage
	for _, m := range s.outMessages {
		if wanted[m.EbmsMessageID] {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpdateOutMessage applies mutate to the message with the internal id.
func (s *Store) UpdateOutMessage(_ context.Context, id int64, mutate func(*datastore.OutMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.outMessages {
		if m.ID == id {
			mutate(m)
			m.ModificationTime = s.now()
			return nil
		}
	}
	return datastore.ErrNotFound
}

// UpdateOutMessages applies mutate to every message whose ebMS id matches.
func (s *Store) UpdateOutMessages(_ context.Context, ebmsMessageIDs []string, mutate func(*datastore.OutMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := toSet(ebmsMessageIDs)
	for _, m := range s.outMessages {
		if wanted[m.EbmsMessageID] {
			mutate(m)
			m.ModificationTime = s.now()
		}
	}
	return nil
}

// ClaimOutMessages claims up to limit messages in the given operation.
func (s *Store) ClaimOutMessages(_ context.Context, operation datastore.Operation, limit int) ([]*datastore.OutMessage, error) {
	busy, ok := operation.ClaimMarker()
	if !ok {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*datastore.OutMessage
	for _, m := range s.outMessages {
		if len(claimed) >= limit {
			break
		}
		if m.Operation != operation {
			continue
		}
		m.Operation = busy
		m.ModificationTime = s.now()
		cp := *m
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// ClaimPiggybackedSignal claims the oldest signal waiting on the MPC.
func (s *Store) ClaimPiggybackedSignal(_ context.Context, mpc string) (*datastore.OutMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *datastore.OutMessage
	for _, m := range s.outMessages {
		if m.Operation != datastore.OperationToBePiggyBacked || m.MPC != mpc {
			continue
		}
		if oldest == nil || m.InsertionTime.Before(oldest.InsertionTime) {
			oldest = m
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Operation = datastore.OperationSending
	oldest.ModificationTime = s.now()
	cp := *oldest
	return &cp, nil
}

// InsertInException stores a receive-side failure record.
func (s *Store) InsertInException(_ context.Context, e *datastore.InException) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.allocID()
	if e.InsertionTime.IsZero() {
		e.InsertionTime = s.now()
	}
	e.ModificationTime = s.now()
	cp := *e
	s.inExceptions = append(s.inExceptions, &cp)
	return nil
}

// InsertOutException stores a send-side failure record.
func (s *Store) InsertOutException(_ context.Context, e *datastore.OutException) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.allocID()
	if e.InsertionTime.IsZero() {
		e.InsertionTime = s.now()
	}
	e.ModificationTime = s.now()
	cp := *e
	s.outExceptions = append(s.outExceptions, &cp)
	return nil
}

// InsertReceptionAwareness stores a retry state row.
func (s *Store) InsertReceptionAwareness(_ context.Context, r *datastore.ReceptionAwareness) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = s.allocID()
	if r.InsertionTime.IsZero() {
		r.InsertionTime = s.now()
	}
	r.RefreshNextRetryTime()
	r.ModificationTime = s.now()
	cp := *r
	s.receptionAwareness = append(s.receptionAwareness, &cp)
	return nil
}

// GetReceptionAwareness retrieves the row anchored to an OutMessage.
func (s *Store) GetReceptionAwareness(_ context.Context, internalMessageID int64) (*datastore.ReceptionAwareness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.receptionAwareness {
		if r.InternalMessageID == internalMessageID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, datastore.ErrNotFound
}

// UpdateReceptionAwareness applies mutate to the anchored row.
func (s *Store) UpdateReceptionAwareness(_ context.Context, internalMessageID int64, mutate func(*datastore.ReceptionAwareness)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.receptionAwareness {
		if r.InternalMessageID == internalMessageID {
			mutate(r)
			r.RefreshNextRetryTime()
			r.ModificationTime = s.now()
			return nil
		}
	}
	return datastore.ErrNotFound
}

// ClaimDueReceptionAwareness claims Pending rows whose deadline has passed.
func (s *Store) ClaimDueReceptionAwareness(_ context.Context, now time.Time, limit int) ([]*datastore.ReceptionAwareness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*datastore.ReceptionAwareness
	for _, r := range s.receptionAwareness {
		if len(claimed) >= limit {
			break
		}
		if r.Status != datastore.RetryStatusPending || r.NextRetryTime.After(now) {
			continue
		}
		r.Status = datastore.RetryStatusBusy
		r.ModificationTime = s.now()
		cp := *r
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// InsertRetryReliability stores a retry row.
func (s *Store) InsertRetryReliability(_ context.Context, r *datastore.RetryReliability) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = s.allocID()
	if r.InsertionTime.IsZero() {
		r.InsertionTime = s.now()
	}
	r.RefreshNextRetryTime()
	r.ModificationTime = s.now()
	cp := *r
	s.retryReliability = append(s.retryReliability, &cp)
	return nil
}

// RetryReliabilityExists reports whether a non-completed retry row exists
// for the referenced message and retry type.
func (s *Store) RetryReliabilityExists(_ context.Context, ebmsRefToMessageID string, retryType datastore.RetryType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.retryReliability {
		if r.EbmsRefToMessageID == ebmsRefToMessageID &&
			r.Type == retryType &&
			r.Status != datastore.RetryStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

// UpdateRetryReliability applies mutate to the row with the given id.
func (s *Store) UpdateRetryReliability(_ context.Context, id int64, mutate func(*datastore.RetryReliability)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.retryReliability {
		if r.ID == id {
			mutate(r)
			r.RefreshNextRetryTime()
			r.ModificationTime = s.now()
			return nil
		}
	}
	return datastore.ErrNotFound
}

// ClaimDueRetryReliability claims Pending rows whose deadline has passed.
func (s *Store) ClaimDueRetryReliability(_ context.Context, now time.Time, limit int) ([]*datastore.RetryReliability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*datastore.RetryReliability
	for _, r := range s.retryReliability {
		if len(claimed) >= limit {
			break
		}
		if r.Status != datastore.RetryStatusPending || r.NextRetryTime.After(now) {
			continue
		}
		r.Status = datastore.RetryStatusBusy
		r.ModificationTime = s.now()
		cp := *r
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// ReclaimStaleClaims releases rows stuck in a claim marker.
func (s *Store) ReclaimStaleClaims(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	for _, m := range s.inMessages {
		if pending, ok := m.Operation.Released(); ok && m.ModificationTime.Before(olderThan) {
			m.Operation = pending
			m.ModificationTime = s.now()
			released++
		}
	}
	for _, m := range s.outMessages {
		if pending, ok := m.Operation.Released(); ok && m.ModificationTime.Before(olderThan) {
			m.Operation = pending
			m.ModificationTime = s.now()
			released++
		}
	}
	for _, r := range s.receptionAwareness {
		if r.Status == datastore.RetryStatusBusy && r.ModificationTime.Before(olderThan) {
			r.Status = datastore.RetryStatusPending
			r.ModificationTime = s.now()
			released++
		}
	}
	for _, r := range s.retryReliability {
		if r.Status == datastore.RetryStatusBusy && r.ModificationTime.Before(olderThan) {
			r.Status = datastore.RetryStatusPending
			r.ModificationTime = s.now()
			released++
		}
	}
	return released, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close(context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(context.Context) error { return nil }

// InExceptions returns a snapshot of stored receive-side exceptions. Test
// helper.
func (s *Store) InExceptions() []*datastore.InException {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*datastore.InException, len(s.inExceptions))
	for i, e := range s.inExceptions {
		cp := *e
		out[i] = &cp
	}
	return out
}

// OutExceptions returns a snapshot of stored send-side exceptions. Test
// helper.
func (s *Store) OutExceptions() []*datastore.OutException {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*datastore.OutException, len(s.outExceptions))
	for i, e := range s.outExceptions {
		cp := *e
		out[i] = &cp
	}
	return out
}

// InMessages returns a snapshot of stored received messages. Test helper.
func (s *Store) InMessages() []*datastore.InMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*datastore.InMessage, len(s.inMessages))
	for i, m := range s.inMessages {
		cp := *m
		out[i] = &cp
	}
	return out
}

// OutMessages returns a snapshot of stored outgoing messages. Test helper.
func (s *Store) OutMessages() []*datastore.OutMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*datastore.OutMessage, len(s.outMessages))
	for i, m := range s.outMessages {
		cp := *m
		out[i] = &cp
	}
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func intersect(candidates []string, stored map[string]bool) []string {
	var existing []string
	for _, id := range candidates {
		if stored[id] {
			existing = append(existing, id)
		}
	}
	return existing
}
