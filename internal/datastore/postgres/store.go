// Package postgres implements the datastore interfaces on PostgreSQL.
//
// Claim methods rely on SELECT ... FOR UPDATE SKIP LOCKED so that concurrent
// pollers never select the same row: candidates are locked, flipped to their
// busy marker and returned within a single transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/sirosfoundation/as4-gateway/internal/datastore"
)

// Store implements datastore.Datastore using PostgreSQL.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Config holds PostgreSQL connection settings.
type Config struct {
	DSN string
}

// NewStore connects to PostgreSQL and migrates the gateway schema.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&datastore.InMessage{},
		&datastore.OutMessage{},
		&datastore.InException{},
		&datastore.OutException{},
		&datastore.ReceptionAwareness{},
		&datastore.RetryReliability{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// InsertInMessage stores a received message.
func (s *Store) InsertInMessage(ctx context.Context, m *datastore.InMessage) error {
	s.stampInsert(&m.InsertionTime, &m.ModificationTime)
	return s.db.WithContext(ctx).Create(m).Error
}

// InMessageExists reports whether a message with the ebMS id is stored.
func (s *Store) InMessageExists(ctx context.Context, ebmsMessageID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&datastore.InMessage{}).
		Where("ebms_message_id = ?", ebmsMessageID).
		Count(&count).Error
	return count > 0, err
}

// UpdateInMessage applies mutate to the first message with the ebMS id.
func (s *Store) UpdateInMessage(ctx context.Context, ebmsMessageID string, mutate func(*datastore.InMessage)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m datastore.InMessage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("ebms_message_id = ?", ebmsMessageID).
			Order("id").
			First(&m).Error
		if err != nil {
			return translate(err)
		}
		mutate(&m)
		m.ModificationTime = s.now()
		return tx.Save(&m).Error
	})
}

// UpdateInMessages applies mutate to every message whose ebMS id matches.
func (s *Store) UpdateInMessages(ctx context.Context, ebmsMessageIDs []string, mutate func(*datastore.InMessage)) error {
	if len(ebmsMessageIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msgs []datastore.InMessage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("ebms_message_id IN ?", ebmsMessageIDs).
			Find(&msgs).Error
		if err != nil {
			return err
		}
		for i := range msgs {
			mutate(&msgs[i])
			msgs[i].ModificationTime = s.now()
			if err := tx.Save(&msgs[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SelectExistingInMessageIDs returns the candidate ids already stored as
// InMessage ebMS ids.
func (s *Store) SelectExistingInMessageIDs(ctx context.Context, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var existing []string
	err := s.db.WithContext(ctx).
		Model(&datastore.InMessage{}).
		Distinct("ebms_message_id").
		Where("ebms_message_id IN ?", candidates).
		Pluck("ebms_message_id", &existing).Error
	return existing, err
}

// SelectExistingRefInMessageIDs returns the candidate ids already stored as
// InMessage ref-to ids.
func (s *Store) SelectExistingRefInMessageIDs(ctx context.Context, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var existing []string
	err := s.db.WithContext(ctx).
		Model(&datastore.InMessage{}).
		Distinct("ebms_ref_to_message_id").
		Where("ebms_ref_to_message_id IN ?", candidates).
		Pluck("ebms_ref_to_message_id", &existing).Error
	return existing, err
}

// ClaimInMessages claims up to limit messages in the given operation.
func (s *Store) ClaimInMessages(ctx context.Context, operation datastore.Operation, limit int) ([]*datastore.InMessage, error) {
	busy, ok := operation.ClaimMarker()
	if !ok {
		return nil, nil
	}

	var claimed []*datastore.InMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msgs []datastore.InMessage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("operation = ?", operation).
			Order("insertion_time").
			Limit(limit).
			Find(&msgs).Error
		if err != nil || len(msgs) == 0 {
			return err
		}
		now := s.now()
		ids := make([]int64, len(msgs))
		for i := range msgs {
			ids[i] = msgs[i].ID
			msgs[i].Operation = busy
			msgs[i].ModificationTime = now
			claimed = append(claimed, &msgs[i])
		}
		return tx.Model(&datastore.InMessage{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"operation": busy, "modification_time": now}).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// InsertOutMessage stores an outgoing message and assigns its id.
func (s *Store) InsertOutMessage(ctx context.Context, m *datastore.OutMessage) error {
	s.stampInsert(&m.InsertionTime, &m.ModificationTime)
	return s.db.WithContext(ctx).Create(m).Error
}

// GetOutMessage retrieves a message by internal id.
func (s *Store) GetOutMessage(ctx context.Context, id int64) (*datastore.OutMessage, error) {
	var m datastore.OutMessage
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// GetOutMessageStatus projects only the status column of a message.
func (s *Store) GetOutMessageStatus(ctx context.Context, id int64) (datastore.OutStatus, error) {
	var statuses []datastore.OutStatus
	err := s.db.WithContext(ctx).
		Model(&datastore.OutMessage{}).
		Where("id = ?", id).
		Pluck("status", &statuses).Error
	if err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "", datastore.ErrNotFound
	}
	return statuses[0], nil
}

// GetOutMessagesByEbmsIDs retrieves every message whose ebMS id matches.
func (s *Store) GetOutMessagesByEbmsIDs(ctx context.Context, ebmsMessageIDs []string) ([]*datastore.OutMessage, error) {
	if len(ebmsMessageIDs) == 0 {
		return nil, nil
	}
	var msgs []datastore.OutMessage
	err := s.db.WithContext(ctx).
		Where("ebms_message_id IN ?", ebmsMessageIDs).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*datastore.OutMessage, len(msgs))
	for i := range msgs {
		out[i] = &msgs[i]
	}
	return out, nil
}

// UpdateOutMessage applies mutate to the message with the internal id.
func (s *Store) UpdateOutMessage(ctx context.Context, id int64, mutate func(*datastore.OutMessage)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m datastore.OutMessage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&m).Error
		if err != nil {
			return translate(err)
		}
		mutate(&m)
		m.ModificationTime = s.now()
		return tx.Save(&m).Error
	})
}

// UpdateOutMessages applies mutate to every message whose ebMS id matches.
func (s *Store) UpdateOutMessages(ctx context.Context, ebmsMessageIDs []string, mutate func(*datastore.OutMessage)) error {
	if len(ebmsMessageIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msgs []datastore.OutMessage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("ebms_message_id IN ?", ebmsMessageIDs).
			Find(&msgs).Error
		if err != nil {
			return err
		}
		for i := range msgs {
			mutate(&msgs[i])
			msgs[i].ModificationTime = s.now()
			if err := tx.Save(&msgs[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ClaimOutMessages claims up to limit messages in the given operation.
func (s *Store) ClaimOutMessages(ctx context.Context, operation datastore.Operation, limit int) ([]*datastore.OutMessage, error) {
	busy, ok := operation.ClaimMarker()
	if !ok {
		return nil, nil
	}

	var claimed []*datastore.OutMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msgs []datastore.OutMessage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("operation = ?", operation).
			Order("insertion_time").
			Limit(limit).
			Find(&msgs).Error
		if err != nil || len(msgs) == 0 {
			return err
		}
		now := s.now()
		ids := make([]int64, len(msgs))
		for i := range msgs {
			ids[i] = msgs[i].ID
			msgs[i].Operation = busy
			msgs[i].ModificationTime = now
			claimed = append(claimed, &msgs[i])
		}
		return tx.Model(&datastore.OutMessage{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"operation": busy, "modification_time": now}).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ClaimPiggybackedSignal claims the oldest signal waiting on the MPC.
func (s *Store) ClaimPiggybackedSignal(ctx context.Context, mpc string) (*datastore.OutMessage, error) {
	var claimed *datastore.OutMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m datastore.OutMessage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("operation = ? AND mpc = ?", datastore.OperationToBePiggyBacked, mpc).
			Order("insertion_time").
			First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := s.now()
		m.Operation = datastore.OperationSending
		m.ModificationTime = now
		claimed = &m
		return tx.Model(&datastore.OutMessage{}).
			Where("id = ?", m.ID).
			Updates(map[string]interface{}{"operation": datastore.OperationSending, "modification_time": now}).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// InsertInException stores a receive-side failure record.
func (s *Store) InsertInException(ctx context.Context, e *datastore.InException) error {
	s.stampInsert(&e.InsertionTime, &e.ModificationTime)
	return s.db.WithContext(ctx).Create(e).Error
}

// InsertOutException stores a send-side failure record.
func (s *Store) InsertOutException(ctx context.Context, e *datastore.OutException) error {
	s.stampInsert(&e.InsertionTime, &e.ModificationTime)
	return s.db.WithContext(ctx).Create(e).Error
}

// InsertReceptionAwareness stores a retry state row.
func (s *Store) InsertReceptionAwareness(ctx context.Context, r *datastore.ReceptionAwareness) error {
	s.stampInsert(&r.InsertionTime, &r.ModificationTime)
	r.RefreshNextRetryTime()
	return s.db.WithContext(ctx).Create(r).Error
}

// GetReceptionAwareness retrieves the row anchored to an OutMessage.
func (s *Store) GetReceptionAwareness(ctx context.Context, internalMessageID int64) (*datastore.ReceptionAwareness, error) {
	var r datastore.ReceptionAwareness
	err := s.db.WithContext(ctx).
		Where("internal_message_id = ?", internalMessageID).
		First(&r).Error
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// UpdateReceptionAwareness applies mutate to the anchored row and refreshes
// the derived retry deadline.
func (s *Store) UpdateReceptionAwareness(ctx context.Context, internalMessageID int64, mutate func(*datastore.ReceptionAwareness)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r datastore.ReceptionAwareness
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("internal_message_id = ?", internalMessageID).
			First(&r).Error
		if err != nil {
			return translate(err)
		}
		mutate(&r)
		r.RefreshNextRetryTime()
		r.ModificationTime = s.now()
		return tx.Save(&r).Error
	})
}

// ClaimDueReceptionAwareness claims Pending rows whose deadline has passed.
func (s *Store) ClaimDueReceptionAwareness(ctx context.Context, now time.Time, limit int) ([]*datastore.ReceptionAwareness, error) {
	var claimed []*datastore.ReceptionAwareness
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []datastore.ReceptionAwareness
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_retry_time <= ?", datastore.RetryStatusPending, now).
			Order("next_retry_time").
			Limit(limit).
			Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}
		stamp := s.now()
		ids := make([]int64, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
			rows[i].Status = datastore.RetryStatusBusy
			rows[i].ModificationTime = stamp
			claimed = append(claimed, &rows[i])
		}
		return tx.Model(&datastore.ReceptionAwareness{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"status": datastore.RetryStatusBusy, "modification_time": stamp}).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// InsertRetryReliability stores a retry row.
func (s *Store) InsertRetryReliability(ctx context.Context, r *datastore.RetryReliability) error {
	s.stampInsert(&r.InsertionTime, &r.ModificationTime)
	r.RefreshNextRetryTime()
	return s.db.WithContext(ctx).Create(r).Error
}

// RetryReliabilityExists reports whether a non-completed retry row exists
// for the referenced message and retry type.
func (s *Store) RetryReliabilityExists(ctx context.Context, ebmsRefToMessageID string, retryType datastore.RetryType) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&datastore.RetryReliability{}).
		Where("ebms_ref_to_message_id = ? AND type = ? AND status <> ?",
			ebmsRefToMessageID, retryType, datastore.RetryStatusCompleted).
		Count(&count).Error
	return count > 0, err
}

// UpdateRetryReliability applies mutate to the row with the given id and
// refreshes the derived retry deadline.
func (s *Store) UpdateRetryReliability(ctx context.Context, id int64, mutate func(*datastore.RetryReliability)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r datastore.RetryReliability
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&r).Error
		if err != nil {
			return translate(err)
		}
		mutate(&r)
		r.RefreshNextRetryTime()
		r.ModificationTime = s.now()
		return tx.Save(&r).Error
	})
}

// ClaimDueRetryReliability claims Pending rows whose deadline has passed.
func (s *Store) ClaimDueRetryReliability(ctx context.Context, now time.Time, limit int) ([]*datastore.RetryReliability, error) {
	var claimed []*datastore.RetryReliability
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []datastore.RetryReliability
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_retry_time <= ?", datastore.RetryStatusPending, now).
			Order("next_retry_time").
			Limit(limit).
			Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}
		stamp := s.now()
		ids := make([]int64, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
			rows[i].Status = datastore.RetryStatusBusy
			rows[i].ModificationTime = stamp
			claimed = append(claimed, &rows[i])
		}
		return tx.Model(&datastore.RetryReliability{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"status": datastore.RetryStatusBusy, "modification_time": stamp}).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReclaimStaleClaims releases rows stuck in a claim marker older than the
// given instant.
func (s *Store) ReclaimStaleClaims(ctx context.Context, olderThan time.Time) (int64, error) {
	var released int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stamp := s.now()
		for _, transition := range []struct {
			busy, pending datastore.Operation
		}{
			{datastore.OperationProcessing, datastore.OperationToBeProcessed},
			{datastore.OperationSending, datastore.OperationToBeSent},
			{datastore.OperationDelivering, datastore.OperationToBeDelivered},
			{datastore.OperationNotifying, datastore.OperationToBeNotified},
			{datastore.OperationForwarding, datastore.OperationToBeForwarded},
		} {
			for _, model := range []interface{}{&datastore.InMessage{}, &datastore.OutMessage{}} {
				res := tx.Model(model).
					Where("operation = ? AND modification_time < ?", transition.busy, olderThan).
					Updates(map[string]interface{}{"operation": transition.pending, "modification_time": stamp})
				if res.Error != nil {
					return res.Error
				}
				released += res.RowsAffected
			}
		}
		for _, model := range []interface{}{&datastore.ReceptionAwareness{}, &datastore.RetryReliability{}} {
			res := tx.Model(model).
				Where("status = ? AND modification_time < ?", datastore.RetryStatusBusy, olderThan).
				Updates(map[string]interface{}{"status": datastore.RetryStatusPending, "modification_time": stamp})
			if res.Error != nil {
				return res.Error
			}
			released += res.RowsAffected
		}
		return nil
	})
	return released, err
}

// Close releases the underlying connection pool.
func (s *Store) Close(context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *Store) stampInsert(insertion, modification *time.Time) {
	now := s.now()
	if insertion.IsZero() {
		*insertion = now
	}
	*modification = now
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return datastore.ErrNotFound
	}
	return err
}
