package datastore

import "time"

// InMessage is a received message unit: a UserMessage or one of the
// SignalMessage variants. Duplicates are detected, never rejected: a second
// insert with a known ebMS id succeeds and carries IsDuplicate=true, so the
// uniqueness of EbmsMessageID is a business rule, not a schema constraint.
type InMessage struct {
	ID                 int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	EbmsMessageID      string      `gorm:"column:ebms_message_id;index" json:"ebmsMessageId"`
	EbmsRefToMessageID string      `gorm:"column:ebms_ref_to_message_id;index" json:"ebmsRefToMessageId,omitempty"`
	MessageType        MessageType `gorm:"index" json:"messageType"`
	ContentType        string      `json:"contentType,omitempty"`
	MPC                string      `gorm:"column:mpc" json:"mpc,omitempty"`
	IsDuplicate        bool        `json:"isDuplicate"`

	// PMode is a serialized snapshot of the processing mode in effect when
	// the message was received, preserved for audit.
	PModeID string `gorm:"column:pmode_id" json:"pmodeId,omitempty"`
	PMode   string `gorm:"column:pmode" json:"-"`

	Operation Operation `gorm:"index" json:"operation"`
	Status    InStatus  `json:"status"`

	SoapEnvelope []byte `json:"-"`

	InsertionTime    time.Time `gorm:"index" json:"insertionTime"`
	ModificationTime time.Time `json:"modificationTime"`
}

// TableName maps InMessage onto its table.
func (InMessage) TableName() string { return "in_messages" }

// OutMessage is a message unit this node is sending or has sent. A
// UserMessage row is the anchor that ReceptionAwareness references through
// its numeric id.
type OutMessage struct {
	ID                 int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	EbmsMessageID      string      `gorm:"column:ebms_message_id;index" json:"ebmsMessageId"`
	EbmsRefToMessageID string      `gorm:"column:ebms_ref_to_message_id;index" json:"ebmsRefToMessageId,omitempty"`
	MessageType        MessageType `gorm:"index" json:"messageType"`
	ContentType        string      `json:"contentType,omitempty"`
	MPC                string      `gorm:"column:mpc" json:"mpc,omitempty"`

	MEP MEP    `gorm:"column:mep" json:"mep"`
	URL string `json:"url,omitempty"`

	PModeID string `gorm:"column:pmode_id" json:"pmodeId,omitempty"`
	PMode   string `gorm:"column:pmode" json:"-"`

	Operation Operation `gorm:"index" json:"operation"`
	Status    OutStatus `json:"status"`

	SoapEnvelope []byte `json:"-"`

	InsertionTime    time.Time `gorm:"index" json:"insertionTime"`
	ModificationTime time.Time `json:"modificationTime"`
}

// TableName maps OutMessage onto its table.
func (OutMessage) TableName() string { return "out_messages" }

// InException records a processing failure on the receive side, tied to the
// failing message through EbmsRefToMessageID.
type InException struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	EbmsRefToMessageID string `gorm:"column:ebms_ref_to_message_id;index" json:"ebmsRefToMessageId"`
	Exception          string `json:"exception"`
	PModeID            string `gorm:"column:pmode_id" json:"pmodeId,omitempty"`
	PMode              string `gorm:"column:pmode" json:"-"`

	Operation       Operation `gorm:"index" json:"operation"`
	OperationMethod string    `json:"operationMethod,omitempty"`

	InsertionTime    time.Time `gorm:"index" json:"insertionTime"`
	ModificationTime time.Time `json:"modificationTime"`
}

// TableName maps InException onto its table.
func (InException) TableName() string { return "in_exceptions" }

// OutException records a processing failure on the send side.
type OutException struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	EbmsRefToMessageID string `gorm:"column:ebms_ref_to_message_id;index" json:"ebmsRefToMessageId"`
	Exception          string `json:"exception"`
	PModeID            string `gorm:"column:pmode_id" json:"pmodeId,omitempty"`
	PMode              string `gorm:"column:pmode" json:"-"`

	Operation       Operation `gorm:"index" json:"operation"`
	OperationMethod string    `json:"operationMethod,omitempty"`

	InsertionTime    time.Time `gorm:"index" json:"insertionTime"`
	ModificationTime time.Time `json:"modificationTime"`
}

// TableName maps OutException onto its table.
func (OutException) TableName() string { return "out_exceptions" }

// ReceptionAwareness is the per-sent-message retry state. One row exists for
// every sent UserMessage whose sending PMode enables reception awareness.
// Terminal rows (Status=Completed) are retained for audit; cleanup belongs
// to the retention job, never to the scheduler.
type ReceptionAwareness struct {
	ID                int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	InternalMessageID int64 `gorm:"column:internal_message_id;uniqueIndex" json:"internalMessageId"`

	Status            RetryStatus   `gorm:"index" json:"status"`
	CurrentRetryCount int           `json:"currentRetryCount"`
	TotalRetryCount   int           `json:"totalRetryCount"`
	RetryInterval     time.Duration `json:"retryInterval"`
	LastSendTime      time.Time     `json:"lastSendTime"`

	// NextRetryTime is derived from LastSendTime + RetryInterval and kept in
	// its own column so the scheduler can claim due rows with a plain
	// comparison instead of dialect-specific interval arithmetic.
	NextRetryTime time.Time `gorm:"index" json:"nextRetryTime"`

	InsertionTime    time.Time `json:"insertionTime"`
	ModificationTime time.Time `json:"modificationTime"`
}

// TableName maps ReceptionAwareness onto its table.
func (ReceptionAwareness) TableName() string { return "reception_awareness" }

// RefreshNextRetryTime recomputes the derived claim deadline. Store
// implementations call this after every mutation so the column can never
// drift from its inputs.
func (r *ReceptionAwareness) RefreshNextRetryTime() {
	r.NextRetryTime = r.LastSendTime.Add(r.RetryInterval)
}

// RetryReliability is generic retry bookkeeping for any retryable operation
// (delivery, notification), decoupled from ReceptionAwareness.
type RetryReliability struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EbmsRefToMessageID string    `gorm:"column:ebms_ref_to_message_id;index" json:"ebmsRefToMessageId"`
	Type               RetryType `json:"type"`

	Status            RetryStatus   `gorm:"index" json:"status"`
	CurrentRetryCount int           `json:"currentRetryCount"`
	MaxRetryCount     int           `json:"maxRetryCount"`
	RetryInterval     time.Duration `json:"retryInterval"`
	LastRetryTime     time.Time     `json:"lastRetryTime"`
	NextRetryTime     time.Time     `gorm:"index" json:"nextRetryTime"`

	InsertionTime    time.Time `json:"insertionTime"`
	ModificationTime time.Time `json:"modificationTime"`
}

// TableName maps RetryReliability onto its table.
func (RetryReliability) TableName() string { return "retry_reliability" }

// RefreshNextRetryTime recomputes the derived claim deadline.
func (r *RetryReliability) RefreshNextRetryTime() {
	r.NextRetryTime = r.LastRetryTime.Add(r.RetryInterval)
}
