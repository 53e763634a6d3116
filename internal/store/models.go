package store

import (
	"encoding/json"
	"strings"
	"time"
)

// SyncLog is the audit row for one entity type in one run. The newest row for
// an entity is the watermark source for its next incremental fetch.
type SyncLog struct {
	ID            string    `db:"id" json:"id"`
	RunID         string    `db:"run_id" json:"run_id"`
	EntityName    string    `db:"entity_name" json:"entity_name"`
	Mode          string    `db:"mode" json:"mode"`
	RunStartedAt  time.Time `db:"run_started_at" json:"run_started_at"`
	LastUpdatedAt time.Time `db:"last_updated_at" json:"last_updated_at"`
	Successful    bool      `db:"successful" json:"successful"`
	SuccessCount  int       `db:"success_count" json:"success_count"`
	FailureCount  int       `db:"failure_count" json:"failure_count"`
	ErrorText     string    `db:"error_text" json:"error_text,omitempty"`
}

// AppendError adds one line to ErrorText. Existing text is never rewritten.
func (l *SyncLog) AppendError(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	if l.ErrorText != "" {
		l.ErrorText += "\n"
	}
	l.ErrorText += msg
}

// Record is the mirror's copy of one master record, keyed by entity and id.
type Record struct {
	EntityName string          `db:"entity_name" json:"entity_name"`
	RecordID   string          `db:"record_id" json:"record_id"`
	TableName  string          `db:"table_name" json:"table_name"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// FailedRecord keeps the payload of a record that could not be merged so it
// can be replayed without waiting for the master to touch it again.
type FailedRecord struct {
	ID          string          `db:"id" json:"id"`
	RunID       string          `db:"run_id" json:"run_id"`
	EntityName  string          `db:"entity_name" json:"entity_name"`
	RecordID    string          `db:"record_id" json:"record_id"`
	TableName   string          `db:"table_name" json:"table_name"`
	Sensitivity string          `db:"sensitivity" json:"sensitivity"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	SelfLink    string          `db:"self_link" json:"self_link,omitempty"`
	Error       string          `db:"error" json:"error"`
	Attempts    int             `db:"attempts" json:"attempts"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Credential is a replicated administrator login.
type Credential struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash []byte    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	SessionToken string    `db:"session_token" json:"-"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
