package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AuditEntry is one recorded provider interaction. Entries are only ever
// appended; earlier entries are never rewritten or merged.
type AuditEntry struct {
	Kind   string            `json:"kind"`
	At     time.Time         `json:"at"`
	Detail map[string]string `json:"detail,omitempty"`
}

const (
	AuditKindInitiated = "initiated"
	AuditKindEvent     = "event"
	AuditKindVerified  = "verified"
	AuditKindRefunded  = "refunded"
)

// AuditLog is the append-only history of provider interactions for a Payment,
// stored as a JSON array in a single column.
type AuditLog []AuditEntry

func (l AuditLog) Append(kind string, detail map[string]string) AuditLog {
	return append(l, AuditEntry{Kind: kind, At: time.Now().UTC(), Detail: detail})
}

func (l AuditLog) Value() (driver.Value, error) {
	if l == nil {
		l = AuditLog{}
	}
	return json.Marshal(l)
}

func (l *AuditLog) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = AuditLog{}
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("scan audit log: unsupported type %T", src)
	}
}
