package storage

import (
	"time"

	"github.com/uptrace/bun"
)

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// OperationModel represents the operations table
type OperationModel struct {
	bun.BaseModel `bun:"table:operations"`

	ID         int64  `bun:"id,pk,autoincrement"`
	Op         string `bun:"op,notnull"`
	Name       string `bun:"name,notnull"`
	Source     string `bun:"source,notnull"`
	Strategy   string `bun:"strategy,notnull"`
	Step       string `bun:"step,notnull"`
	Status     string `bun:"status,notnull"`
	Error      string `bun:"error,notnull"`
	DurationMs int64  `bun:"duration_ms,notnull"`
	StartedAt  int64  `bun:"started_at,notnull"` // Unix nanoseconds
}

// Operation statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Operation is one journaled lifecycle operation.
type Operation struct {
	ID        int64
	Op        string // snapshot, revert, init
	Name      string // snapshot or instance created
	Source    string // snapshot reverted from
	Strategy  string // clone strategy that won
	Step      string // step that failed
	Status    string
	Error     string
	Duration  time.Duration
	StartedAt time.Time
}

// ToModel converts an Operation to its row.
func (o *Operation) ToModel() *OperationModel {
	return &OperationModel{
		ID:         o.ID,
		Op:         o.Op,
		Name:       o.Name,
		Source:     o.Source,
		Strategy:   o.Strategy,
		Step:       o.Step,
		Status:     o.Status,
		Error:      o.Error,
		DurationMs: o.Duration.Milliseconds(),
		StartedAt:  o.StartedAt.UnixNano(),
	}
}

// ToOperation converts a row to an Operation.
func (m *OperationModel) ToOperation() Operation {
	return Operation{
		ID:        m.ID,
		Op:        m.Op,
		Name:      m.Name,
		Source:    m.Source,
		Strategy:  m.Strategy,
		Step:      m.Step,
		Status:    m.Status,
		Error:     m.Error,
		Duration:  time.Duration(m.DurationMs) * time.Millisecond,
		StartedAt: time.Unix(0, m.StartedAt),
	}
}
