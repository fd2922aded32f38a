package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// ParameterVersionStatus is the lifecycle state of a parameter set.
type ParameterVersionStatus string

const (
	ParameterVersionProposed   ParameterVersionStatus = "proposed"
	ParameterVersionActive     ParameterVersionStatus = "active"
	ParameterVersionRolledBack ParameterVersionStatus = "rolled_back"
)

// ParameterSet is a free-form map of named engine parameters.
type ParameterSet map[string]float64

func (p ParameterSet) Value() (driver.Value, error) { return jsonbValue(p) }
func (p *ParameterSet) Scan(src any) error          { return jsonbScan(p, src) }

// ParameterVersion is one row of the append-only parameter history.
// Activation and rollback add new rows; past rows are never mutated.
type ParameterVersion struct {
	ID                uuid.UUID              `db:"id" json:"id"`
	ProjectID         uuid.UUID              `db:"project_id" json:"project_id"`
	VersionNumber     int                    `db:"version_number" json:"version_number"`
	VersionHash       string                 `db:"version_hash" json:"version_hash"`
	Parameters        ParameterSet           `db:"parameters" json:"parameters"`
	Status            ParameterVersionStatus `db:"status" json:"status"`
	PreviousVersionID *uuid.UUID             `db:"previous_version_id" json:"previous_version_id,omitempty"`
	RolledBackToID    *uuid.UUID             `db:"rolled_back_to_id" json:"rolled_back_to_id,omitempty"`
	ApprovedBy        *string                `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt        *time.Time             `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt         time.Time              `db:"created_at" json:"created_at"`
}
