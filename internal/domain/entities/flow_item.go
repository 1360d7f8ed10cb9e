package entities

import (
	"encoding/json"
	"time"
)

// FlowItem is one candidate entity (doctor, procedure, insurance plan, ...)
// submitted for flow filtering. Keys carries the item's entity-kind
// associations used as match keys against flow reference lists; Payload is
// the caller's opaque record, passed through untouched.
type FlowItem struct {
	ID      string                `json:"id"`
	Code    string                `json:"code,omitempty"`
	Keys    map[EntityKind]string `json:"keys,omitempty"`
	Actions []FlowAction          `json:"actions,omitempty"`
	Payload json.RawMessage       `json:"payload,omitempty"`
}

// Key returns the item's identifier for a dimension. The item's own ID is
// the fallback when no explicit association exists.
func (i *FlowItem) Key(kind EntityKind) string {
	if id, ok := i.Keys[kind]; ok && id != "" {
		return id
	}
	return i.ID
}

// AppointmentSlot is one raw available appointment time supplied by an ERP
// adapter. Date is the slot's start instant in the clinic's timezone.
type AppointmentSlot struct {
	ID                 string          `json:"id"`
	Date               time.Time       `json:"appointment_date"`
	DoctorID           string          `json:"doctor_id,omitempty"`
	OrganizationUnitID string          `json:"organization_unit_id,omitempty"`
	Actions            []FlowAction    `json:"actions,omitempty"`
	Payload            json.RawMessage `json:"payload,omitempty"`
}

// MatchContext carries the scalar constraints of the current conversation:
// patient demographics, trigger event, and the evaluation clock. Now is
// injected so time-window constraints stay testable.
type MatchContext struct {
	PatientAge  *int        `json:"patient_age,omitempty"`
	PatientSex  string      `json:"patient_sex,omitempty"`
	PatientCPF  string      `json:"patient_cpf,omitempty"`
	PeriodOfDay PeriodOfDay `json:"period_of_day,omitempty"`
	Trigger     string      `json:"trigger,omitempty"`
	Now         time.Time   `json:"-"`
}
