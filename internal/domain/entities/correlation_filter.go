package entities

import (
	"fmt"

	apperrors "github.com/agendaflow/backend/pkg/errors"
)

// ErrUnknownEntityKind builds the validation error returned when a filter or
// query names a dimension outside the known set.
func ErrUnknownEntityKind(kind string) error {
	return apperrors.NewValidationError(fmt.Sprintf("unknown entity kind: %s", kind))
}

// EntityKind is one of the fixed correlation dimensions a flow can reference.
type EntityKind string

const (
	KindDoctor                  EntityKind = "doctor"
	KindProcedure               EntityKind = "procedure"
	KindInsurance               EntityKind = "insurance"
	KindInsurancePlan           EntityKind = "insurancePlan"
	KindInsuranceSubPlan        EntityKind = "insuranceSubPlan"
	KindOrganizationUnit        EntityKind = "organizationUnit"
	KindOrganizationUnitLocation EntityKind = "organizationUnitLocation"
	KindPlanCategory            EntityKind = "planCategory"
	KindSpeciality              EntityKind = "speciality"
	KindAppointmentType         EntityKind = "appointmentType"
	KindOccupationArea          EntityKind = "occupationArea"
	KindTypeOfService           EntityKind = "typeOfService"
)

var allEntityKinds = []EntityKind{
	KindDoctor,
	KindProcedure,
	KindInsurance,
	KindInsurancePlan,
	KindInsuranceSubPlan,
	KindOrganizationUnit,
	KindOrganizationUnitLocation,
	KindPlanCategory,
	KindSpeciality,
	KindAppointmentType,
	KindOccupationArea,
	KindTypeOfService,
}

// AllEntityKinds returns the closed set of correlation dimensions in a fixed
// order, so iteration over filters stays deterministic.
func AllEntityKinds() []EntityKind {
	out := make([]EntityKind, len(allEntityKinds))
	copy(out, allEntityKinds)
	return out
}

// IsKnownKind reports whether kind is one of the fixed dimensions.
func IsKnownKind(kind EntityKind) bool {
	for _, k := range allEntityKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// FilterEntity is one resolved scheduling entity inside a correlation filter.
type FilterEntity struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

// CorrelationFilter maps each dimension to at most one resolved entity; it
// describes the matching context of the current conversation. Treated as
// immutable for the duration of a matching call.
type CorrelationFilter map[EntityKind]*FilterEntity

// MatchedKinds returns the dimensions present in the filter, in the fixed
// dimension order.
func (c CorrelationFilter) MatchedKinds() []EntityKind {
	var kinds []EntityKind
	for _, k := range allEntityKinds {
		if c[k] != nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// UnmatchedKinds returns the dimensions absent from the filter, in the fixed
// dimension order.
func (c CorrelationFilter) UnmatchedKinds() []EntityKind {
	var kinds []EntityKind
	for _, k := range allEntityKinds {
		if c[k] == nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// IsEmpty reports whether no dimension was supplied.
func (c CorrelationFilter) IsEmpty() bool {
	return len(c.MatchedKinds()) == 0
}

// Validate rejects filters carrying dimensions outside the known set.
func (c CorrelationFilter) Validate() error {
	for k := range c {
		if !IsKnownKind(k) {
			return ErrUnknownEntityKind(string(k))
		}
	}
	return nil
}
