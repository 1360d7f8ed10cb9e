package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendaflow/backend/internal/application/services"
	"github.com/agendaflow/backend/internal/domain/entities"
	"github.com/agendaflow/backend/internal/infrastructure/observability"
)

func newEngine(repo *fakeFlowRepo) *services.FlowEngineService {
	return services.NewFlowEngineService(
		services.NewFlowMatchingService(repo),
		services.NewFlowApplyService(),
		nil,
	)
}

func TestMatchEntitiesFlows_NoFlowsReturnsInputUnchanged(t *testing.T) {
	engine := newEngine(&fakeFlowRepo{})
	candidates := items("D1", "D2")

	kept, executed, err := engine.MatchEntitiesFlows(
		context.Background(), baseQuery(nil), entities.KindDoctor, candidates, nil)

	require.NoError(t, err)
	assert.Equal(t, candidates, kept)
	assert.Empty(t, executed)
}

func TestMatchEntitiesFlows_OmitFlowFiltersBatch(t *testing.T) {
	repo := (&fakeFlowRepo{}).seedPublished(&entities.Flow{
		ID: "f1", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit,
		References: map[entities.EntityKind][]string{entities.KindDoctor: {"D1"}},
	})
	engine := newEngine(repo)

	kept, executed, err := engine.MatchEntitiesFlows(
		context.Background(), baseQuery(nil), entities.KindDoctor, items("D1", "D2"), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"D2"}, itemIDs(kept))
	assert.Equal(t, entities.FlowTypeOmit, executed["f1"])
}

func TestMatchEntitiesFlows_ForceTargetRedirectsLookup(t *testing.T) {
	// The flow references specialities. The batch holds doctors carrying a
	// speciality key, and the lookup is redirected to that dimension.
	repo := (&fakeFlowRepo{}).seedPublished(&entities.Flow{
		ID: "f1", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit,
		References: map[entities.EntityKind][]string{entities.KindSpeciality: {"cardio"}},
	})
	engine := newEngine(repo)

	candidates := []*entities.FlowItem{
		{ID: "D1", Keys: map[entities.EntityKind]string{entities.KindSpeciality: "cardio"}},
		{ID: "D2", Keys: map[entities.EntityKind]string{entities.KindSpeciality: "derm"}},
	}
	force := entities.KindSpeciality
	q := baseQuery(nil)
	q.IgnoreUnmatched = []entities.EntityKind{entities.KindSpeciality}

	kept, _, err := engine.MatchEntitiesFlows(
		context.Background(), q, entities.KindDoctor, candidates, &force)

	require.NoError(t, err)
	assert.Equal(t, []string{"D2"}, itemIDs(kept))
}

func TestMatchAppointmentsFlows_FiltersSlotsAndAttachesActions(t *testing.T) {
	repo := (&fakeFlowRepo{}).seedPublished(
		&entities.Flow{
			ID: "omit-d1", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit,
			References: map[entities.EntityKind][]string{entities.KindDoctor: {"D1"}},
		},
		&entities.Flow{
			ID: "tag-d2", IntegrationID: "tenant-1", Type: entities.FlowTypeAction,
			References: map[entities.EntityKind][]string{entities.KindDoctor: {"D2"}},
			Actions:    []entities.FlowAction{{Type: entities.FlowActionTag}},
		},
	)
	engine := newEngine(repo)

	at := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	slots := []entities.AppointmentSlot{
		{ID: "s1", Date: at, DoctorID: "D1", OrganizationUnitID: "org-1"},
		{ID: "s2", Date: at.Add(time.Hour), DoctorID: "D2", OrganizationUnitID: "org-1"},
	}

	kept, executed, err := engine.MatchAppointmentsFlows(
		context.Background(), baseQuery(nil), entities.KindDoctor, slots)

	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "s2", kept[0].ID)
	require.Len(t, kept[0].Actions, 1)
	assert.Equal(t, entities.FlowActionTag, kept[0].Actions[0].Type)
	assert.Equal(t, entities.FlowTypeOmit, executed["omit-d1"])
	assert.Equal(t, entities.FlowTypeAction, executed["tag-d2"])
}

func TestMatchAppointmentsFlows_AbsentDoctorRulesNeverFire(t *testing.T) {
	repo := (&fakeFlowRepo{}).seedPublished(&entities.Flow{
		ID: "other-doctor", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit,
		References: map[entities.EntityKind][]string{entities.KindDoctor: {"D9"}},
	})
	engine := newEngine(repo)

	slots := []entities.AppointmentSlot{
		{ID: "s1", Date: time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC), DoctorID: "D1", OrganizationUnitID: "org-1"},
	}

	kept, executed, err := engine.MatchAppointmentsFlows(
		context.Background(), baseQuery(nil), entities.KindDoctor, slots)

	require.NoError(t, err)
	assert.Len(t, kept, 1)
	assert.Empty(t, executed)
}

func TestMatchEntitiesFlows_RecordsThroughMetricsHolder(t *testing.T) {
	metrics, err := observability.InitMetrics()
	require.NoError(t, err)

	repo := (&fakeFlowRepo{}).seedPublished(&entities.Flow{
		ID: "f1", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit,
		References: map[entities.EntityKind][]string{entities.KindDoctor: {"D1"}},
	})
	engine := services.NewFlowEngineService(
		services.NewFlowMatchingService(repo),
		services.NewFlowApplyService(),
		metrics,
	)

	kept, _, err := engine.MatchEntitiesFlows(
		context.Background(), baseQuery(nil), entities.KindDoctor, items("D1", "D2"), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"D2"}, itemIDs(kept))
}

func TestGetFlowsByCorrelation_ReturnsOnlyCorrelationFlows(t *testing.T) {
	repo := (&fakeFlowRepo{}).seedPublished(
		&entities.Flow{ID: "corr", IntegrationID: "tenant-1", Type: entities.FlowTypeCorrelation},
		&entities.Flow{ID: "omit", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit},
	)
	engine := newEngine(repo)

	flows, err := engine.GetFlowsByCorrelation(
		context.Background(), "tenant-1", entities.ChannelProduction, nil, entities.KindDoctor)

	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "corr", flows[0].ID)
}
