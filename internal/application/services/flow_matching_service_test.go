package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendaflow/backend/internal/application/services"
	"github.com/agendaflow/backend/internal/domain/entities"
)

// fakeFlowRepo is an in-memory FlowRepository instrumented with call counts,
// shared across the service tests in this package.
type fakeFlowRepo struct {
	mu        sync.Mutex
	drafts    []*entities.Flow
	published []*entities.Flow
	ListCalls int
}

func (r *fakeFlowRepo) ListByIntegration(_ context.Context, integrationID string, channel entities.ChannelKind) ([]*entities.Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ListCalls++

	source := r.published
	if channel == entities.ChannelHomolog {
		source = r.drafts
	}
	var out []*entities.Flow
	for _, f := range source {
		if f.IntegrationID == integrationID && !f.IsDisabled() {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeFlowRepo) ListDrafts(_ context.Context, integrationID string) ([]*entities.Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entities.Flow
	for _, f := range r.drafts {
		if f.IntegrationID == integrationID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeFlowRepo) UpsertDraft(_ context.Context, flows []*entities.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, incoming := range flows {
		replaced := false
		for i, existing := range r.drafts {
			if existing.ID == incoming.ID {
				r.drafts[i] = incoming
				replaced = true
				break
			}
		}
		if !replaced {
			r.drafts = append(r.drafts, incoming)
		}
	}
	return nil
}

func (r *fakeFlowRepo) Publish(_ context.Context, integrationID string, publishedAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kept []*entities.Flow
	for _, f := range r.published {
		if f.IntegrationID != integrationID {
			kept = append(kept, f)
		}
	}
	count := 0
	for _, f := range r.drafts {
		if f.IntegrationID != integrationID || f.IsDisabled() {
			continue
		}
		copied := *f
		stamp := publishedAt
		copied.PublishedAt = &stamp
		kept = append(kept, &copied)
		count++
	}
	r.published = kept
	return count, nil
}

func (r *fakeFlowRepo) CountPublished(_ context.Context, integrationID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, f := range r.published {
		if f.IntegrationID == integrationID {
			count++
		}
	}
	return count, nil
}

func (r *fakeFlowRepo) seedPublished(flows ...*entities.Flow) *fakeFlowRepo {
	r.published = append(r.published, flows...)
	return r
}

func baseQuery(filter entities.CorrelationFilter, targets ...entities.EntityKind) services.FlowQuery {
	return services.FlowQuery{
		IntegrationID: "tenant-1",
		Channel:       entities.ChannelProduction,
		Filter:        filter,
		TargetKinds:   targets,
		Context:       entities.MatchContext{Now: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)},
	}
}

func TestSelectFlows_WildcardMatchesAnyValue(t *testing.T) {
	repo := (&fakeFlowRepo{}).seedPublished(&entities.Flow{
		ID: "f1", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit,
	})
	svc := services.NewFlowMatchingService(repo)

	filter := entities.CorrelationFilter{
		entities.KindDoctor: {ID: "any-doctor-at-all"},
	}
	flows, err := svc.SelectFlows(context.Background(), baseQuery(filter, entities.KindDoctor))

	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "f1", flows[0].ID)
}

func TestSelectFlows_OppositionIsStrictInversion(t *testing.T) {
	listed := entities.CorrelationFilter{entities.KindDoctor: {ID: "D1"}}
	notListed := entities.CorrelationFilter{entities.KindDoctor: {ID: "D2"}}

	for _, tc := range []struct {
		name   string
		filter entities.CorrelationFilter
	}{
		{"listed doctor", listed},
		{"unlisted doctor", notListed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			plain := &entities.Flow{
				ID: "plain", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit,
				References: map[entities.EntityKind][]string{entities.KindDoctor: {"D1"}},
			}
			opposed := &entities.Flow{
				ID: "opposed", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit,
				References: map[entities.EntityKind][]string{entities.KindDoctor: {"D1"}},
				OpposeStep: []entities.EntityKind{entities.KindDoctor},
			}
			repo := (&fakeFlowRepo{}).seedPublished(plain, opposed)
			svc := services.NewFlowMatchingService(repo)

			flows, err := svc.SelectFlows(context.Background(), baseQuery(tc.filter, entities.KindDoctor))
			require.NoError(t, err)

			plainMatched, opposedMatched := false, false
			for _, f := range flows {
				switch f.ID {
				case "plain":
					plainMatched = true
				case "opposed":
					opposedMatched = true
				}
			}
			// The opposed twin matches exactly when the plain flow does not.
			assert.Equal(t, !plainMatched, opposedMatched)
		})
	}
}

func TestSelectFlows_OpposedWildcardNeverMatches(t *testing.T) {
	repo := (&fakeFlowRepo{}).seedPublished(&entities.Flow{
		ID: "f1", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit,
		OpposeStep: []entities.EntityKind{entities.KindDoctor},
	})
	svc := services.NewFlowMatchingService(repo)

	filter := entities.CorrelationFilter{entities.KindDoctor: {ID: "D1"}}
	flows, err := svc.SelectFlows(context.Background(), baseQuery(filter, entities.KindDoctor))

	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestSelectFlows_UnsuppliedPinnedDimensionCannotMatch(t *testing.T) {
	flow := &entities.Flow{
		ID: "f1", IntegrationID: "tenant-1", Type: entities.FlowTypeAction,
		References: map[entities.EntityKind][]string{entities.KindInsurance: {"I1"}},
	}
	repo := (&fakeFlowRepo{}).seedPublished(flow)
	svc := services.NewFlowMatchingService(repo)

	filter := entities.CorrelationFilter{entities.KindDoctor: {ID: "D1"}}

	q := baseQuery(filter, entities.KindDoctor)
	flows, err := svc.SelectFlows(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, flows, "flow pinning an unsupplied dimension must not match")

	q.IgnoreUnmatched = []entities.EntityKind{entities.KindInsurance}
	flows, err = svc.SelectFlows(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, flows, 1, "caller exemption lifts the emptiness requirement")
}

func TestSelectFlows_StepMustIntersectTargetKinds(t *testing.T) {
	repo := (&fakeFlowRepo{}).seedPublished(&entities.Flow{
		ID: "f1", IntegrationID: "tenant-1", Type: entities.FlowTypeAction,
		Step: []entities.EntityKind{entities.KindProcedure},
	})
	svc := services.NewFlowMatchingService(repo)

	flows, err := svc.SelectFlows(context.Background(), baseQuery(nil, entities.KindDoctor))
	require.NoError(t, err)
	assert.Empty(t, flows)

	flows, err = svc.SelectFlows(context.Background(), baseQuery(nil, entities.KindProcedure))
	require.NoError(t, err)
	assert.Len(t, flows, 1)
}

func TestSelectFlows_TriggerEquality(t *testing.T) {
	tagged := &entities.Flow{ID: "tagged", IntegrationID: "tenant-1", Type: entities.FlowTypeAction, Trigger: "checkin"}
	plain := &entities.Flow{ID: "plain", IntegrationID: "tenant-1", Type: entities.FlowTypeAction}
	repo := (&fakeFlowRepo{}).seedPublished(tagged, plain)
	svc := services.NewFlowMatchingService(repo)

	q := baseQuery(nil, entities.KindDoctor)
	flows, err := svc.SelectFlows(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "plain", flows[0].ID)

	q.Context.Trigger = "checkin"
	flows, err = svc.SelectFlows(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "tagged", flows[0].ID)
}

func TestSelectFlows_ScalarConstraints(t *testing.T) {
	minAge, maxAge := 18, 65
	repo := (&fakeFlowRepo{}).seedPublished(&entities.Flow{
		ID: "f1", IntegrationID: "tenant-1", Type: entities.FlowTypeAction,
		MinimumAge: &minAge, MaximumAge: &maxAge,
		PatientSex:  "F",
		CPFs:        []string{"123.456.789-00"},
		PeriodOfDay: entities.PeriodMorning,
	})
	svc := services.NewFlowMatchingService(repo)

	age := 30
	q := baseQuery(nil, entities.KindDoctor)
	q.Context.PatientAge = &age
	q.Context.PatientSex = "F"
	q.Context.PatientCPF = "123.456.789-00"
	q.Context.PeriodOfDay = entities.PeriodMorning

	flows, err := svc.SelectFlows(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, flows, 1)

	t.Run("age below minimum", func(t *testing.T) {
		young := 10
		q := q
		q.Context.PatientAge = &young
		flows, err := svc.SelectFlows(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, flows)
	})

	t.Run("age bounds are inclusive", func(t *testing.T) {
		edge := 65
		q := q
		q.Context.PatientAge = &edge
		flows, err := svc.SelectFlows(context.Background(), q)
		require.NoError(t, err)
		assert.Len(t, flows, 1)
	})

	t.Run("wrong sex", func(t *testing.T) {
		q := q
		q.Context.PatientSex = "M"
		flows, err := svc.SelectFlows(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, flows)
	})

	t.Run("cpf not in allow-list", func(t *testing.T) {
		q := q
		q.Context.PatientCPF = "999.999.999-99"
		flows, err := svc.SelectFlows(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, flows)
	})

	t.Run("wrong period of day", func(t *testing.T) {
		q := q
		q.Context.PeriodOfDay = entities.PeriodNight
		flows, err := svc.SelectFlows(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, flows)
	})
}

func TestSelectFlows_TimeWindows(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)
	repo := (&fakeFlowRepo{}).seedPublished(&entities.Flow{
		ID: "f1", IntegrationID: "tenant-1", Type: entities.FlowTypeAction,
		ExecuteFrom: &from, ExecuteUntil: &until,
		RunBetweenStart: "08:00", RunBetweenEnd: "18:00",
	})
	svc := services.NewFlowMatchingService(repo)

	q := baseQuery(nil, entities.KindDoctor)
	q.Context.Now = time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	flows, err := svc.SelectFlows(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, flows, 1)

	q.Context.Now = time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)
	flows, err = svc.SelectFlows(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, flows, "outside absolute validity window")

	q.Context.Now = time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	flows, err = svc.SelectFlows(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, flows, "outside daily time-of-day window")
}

func TestSelectFlows_ExactIDConstraints(t *testing.T) {
	repo := (&fakeFlowRepo{}).seedPublished(
		&entities.Flow{
			ID: "in-batch", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit,
			References: map[entities.EntityKind][]string{entities.KindDoctor: {"D1"}},
		},
		&entities.Flow{
			ID: "out-of-batch", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit,
			References: map[entities.EntityKind][]string{entities.KindDoctor: {"D9"}},
		},
		&entities.Flow{ID: "wildcard", IntegrationID: "tenant-1", Type: entities.FlowTypeOmit},
	)
	svc := services.NewFlowMatchingService(repo)

	q := baseQuery(nil, entities.KindDoctor)
	q.ExactIDs = map[entities.EntityKind][]string{entities.KindDoctor: {"D1", "D2"}}

	flows, err := svc.SelectFlows(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, "in-batch", flows[0].ID)
	assert.Equal(t, "wildcard", flows[1].ID)
}

func TestSelectFlows_CorrelationFlowsExcludedByDefault(t *testing.T) {
	correlation := &entities.Flow{ID: "corr", IntegrationID: "tenant-1", Type: entities.FlowTypeCorrelation}
	action := &entities.Flow{ID: "act", IntegrationID: "tenant-1", Type: entities.FlowTypeAction}
	repo := (&fakeFlowRepo{}).seedPublished(correlation, action)
	svc := services.NewFlowMatchingService(repo)

	flows, err := svc.SelectFlows(context.Background(), baseQuery(nil, entities.KindDoctor))
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "act", flows[0].ID)

	override := entities.FlowTypeCorrelation
	q := baseQuery(nil, entities.KindDoctor)
	q.TypeOverride = &override
	flows, err = svc.SelectFlows(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "corr", flows[0].ID)
}

func TestSelectFlows_UnknownKindRejected(t *testing.T) {
	svc := services.NewFlowMatchingService(&fakeFlowRepo{})

	filter := entities.CorrelationFilter{entities.EntityKind("starship"): {ID: "x"}}
	_, err := svc.SelectFlows(context.Background(), baseQuery(filter, entities.KindDoctor))
	assert.Error(t, err)
}

func TestSelectFlows_HomologChannelReadsDrafts(t *testing.T) {
	repo := &fakeFlowRepo{}
	repo.drafts = append(repo.drafts, &entities.Flow{ID: "draft-only", IntegrationID: "tenant-1", Type: entities.FlowTypeAction})
	svc := services.NewFlowMatchingService(repo)

	flows, err := svc.SelectFlows(context.Background(), baseQuery(nil, entities.KindDoctor))
	require.NoError(t, err)
	assert.Empty(t, flows, "production reads published generation only")

	q := baseQuery(nil, entities.KindDoctor)
	q.Channel = entities.ChannelHomolog
	flows, err = svc.SelectFlows(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, flows, 1)
}
