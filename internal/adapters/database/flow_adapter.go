package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/agendaflow/backend/internal/domain/entities"
	"github.com/agendaflow/backend/internal/domain/repositories"
	"github.com/agendaflow/backend/internal/infrastructure/clients/postgres"
	"github.com/agendaflow/backend/internal/infrastructure/observability"
	apperrors "github.com/agendaflow/backend/pkg/errors"
)

const (
	tableDraft     = "flows_draft"
	tablePublished = "flows_published"
)

var flowColumns = []interface{}{
	"id", "integration_id", "type", "references", "step", "oppose_step",
	"minimum_age", "maximum_age", "period_of_day", "patient_sex", "cpfs",
	"execute_from", "execute_until", "run_between_start", "run_between_end",
	"trigger", "actions", "inactive", "deleted_at", "position",
	"created_at", "updated_at", "published_at",
}

// FlowAdapter implements the FlowRepository interface over the flows_draft
// and flows_published tables. Reference lists, steps, and actions are JSONB
// columns; the adapter only applies the coarse pre-filter (tenant, enabled).
// Rule predicates are evaluated in the matching service.
type FlowAdapter struct {
	client  *postgres.Client
	db      *goqu.Database
	metrics *observability.Metrics
}

// NewFlowAdapter creates a new flow adapter
func NewFlowAdapter(client *postgres.Client, metrics *observability.Metrics) repositories.FlowRepository {
	return &FlowAdapter{
		client:  client,
		db:      goqu.New("postgres", client.DB()),
		metrics: metrics,
	}
}

func tableFor(channel entities.ChannelKind) string {
	if channel == entities.ChannelHomolog {
		return tableDraft
	}
	return tablePublished
}

// ListByIntegration retrieves the tenant's enabled flows for the channel's
// generation, in stable insertion order.
func (a *FlowAdapter) ListByIntegration(ctx context.Context, integrationID string, channel entities.ChannelKind) ([]*entities.Flow, error) {
	query, args, err := a.db.Select(flowColumns...).
		From(tableFor(channel)).
		Where(
			goqu.Ex{"integration_id": integrationID, "inactive": false},
			goqu.C("deleted_at").IsNull(),
		).
		Order(goqu.I("position").Asc(), goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}
	return a.queryFlows(ctx, a.client.DB(), query, args)
}

// ListDrafts retrieves every draft record for the tenant, soft-deleted and
// inactive ones included.
func (a *FlowAdapter) ListDrafts(ctx context.Context, integrationID string) ([]*entities.Flow, error) {
	query, args, err := a.db.Select(flowColumns...).
		From(tableDraft).
		Where(goqu.Ex{"integration_id": integrationID}).
		Order(goqu.I("position").Asc(), goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}
	return a.queryFlows(ctx, a.client.DB(), query, args)
}

// UpsertDraft inserts or replaces draft records keyed by id.
func (a *FlowAdapter) UpsertDraft(ctx context.Context, flows []*entities.Flow) error {
	if len(flows) == 0 {
		return nil
	}

	rows := make([]interface{}, 0, len(flows))
	for _, f := range flows {
		record, err := flowRecord(f)
		if err != nil {
			return err
		}
		rows = append(rows, record)
	}

	update := goqu.Record{}
	for _, col := range flowColumns {
		name := col.(string)
		if name == "id" {
			continue
		}
		update[name] = goqu.L(fmt.Sprintf("EXCLUDED.%q", name))
	}

	query, args, err := a.db.Insert(tableDraft).
		Rows(rows...).
		OnConflict(goqu.DoUpdate("id", update)).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build upsert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to upsert draft flows", err)
	}
	return nil
}

// Publish replaces the tenant's published generation with its enabled drafts
// inside one transaction. On any error the transaction is rolled back and the
// published generation stays exactly as before.
func (a *FlowAdapter) Publish(ctx context.Context, integrationID string, publishedAt time.Time) (int, error) {
	tx, err := a.client.DB().BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, apperrors.NewInternalError("failed to begin publish transaction", err)
	}
	defer tx.Rollback()

	deleteSQL, deleteArgs, err := a.db.Delete(tablePublished).
		Where(goqu.Ex{"integration_id": integrationID}).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build delete query", err)
	}
	if _, err := tx.ExecContext(ctx, deleteSQL, deleteArgs...); err != nil {
		return 0, apperrors.NewInternalError("failed to clear published flows", err)
	}

	selectSQL, selectArgs, err := a.db.Select(flowColumns...).
		From(tableDraft).
		Where(
			goqu.Ex{"integration_id": integrationID, "inactive": false},
			goqu.C("deleted_at").IsNull(),
		).
		Order(goqu.I("position").Asc(), goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build draft query", err)
	}
	drafts, err := a.queryFlows(ctx, tx, selectSQL, selectArgs)
	if err != nil {
		return 0, err
	}

	if len(drafts) > 0 {
		rows := make([]interface{}, 0, len(drafts))
		for _, f := range drafts {
			f.PublishedAt = &publishedAt
			record, err := flowRecord(f)
			if err != nil {
				return 0, err
			}
			rows = append(rows, record)
		}
		insertSQL, insertArgs, err := a.db.Insert(tablePublished).Rows(rows...).ToSQL()
		if err != nil {
			return 0, apperrors.NewInternalError("failed to build insert query", err)
		}
		if _, err := tx.ExecContext(ctx, insertSQL, insertArgs...); err != nil {
			return 0, apperrors.NewInternalError("failed to insert published flows", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewInternalError("failed to commit publish transaction", err)
	}
	return len(drafts), nil
}

// CountPublished returns the size of the tenant's published generation.
func (a *FlowAdapter) CountPublished(ctx context.Context, integrationID string) (int, error) {
	query, args, err := a.db.Select(goqu.COUNT("*")).
		From(tablePublished).
		Where(goqu.Ex{"integration_id": integrationID}).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build count query", err)
	}

	var count int
	if err := a.client.DB().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, apperrors.NewInternalError("failed to count published flows", err)
	}
	return count, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (a *FlowAdapter) queryFlows(ctx context.Context, q querier, query string, args []interface{}) ([]*entities.Flow, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.DBQueryDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
		}
	}()

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to query flows", err)
	}
	defer rows.Close()

	var flows []*entities.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate flows", err)
	}
	return flows, nil
}

func scanFlow(rows *sql.Rows) (*entities.Flow, error) {
	flow := &entities.Flow{}
	var (
		references, step, opposeStep, cpfs, actions []byte
		minimumAge, maximumAge                      sql.NullInt64
		periodOfDay, patientSex                     sql.NullString
		runBetweenStart, runBetweenEnd, trigger     sql.NullString
		executeFrom, executeUntil                   sql.NullTime
		deletedAt, publishedAt                      sql.NullTime
	)

	err := rows.Scan(
		&flow.ID,
		&flow.IntegrationID,
		&flow.Type,
		&references,
		&step,
		&opposeStep,
		&minimumAge,
		&maximumAge,
		&periodOfDay,
		&patientSex,
		&cpfs,
		&executeFrom,
		&executeUntil,
		&runBetweenStart,
		&runBetweenEnd,
		&trigger,
		&actions,
		&flow.Inactive,
		&deletedAt,
		&flow.Position,
		&flow.CreatedAt,
		&flow.UpdatedAt,
		&publishedAt,
	)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to scan flow", err)
	}

	if err := unmarshalJSONB(references, &flow.References); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(step, &flow.Step); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(opposeStep, &flow.OpposeStep); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(cpfs, &flow.CPFs); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(actions, &flow.Actions); err != nil {
		return nil, err
	}

	if minimumAge.Valid {
		v := int(minimumAge.Int64)
		flow.MinimumAge = &v
	}
	if maximumAge.Valid {
		v := int(maximumAge.Int64)
		flow.MaximumAge = &v
	}
	flow.PeriodOfDay = entities.PeriodOfDay(periodOfDay.String)
	flow.PatientSex = patientSex.String
	flow.RunBetweenStart = runBetweenStart.String
	flow.RunBetweenEnd = runBetweenEnd.String
	flow.Trigger = trigger.String
	if executeFrom.Valid {
		flow.ExecuteFrom = &executeFrom.Time
	}
	if executeUntil.Valid {
		flow.ExecuteUntil = &executeUntil.Time
	}
	if deletedAt.Valid {
		flow.DeletedAt = &deletedAt.Time
	}
	if publishedAt.Valid {
		flow.PublishedAt = &publishedAt.Time
	}
	return flow, nil
}

func flowRecord(f *entities.Flow) (goqu.Record, error) {
	references, err := marshalJSONB(f.References)
	if err != nil {
		return nil, err
	}
	step, err := marshalJSONB(f.Step)
	if err != nil {
		return nil, err
	}
	opposeStep, err := marshalJSONB(f.OpposeStep)
	if err != nil {
		return nil, err
	}
	cpfs, err := marshalJSONB(f.CPFs)
	if err != nil {
		return nil, err
	}
	actions, err := marshalJSONB(f.Actions)
	if err != nil {
		return nil, err
	}

	return goqu.Record{
		"id":                f.ID,
		"integration_id":    f.IntegrationID,
		"type":              f.Type,
		"references":        references,
		"step":              step,
		"oppose_step":       opposeStep,
		"minimum_age":       f.MinimumAge,
		"maximum_age":       f.MaximumAge,
		"period_of_day":     nullableString(string(f.PeriodOfDay)),
		"patient_sex":       nullableString(f.PatientSex),
		"cpfs":              cpfs,
		"execute_from":      f.ExecuteFrom,
		"execute_until":     f.ExecuteUntil,
		"run_between_start": nullableString(f.RunBetweenStart),
		"run_between_end":   nullableString(f.RunBetweenEnd),
		"trigger":           nullableString(f.Trigger),
		"actions":           actions,
		"inactive":          f.Inactive,
		"deleted_at":        f.DeletedAt,
		"position":          f.Position,
		"created_at":        f.CreatedAt,
		"updated_at":        f.UpdatedAt,
		"published_at":      f.PublishedAt,
	}, nil
}

func marshalJSONB(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to marshal flow field", err)
	}
	return raw, nil
}

func unmarshalJSONB(raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.NewInternalError("failed to unmarshal flow field", err)
	}
	return nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
