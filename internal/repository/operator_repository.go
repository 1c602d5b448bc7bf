package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/okello/airlift/internal/model"
)

// GetOperator fetches an operator and their compliance documents.
func (r *Repository) GetOperator(ctx context.Context, id string) (*model.Operator, error) {
	o := &model.Operator{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, approval_status, service_areas, vehicle_types, completed_jobs
		FROM operators WHERE id = $1
	`, id).Scan(&o.ID, &o.Name, &o.Approval, &o.ServiceAreas, &o.VehicleTypes, &o.CompletedJobs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operator %s: %w", id, err)
	}

	docs, err := r.loadDocuments(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	o.Documents = docs[id]
	return o, nil
}

// ListApprovedByVehicleType returns every APPROVED operator declaring the
// given vehicle type, documents attached, ordered by id for deterministic
// broadcast lists.
func (r *Repository) ListApprovedByVehicleType(ctx context.Context, vehicleType string) ([]model.Operator, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, approval_status, service_areas, vehicle_types, completed_jobs
		FROM operators
		WHERE approval_status = 'APPROVED' AND $1 = ANY(vehicle_types)
		ORDER BY id
	`, vehicleType)
	if err != nil {
		return nil, fmt.Errorf("list operators for vehicle type %s: %w", vehicleType, err)
	}
	defer rows.Close()

	var (
		out []model.Operator
		ids []string
	)
	for rows.Next() {
		var o model.Operator
		if err := rows.Scan(&o.ID, &o.Name, &o.Approval, &o.ServiceAreas, &o.VehicleTypes, &o.CompletedJobs); err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	docs, err := r.loadDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Documents = docs[out[i].ID]
	}
	return out, nil
}

func (r *Repository) loadDocuments(ctx context.Context, operatorIDs []string) (map[string][]model.OperatorDocument, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT operator_id, document_type, expires_at
		FROM operator_documents
		WHERE operator_id = ANY($1)
	`, operatorIDs)
	if err != nil {
		return nil, fmt.Errorf("load operator documents: %w", err)
	}
	defer rows.Close()

	docs := make(map[string][]model.OperatorDocument, len(operatorIDs))
	for rows.Next() {
		var (
			opID string
			d    model.OperatorDocument
		)
		if err := rows.Scan(&opID, &d.Type, &d.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan operator document: %w", err)
		}
		docs[opID] = append(docs[opID], d)
	}
	return docs, rows.Err()
}
