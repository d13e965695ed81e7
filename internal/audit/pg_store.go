// README: Audit entries persisted to PostgreSQL.
package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridebid/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Record(ctx context.Context, e Entry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (action, actor_id, resource_type, resource_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.Action, string(e.ActorID), e.ResourceType, string(e.ResourceID), e.Detail, e.CreatedAt,
	)
	return err
}

func (s *PGStore) ListForResource(ctx context.Context, resourceType string, id types.ID) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT action, actor_id, resource_type, resource_id, detail, created_at
		FROM audit_log
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY id`, resourceType, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Action, &e.ActorID, &e.ResourceType, &e.ResourceID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
