// README: Lifecycle event log backed by PostgreSQL.
package riderequest

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"

	"roadhelper/internal/types"
)

// EventLog records lifecycle transitions for audit and the admin detail view.
type EventLog interface {
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, requestID types.ID) ([]Event, error)
}

type EventStore struct {
	db *pgxpool.Pool
}

func NewEventStore(db *pgxpool.Pool) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_request_events (
			request_id, from_status, to_status, actor_role, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RequestID),
		string(e.From),
		string(e.To),
		string(e.ActorRole),
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func (s *EventStore) ListEvents(ctx context.Context, requestID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, request_id, from_status, to_status, actor_role, actor_id, created_at
		FROM ride_request_events
		WHERE request_id = $1
		ORDER BY id`, string(requestID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID sql.NullString
		if err := rows.Scan(&e.ID, &e.RequestID, &e.From, &e.To, &e.ActorRole, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			id := types.ID(actorID.String)
			e.ActorID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
