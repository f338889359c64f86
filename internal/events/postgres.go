package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresSource reads event records from the primary application database
// and records backplane-originated presence events into it.
type PostgresSource struct {
	pool      *pgxpool.Pool
	scheduler Scheduler
}

// NewPostgresSource connects to the application database.
func NewPostgresSource(ctx context.Context, databaseURL string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("events: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("events: ping: %w", err)
	}

	log.Info().Msg("Connected to events database")
	return &PostgresSource{pool: pool}, nil
}

// SetScheduler wires the publish worker in. Recorded events are scheduled
// for fan-out through it.
func (s *PostgresSource) SetScheduler(scheduler Scheduler) {
	s.scheduler = scheduler
}

// GetEvent returns the event row and its model snapshot.
func (s *PostgresSource) GetEvent(ctx context.Context, id int64) (*Event, Model, error) {
	var (
		event        Event
		payloadJSON  []byte
		snapshotJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, project_id, video_id, actor_id, payload, model_snapshot, created_at
		FROM collab_events
		WHERE id = $1`, id).Scan(
		&event.ID, &event.Kind, &event.ProjectID, &event.VideoID,
		&event.ActorID, &payloadJSON, &snapshotJSON, &event.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrEventNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("events: get %d: %w", id, err)
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &event.Payload); err != nil {
			return nil, nil, fmt.Errorf("events: decode payload for %d: %w", id, err)
		}
	}

	var model Model
	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &model); err != nil {
			return nil, nil, fmt.Errorf("events: decode model for %d: %w", id, err)
		}
	}

	return &event, model, nil
}

// Record inserts a backplane-originated event and schedules its fan-out.
func (s *PostgresSource) Record(ctx context.Context, event *Event) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("events: encode payload: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO collab_events (kind, project_id, video_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id`,
		event.Kind, event.ProjectID, event.VideoID, event.ActorID, payloadJSON).Scan(&id)
	if err != nil {
		return fmt.Errorf("events: record: %w", err)
	}
	event.ID = id

	if s.scheduler != nil {
		s.scheduler.Schedule(id)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresSource) Close() {
	s.pool.Close()
}
