package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-session-service/internal/domain"
)

// SnapshotStore is the durable store of record for finished sessions.
// History and leaderboard features read only from here. SaveSnapshot is
// the one full sync: an upsert of the session row plus a full replace of
// its participant rows in a single transaction, so the partial safety
// copies written during play are always superseded.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap domain.SessionSnapshot) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const upsertStmt = `
INSERT INTO session_snapshots
	(session_id, quiz_id, host_id, end_mode, started_at, finished_at, total_time_minutes, question_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id) DO UPDATE SET
	quiz_id = EXCLUDED.quiz_id,
	host_id = EXCLUDED.host_id,
	end_mode = EXCLUDED.end_mode,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at,
	total_time_minutes = EXCLUDED.total_time_minutes,
	question_count = EXCLUDED.question_count;`

	_, err = tx.Exec(ctx, upsertStmt,
		snap.SessionID, snap.QuizID, snap.HostID, string(snap.EndMode),
		snap.StartedAt, snap.FinishedAt, snap.TotalTimeMinutes, snap.QuestionCount,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	// Full replace: any opportunistic partial rows go away with the rest.
	_, err = tx.Exec(ctx, `DELETE FROM snapshot_participants WHERE session_id = $1`, snap.SessionID)
	if err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}

	const insParticipantStmt = `
INSERT INTO snapshot_participants
	(session_id, participant_id, user_id, display_name, score, accuracy, ended, data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	for _, p := range snap.Participants {
		raw, mErr := json.Marshal(p)
		if mErr != nil {
			err = fmt.Errorf("marshal participant: %w", mErr)
			return err
		}
		_, err = tx.Exec(ctx, insParticipantStmt,
			snap.SessionID, p.ID, p.UserID, p.DisplayName, p.Score, p.Accuracy, p.Ended, raw,
		)
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SaveParticipant writes one participant's safety copy while the session
// is still running. The full snapshot overwrites these rows.
func (s *SnapshotStore) SaveParticipant(ctx context.Context, sessionID string, p domain.Participant) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}

	const stmt = `
INSERT INTO snapshot_participants
	(session_id, participant_id, user_id, display_name, score, accuracy, ended, data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id, participant_id) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	score = EXCLUDED.score,
	accuracy = EXCLUDED.accuracy,
	ended = EXCLUDED.ended,
	data = EXCLUDED.data;`

	_, err = s.pool.Exec(ctx, stmt,
		sessionID, p.ID, p.UserID, p.DisplayName, p.Score, p.Accuracy, p.Ended, raw,
	)
	if err != nil {
		return fmt.Errorf("save participant: %w", err)
	}
	return nil
}

func (s *SnapshotStore) GetSnapshot(ctx context.Context, sessionID string) (domain.SessionSnapshot, error) {
	const snapStmt = `
SELECT quiz_id, host_id, end_mode, started_at, finished_at, total_time_minutes, question_count
FROM session_snapshots WHERE session_id = $1;`

	snap := domain.SessionSnapshot{SessionID: sessionID}
	var endMode string
	err := s.pool.QueryRow(ctx, snapStmt, sessionID).Scan(
		&snap.QuizID, &snap.HostID, &endMode, &snap.StartedAt,
		&snap.FinishedAt, &snap.TotalTimeMinutes, &snap.QuestionCount,
	)
	if err == pgx.ErrNoRows {
		return domain.SessionSnapshot{}, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	snap.EndMode = domain.EndMode(endMode)

	rows, err := s.pool.Query(ctx,
		`SELECT data FROM snapshot_participants WHERE session_id = $1 ORDER BY score DESC, display_name ASC`,
		sessionID,
	)
	if err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("read participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return domain.SessionSnapshot{}, fmt.Errorf("scan participant: %w", err)
		}
		var p domain.Participant
		if err := json.Unmarshal(raw, &p); err != nil {
			return domain.SessionSnapshot{}, fmt.Errorf("unmarshal participant: %w", err)
		}
		snap.Participants = append(snap.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return domain.SessionSnapshot{}, fmt.Errorf("iterate participants: %w", err)
	}
	return snap, nil
}
