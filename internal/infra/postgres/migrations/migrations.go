package migrations

import (
	_ "embed"

	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_quizzes.sql
var createQuizzesSQL string

//go:embed 0002_create_session_snapshots.sql
var createSessionSnapshotsSQL string

//go:embed 0003_create_snapshot_participants.sql
var createSnapshotParticipantsSQL string

var Migrations = migrate.NewMigrations()
