package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quiz-room-service/internal/domain"
)

// RoomExport is one archived room, keyed by code and completion time.
type RoomExport struct {
	bun.BaseModel `bun:"table:room_exports"`

	ID             int64           `bun:"id,pk,autoincrement"`
	RoomCode       string          `bun:"room_code,notnull"`
	QuizID         string          `bun:"quiz_id,notnull"`
	TotalQuestions int             `bun:"total_questions,notnull"`
	Data           json.RawMessage `bun:"data,type:jsonb,notnull"`
	ExportedAt     time.Time       `bun:"exported_at,notnull"`
}

// ExportArchive writes completed room exports to Postgres through bun.
type ExportArchive struct {
	db *bun.DB
}

func NewExportArchive(db *bun.DB) *ExportArchive {
	return &ExportArchive{db: db}
}

func (a *ExportArchive) Archive(ctx context.Context, export domain.Export) error {
	data, err := json.Marshal(export)
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	row := &RoomExport{
		RoomCode:       export.Room.Code,
		QuizID:         export.Room.QuizID,
		TotalQuestions: export.Room.TotalQuestions,
		Data:           data,
		ExportedAt:     export.ExportedAt,
	}
	if _, err := a.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("archive export: %w", err)
	}
	return nil
}

// Latest returns the most recent archived export for a room code.
func (a *ExportArchive) Latest(ctx context.Context, code string) (domain.Export, error) {
	row := new(RoomExport)
	err := a.db.NewSelect().
		Model(row).
		Where("room_code = ?", code).
		OrderExpr("exported_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Export{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Export{}, fmt.Errorf("load export: %w", err)
	}
	var export domain.Export
	if err := json.Unmarshal(row.Data, &export); err != nil {
		return domain.Export{}, fmt.Errorf("unmarshal export: %w", err)
	}
	return export, nil
}
