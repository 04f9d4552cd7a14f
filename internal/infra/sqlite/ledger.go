package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/greenlight-sh/greenlight/internal/ledger"
)

// Ledger implements [ledger.Ledger] backed by SQLite. The table is strictly
// append-only: this type issues no UPDATE or DELETE statements.
type Ledger struct {
	DB *sql.DB
}

func (l *Ledger) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.DeploymentID == "" {
		return ledger.ErrEmptyDeploymentID
	}

	_, err := l.DB.ExecContext(ctx,
		`INSERT INTO ledger_entries (deployment_id, timestamp, phase, detail)
		 VALUES (?, ?, ?, ?)`,
		entry.DeploymentID, entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.Phase, entry.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (l *Ledger) History(ctx context.Context, deploymentID string) ([]ledger.Entry, error) {
	rows, err := l.DB.QueryContext(ctx,
		`SELECT deployment_id, timestamp, phase, detail
		 FROM ledger_entries WHERE deployment_id = ? ORDER BY id`,
		deploymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var entry ledger.Entry
		var ts string
		if err := rows.Scan(&entry.DeploymentID, &ts, &entry.Phase, &entry.Detail); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entry.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse ledger timestamp: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
