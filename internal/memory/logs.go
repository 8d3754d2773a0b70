package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/interaction"
)

var _ interaction.Store = (*Store)(nil)

// SaveInteraction writes l and its tool executions in one transaction.
func (s *Store) SaveInteraction(ctx context.Context, l *interaction.Log) error {
	contextJSON, err := marshalJSON(l.Context)
	if err != nil {
		return err
	}
	modelJSON, err := json.Marshal(l.ModelInfo)
	if err != nil {
		return err
	}
	perfJSON, err := json.Marshal(l.Performance)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO interaction_logs (
				id, session_id, timestamp, user_message, system_prompt, context_json,
				ai_response, model_info_json, performance_json, error, data_classification
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, l.ID, l.SessionID, toMillis(l.Timestamp), l.UserMessage, nullString(l.SystemPrompt), contextJSON,
			l.AIResponse, string(modelJSON), string(perfJSON), nullString(l.Error), string(l.Classification))
		if err != nil {
			return err
		}

		for _, te := range l.ToolExecutions {
			args, err := marshalJSON(te.Arguments)
			if err != nil {
				return err
			}
			result, err := marshalJSON(te.Result)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO tool_execution_logs (
					id, interaction_log_id, tool_name, arguments_json, result_json,
					success, error, execution_time_ms, timestamp
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, te.ID, l.ID, te.ToolName, args, result, te.Success, nullString(te.Error),
				te.ExecutionTimeMs, toMillis(te.Timestamp))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RecentInteractions returns up to limit logs, newest first, with their
// tool executions.
func (s *Store) RecentInteractions(ctx context.Context, limit int) ([]interaction.Log, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, timestamp, user_message, system_prompt, context_json,
			ai_response, model_info_json, performance_json, error, data_classification
		FROM interaction_logs
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out   []interaction.Log
		index = make(map[string]int)
	)
	for rows.Next() {
		var (
			l                   interaction.Log
			ts                  int64
			system, ctxJSON     sql.NullString
			modelJSON, perfJSON string
			errText             sql.NullString
			class               string
		)
		if err := rows.Scan(&l.ID, &l.SessionID, &ts, &l.UserMessage, &system, &ctxJSON,
			&l.AIResponse, &modelJSON, &perfJSON, &errText, &class); err != nil {
			return nil, err
		}
		l.Timestamp = fromMillis(ts)
		l.SystemPrompt = system.String
		l.Error = errText.String
		l.Classification = interaction.Classification(class)
		if ctxJSON.Valid {
			if err := json.Unmarshal([]byte(ctxJSON.String), &l.Context); err != nil {
				return nil, err
			}
		}
		if err := json.Unmarshal([]byte(modelJSON), &l.ModelInfo); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(perfJSON), &l.Performance); err != nil {
			return nil, err
		}
		index[l.ID] = len(out)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	if err := s.attachToolExecutions(ctx, out, index); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) attachToolExecutions(ctx context.Context, logs []interaction.Log, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.interaction_log_id, e.tool_name, e.arguments_json, e.result_json,
			e.success, e.error, e.execution_time_ms, e.timestamp
		FROM tool_execution_logs e
		JOIN (SELECT id FROM interaction_logs ORDER BY timestamp DESC, rowid DESC LIMIT ?) l
			ON l.id = e.interaction_log_id
		ORDER BY e.timestamp, e.rowid
	`, len(logs))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			te           interaction.ToolExecution
			args, result sql.NullString
			errText      sql.NullString
			ts           int64
		)
		if err := rows.Scan(&te.ID, &te.InteractionID, &te.ToolName, &args, &result,
			&te.Success, &errText, &te.ExecutionTimeMs, &ts); err != nil {
			return err
		}
		te.Error = errText.String
		te.Timestamp = fromMillis(ts)
		if args.Valid {
			if err := json.Unmarshal([]byte(args.String), &te.Arguments); err != nil {
				return err
			}
		}
		if result.Valid {
			if err := json.Unmarshal([]byte(result.String), &te.Result); err != nil {
				return err
			}
		}
		if i, ok := index[te.InteractionID]; ok {
			logs[i].ToolExecutions = append(logs[i].ToolExecutions, te)
		}
	}
	return rows.Err()
}

// CountInteractions returns the number of stored logs.
func (s *Store) CountInteractions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM interaction_logs").Scan(&n)
	return n, err
}

// TrimInteractions keeps the newest max logs.
func (s *Store) TrimInteractions(ctx context.Context, max int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM interaction_logs
		WHERE id NOT IN (
			SELECT id FROM interaction_logs ORDER BY timestamp DESC, rowid DESC LIMIT ?
		)
	`, max)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteInteractionsBefore removes logs older than cutoff.
func (s *Store) DeleteInteractionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM interaction_logs WHERE timestamp < ?", toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LoadLoggingConfig returns the saved config, or nil when none is saved.
func (s *Store) LoadLoggingConfig(ctx context.Context) (*interaction.Config, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT config_json FROM logging_config WHERE id = 1").Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg interaction.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveLoggingConfig stores cfg, replacing any saved config.
func (s *Store) SaveLoggingConfig(ctx context.Context, cfg interaction.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO logging_config (id, config_json, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`, string(raw), toMillis(s.now()))
	return err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
