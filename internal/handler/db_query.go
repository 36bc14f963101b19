package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// DBOperation selects between reading rows and running a statement.
type DBOperation string

const (
	DBOperationQuery DBOperation = "query"
	DBOperationExec  DBOperation = "exec"
)

// DBQueryInput is the executor input for db_query schedules.
type DBQueryInput struct {
	Operation DBOperation   `json:"operation,omitempty"`
	Query     string        `json:"query"`
	Args      []interface{} `json:"args,omitempty"`
}

// DBQueryHandler runs SQL against a configured database.
type DBQueryHandler struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewDBQueryHandler creates a new database query handler.
func NewDBQueryHandler(db *sql.DB, logger *zap.Logger) *DBQueryHandler {
	return &DBQueryHandler{
		logger: logger,
		db:     db,
	}
}

// Execute performs the database operation. The operation defaults to query.
func (h *DBQueryHandler) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in DBQueryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}
	if in.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	operation := in.Operation
	if operation == "" {
		operation = DBOperationQuery
	}

	h.logger.Info("Executing database operation",
		zap.String("operation", string(operation)),
		zap.String("query", in.Query))

	var result interface{}
	var err error

	switch operation {
	case DBOperationQuery:
		result, err = h.query(ctx, in.Query, in.Args...)
	case DBOperationExec:
		result, err = h.exec(ctx, in.Query, in.Args...)
	default:
		return nil, fmt.Errorf("unsupported operation: %s", operation)
	}
	if err != nil {
		return nil, err
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return resultBytes, nil
}

func (h *DBQueryHandler) query(ctx context.Context, query string, args ...interface{}) (interface{}, error) {
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		for i := range values {
			values[i] = new(interface{})
		}

		if err := rows.Scan(values...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]interface{})
		for i, column := range columns {
			row[column] = *(values[i].(*interface{}))
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return results, nil
}

func (h *DBQueryHandler) exec(ctx context.Context, query string, args ...interface{}) (interface{}, error) {
	result, err := h.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}

	lastID, err := result.LastInsertId()
	if err != nil {
		// Not all databases support LastInsertId
		lastID = 0
	}

	return map[string]int64{
		"affected_rows":  affected,
		"last_insert_id": lastID,
	}, nil
}
