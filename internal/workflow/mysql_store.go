package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "AgentMarket-Chain/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 持久化工作流状态，适用于多实例部署。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建 MySQLStore 并确保表结构存在。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS workflow_states (
        id VARCHAR(64) PRIMARY KEY,
        query_text TEXT NOT NULL,
        selected_providers TEXT,
        payer_ref VARCHAR(255) DEFAULT '',
        status VARCHAR(32) NOT NULL,
        stages MEDIUMTEXT,
        total_cost DOUBLE NOT NULL DEFAULT 0,
        error_detail TEXT,
        error_code VARCHAR(64) DEFAULT '',
        session_id VARCHAR(128) DEFAULT '',
        thread_id VARCHAR(128) DEFAULT '',
        created_at BIGINT NOT NULL,
        started_at BIGINT NOT NULL DEFAULT 0,
        completed_at BIGINT NOT NULL DEFAULT 0,
        failed_at BIGINT NOT NULL DEFAULT 0,
        updated_at BIGINT NOT NULL,
        INDEX idx_workflow_status (status),
        INDEX idx_workflow_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 workflow_states 表失败")
	}
	return nil
}

// Create 插入新的工作流记录。
func (s *MySQLStore) Create(ctx context.Context, wf *Workflow) error {
	if wf == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "workflow 不能为空")
	}
	if strings.TrimSpace(wf.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工作流 ID 不能为空")
	}

	now := time.Now().Unix()
	if wf.CreatedAt == 0 {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	providers, err := marshalJSONColumn(wf.SelectedProviders)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 Provider 选择失败")
	}
	stages, err := marshalJSONColumn(wf.Stages)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码工作流阶段失败")
	}

	const stmt = `INSERT INTO workflow_states
        (id, query_text, selected_providers, payer_ref, status, stages, total_cost, error_detail, error_code,
         session_id, thread_id, created_at, started_at, completed_at, failed_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', '', '', ?, 0, 0, 0, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		wf.ID,
		wf.Query,
		providers,
		wf.PayerRef,
		string(wf.Status),
		stages,
		wf.TotalCost,
		wf.CreatedAt,
		wf.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrWorkflowConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入工作流失败")
	}
	return nil
}

const workflowColumns = `id, query_text, selected_providers, payer_ref, status, stages, total_cost,
        error_detail, error_code, session_id, thread_id, created_at, started_at, completed_at, failed_at, updated_at`

// Get 查询指定工作流。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflow_states WHERE id = ?`, id)
	wf, err := scanWorkflow(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	return wf, nil
}

// Claim 将排队中的工作流转入处理中，防止重复执行。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Workflow, error) {
	const stmt = `UPDATE workflow_states SET status = ?, started_at = ?, updated_at = ?
        WHERE id = ? AND status = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusProcessing),
		now,
		now,
		id,
		string(StatusQueued),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新工作流状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		wf, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if wf.IsTerminal() {
			return wf, ErrWorkflowCompleted
		}
		return wf, ErrWorkflowConflict
	}
	return s.Get(ctx, id)
}

// MarkCompleted 记录成功结果并进入终态。
func (s *MySQLStore) MarkCompleted(ctx context.Context, id string, outcome Outcome) error {
	stages, err := marshalJSONColumn(outcome.Stages)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码工作流阶段失败")
	}

	const stmt = `UPDATE workflow_states SET status = ?, stages = ?, total_cost = ?, session_id = ?, thread_id = ?,
        completed_at = ?, updated_at = ?, error_detail = '', error_code = '' WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusCompleted),
		stages,
		outcome.TotalCost,
		outcome.SessionID,
		outcome.ThreadID,
		now,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记工作流完成失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

// MarkFailed 记录失败原因并进入终态，已扣费的阶段一并保留。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, errorDetail string, outcome Outcome) error {
	stages, err := marshalJSONColumn(outcome.Stages)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码工作流阶段失败")
	}

	const stmt = `UPDATE workflow_states SET status = ?, stages = ?, total_cost = ?, error_detail = ?, error_code = ?,
        failed_at = ?, updated_at = ? WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusFailed),
		stages,
		outcome.TotalCost,
		errorDetail,
		string(code),
		now,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记工作流失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

// List 返回符合过滤条件的工作流。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Workflow, error) {
	opts.applyDefaults()

	query := `SELECT ` + workflowColumns + ` FROM workflow_states`
	clause, filterArgs := buildWorkflowFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工作流列表失败")
	}
	defer rows.Close()

	workflows := make([]*Workflow, 0, opts.Limit)
	for rows.Next() {
		wf, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历工作流失败")
	}
	return workflows, nil
}

// Stats 返回符合过滤条件的工作流聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (WorkflowStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS queued,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS processing,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS completed,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        COALESCE(SUM(total_cost), 0) AS total_cost,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM workflow_states`

	clause, filterArgs := buildWorkflowFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusQueued), string(StatusProcessing), string(StatusCompleted), string(StatusFailed)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats WorkflowStats
	if err := row.Scan(
		&stats.Total,
		&stats.Queued,
		&stats.Processing,
		&stats.Completed,
		&stats.Failed,
		&stats.TotalCost,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return WorkflowStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工作流统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanWorkflow(scan func(dest ...any) error) (*Workflow, error) {
	var wf Workflow
	var status string
	var providers, stages, errorDetail sql.NullString

	if err := scan(
		&wf.ID,
		&wf.Query,
		&providers,
		&wf.PayerRef,
		&status,
		&stages,
		&wf.TotalCost,
		&errorDetail,
		&wf.ErrorCode,
		&wf.SessionID,
		&wf.ThreadID,
		&wf.CreatedAt,
		&wf.StartedAt,
		&wf.CompletedAt,
		&wf.FailedAt,
		&wf.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析工作流记录失败")
	}

	wf.Status = Status(status)
	wf.ErrorDetail = errorDetail.String
	if err := unmarshalJSONColumn(providers, &wf.SelectedProviders); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 Provider 选择失败")
	}
	if err := unmarshalJSONColumn(stages, &wf.Stages); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析工作流阶段失败")
	}
	return &wf, nil
}

func marshalJSONColumn(value any) (sql.NullString, error) {
	switch v := value.(type) {
	case []string:
		if len(v) == 0 {
			return sql.NullString{}, nil
		}
	case []Stage:
		if len(v) == 0 {
			return sql.NullString{}, nil
		}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func unmarshalJSONColumn(raw sql.NullString, out any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), out)
}

func buildWorkflowFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR query_text LIKE ? OR payer_ref LIKE ? OR error_detail LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
