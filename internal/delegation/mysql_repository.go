package delegation

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "GasWarden/internal/errors"
)

// MySQLConfig 描述 MySQL 仓库的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// MySQLRepository 将委托记录与用量事件持久化到 MySQL。
type MySQLRepository struct {
	db *sql.DB
}

// NewMySQLRepository 建立连接并确保表结构存在。
func NewMySQLRepository(ctx context.Context, cfg MySQLConfig) (*MySQLRepository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, stdErrors.New("MySQL DSN 不能为空")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	repo := &MySQLRepository{db: db}
	if err := repo.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *MySQLRepository) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS delegations (
			id VARCHAR(128) NOT NULL PRIMARY KEY,
			delegator VARCHAR(128) NOT NULL,
			agent VARCHAR(128) NOT NULL,
			gas_budget BIGINT NOT NULL,
			usage_count BIGINT NOT NULL DEFAULT 0,
			total_gas_used BIGINT NOT NULL DEFAULT 0,
			gas_budget_spent BIGINT NOT NULL DEFAULT 0,
			gas_budget_remaining BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS delegation_usage (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			delegation_id VARCHAR(128) NOT NULL,
			gas_used BIGINT NOT NULL,
			tx_hash VARCHAR(80) NOT NULL DEFAULT '',
			chain_id BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			KEY idx_delegation_created (delegation_id, created_at)
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("初始化委托表结构失败: %w", err)
		}
	}
	return nil
}

// Create 实现 Repository 接口。
func (r *MySQLRepository) Create(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "委托记录不能为空")
	}
	if record.GasBudget <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "gas 额度必须为正数")
	}
	now := time.Now().Unix()
	remaining := record.GasBudgetRemaining
	if remaining == 0 && record.GasBudgetSpent == 0 {
		remaining = record.GasBudget
	}
	createdAt := record.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO delegations
			(id, delegator, agent, gas_budget, usage_count, total_gas_used,
			 gas_budget_spent, gas_budget_remaining, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Delegator, record.Agent, record.GasBudget,
		record.UsageCount, record.TotalGasUsed, record.GasBudgetSpent,
		remaining, createdAt, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入委托记录失败")
	}
	return nil
}

// Get 实现 Repository 接口。
func (r *MySQLRepository) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, delegator, agent, gas_budget, usage_count, total_gas_used,
		        gas_budget_spent, gas_budget_remaining, created_at, updated_at
		 FROM delegations WHERE id = ?`, id)
	record := &Record{}
	err := row.Scan(&record.ID, &record.Delegator, &record.Agent,
		&record.GasBudget, &record.UsageCount, &record.TotalGasUsed,
		&record.GasBudgetSpent, &record.GasBudgetRemaining,
		&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询委托记录失败")
	}
	return record, nil
}

// ListUsage 实现 Repository 接口，按时间倒序返回。
func (r *MySQLRepository) ListUsage(ctx context.Context, id string, limit, offset int) ([]UsageEvent, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, delegation_id, gas_used, tx_hash, chain_id, created_at
		 FROM delegation_usage
		 WHERE delegation_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`, id, limit, offset)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询用量事件失败")
	}
	defer rows.Close()

	events := make([]UsageEvent, 0, limit)
	for rows.Next() {
		var event UsageEvent
		if err := rows.Scan(&event.ID, &event.DelegationID, &event.GasUsed,
			&event.TxHash, &event.ChainID, &event.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析用量事件失败")
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历用量事件失败")
	}
	return events, nil
}

// AppendUsage 在单个事务内扣减额度并追加事件。
// 扣减使用条件更新保证剩余额度不会被并发扣成负数。
func (r *MySQLRepository) AppendUsage(ctx context.Context, event UsageEvent) (*Record, error) {
	if event.GasUsed <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "gas 消耗必须为正数")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	result, err := tx.ExecContext(ctx,
		`UPDATE delegations
		 SET usage_count = usage_count + 1,
		     total_gas_used = total_gas_used + ?,
		     gas_budget_spent = gas_budget_spent + ?,
		     gas_budget_remaining = gas_budget_remaining - ?,
		     updated_at = ?
		 WHERE id = ? AND gas_budget_remaining >= ?`,
		event.GasUsed, event.GasUsed, event.GasUsed, now,
		event.DelegationID, event.GasUsed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扣减委托额度失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取扣减结果失败")
	}
	if affected == 0 {
		// 区分记录不存在与额度不足。
		var exists int
		row := tx.QueryRowContext(ctx, `SELECT 1 FROM delegations WHERE id = ?`, event.DelegationID)
		if scanErr := row.Scan(&exists); scanErr != nil {
			if stdErrors.Is(scanErr, sql.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, scanErr, "查询委托记录失败")
		}
		return nil, ErrBudgetExceeded
	}

	createdAt := event.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO delegation_usage (id, delegation_id, gas_used, tx_hash, chain_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.DelegationID, event.GasUsed, event.TxHash, event.ChainID, createdAt,
	); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "追加用量事件失败")
	}

	record := &Record{}
	row := tx.QueryRowContext(ctx,
		`SELECT id, delegator, agent, gas_budget, usage_count, total_gas_used,
		        gas_budget_spent, gas_budget_remaining, created_at, updated_at
		 FROM delegations WHERE id = ?`, event.DelegationID)
	if err := row.Scan(&record.ID, &record.Delegator, &record.Agent,
		&record.GasBudget, &record.UsageCount, &record.TotalGasUsed,
		&record.GasBudgetSpent, &record.GasBudgetRemaining,
		&record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新后的委托记录失败")
	}

	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return record, nil
}

// Close 关闭数据库连接。
func (r *MySQLRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

var _ Repository = (*MySQLRepository)(nil)
