package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second
	txTimeout = 10 * time.Second

	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"

	// activePaymentIndex — частичный уникальный индекс «один completed платёж на заказ».
	activePaymentIndex = "payment_records_active_order_idx"
)

// Store оборачивает SQL-подключение к PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Repos возвращает репозитории, работающие в режиме autocommit.
func (s *Store) Repos() domain.Repositories {
	return s.repos(conn{q: s.db, db: s.db})
}

// RunInTx открывает транзакцию READ COMMITTED. Репозитории внутри fn блокируют
// читаемые строки через FOR UPDATE, а остатки меняются условным UPDATE,
// поэтому конкурентные оформления не могут увести stock_quantity ниже нуля.
func (s *Store) RunInTx(ctx context.Context, fn func(repos domain.Repositories) error) (err error) {
	txCtx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return dbError("begin tx", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(s.repos(conn{q: tx, db: s.db, tx: true})); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return dbError("commit tx", err)
	}
	return nil
}

func (s *Store) repos(c conn) domain.Repositories {
	return domain.Repositories{
		Products: &productRepository{conn: c},
		Carts:    &cartRepository{conn: c},
		Orders:   &orderRepository{conn: c},
		Payments: &paymentRepository{conn: c},
		Outbox:   &outboxRepository{conn: c},
		Timeline: &timelineRepository{conn: c},
	}
}

// queryer — общее подмножество *sql.DB и *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn — контекст выполнения репозитория: обычное подключение или открытая транзакция.
type conn struct {
	q  queryer
	db *sql.DB
	tx bool
}

// lockClause возвращает FOR UPDATE внутри транзакции.
func (c conn) lockClause() string {
	if c.tx {
		return " FOR UPDATE"
	}
	return ""
}

// atomic выполняет fn в текущей транзакции или открывает локальную.
func (c conn) atomic(ctx context.Context, fn func(q queryer) error) (err error) {
	if c.tx {
		return fn(c.q)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return dbError("commit tx", err)
	}
	return nil
}

func withOpTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

// dbError помечает ошибку драйвера как ErrPersistence, сохраняя исходную причину.
func dbError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

func isConstraintViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return (pgErr.Code == pgUniqueViolation || pgErr.Code == pgCheckViolation) && pgErr.ConstraintName == constraint
	}
	return false
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

var (
	_ domain.Store      = (*Store)(nil)
	_ domain.Transactor = (*Store)(nil)
)
