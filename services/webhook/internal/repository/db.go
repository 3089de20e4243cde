package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
)

// DBTX *sql.DB 와 *sql.Tx 의 공통 메서드
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Transactor 여러 레포지토리 호출을 하나의 원자적 단위로 묶는다
//
// fn 이 에러를 반환하면 모든 변경이 롤백된다. fn 안의 레포지토리 호출은
// 전달받은 ctx 를 사용해야 같은 트랜잭션에 참여한다.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

type sqlTransactor struct {
	db *sql.DB
}

// NewTransactor PostgreSQL 트랜잭션 관리자 생성
func NewTransactor(db *sql.DB) Transactor {
	return &sqlTransactor{db: db}
}

// WithinTx READ COMMITTED 트랜잭션 안에서 fn 실행 (이미 트랜잭션 안이면 합류)
func (t *sqlTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
			return classify(stderrors.Join(err, rbErr), "failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(err, "failed to commit transaction")
	}
	return nil
}

// conn ctx 에 트랜잭션이 있으면 트랜잭션을, 없으면 커넥션 풀을 반환
func conn(ctx context.Context, db *sql.DB) DBTX {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}
