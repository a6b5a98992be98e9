package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const paymentColumns = `id, order_id, buyer_id, transaction_id, method, amount_minor, currency, status,
	failure_code, message, payment_date, refund_id, refund_date, refund_reason, created_at, updated_at`

type paymentRepository struct {
	conn
}

func scanPayment(row rowScanner) (domain.PaymentRecord, error) {
	var (
		p           domain.PaymentRecord
		method      string
		status      string
		paymentDate sql.NullTime
		refundDate  sql.NullTime
	)
	if err := row.Scan(
		&p.ID, &p.OrderID, &p.BuyerID, &p.TransactionID, &method, &p.AmountMinor, &p.Currency, &status,
		&p.FailureCode, &p.Message, &paymentDate, &p.RefundID, &refundDate, &p.RefundReason,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.PaymentRecord{}, err
	}
	p.Method = domain.PaymentMethod(method)
	p.Status = domain.PaymentStatus(status)
	p.PaymentDate = timePtr(paymentDate)
	p.RefundDate = timePtr(refundDate)
	return p, nil
}

// mapPaymentWriteErr переводит нарушения ограничений в доменные ошибки.
func mapPaymentWriteErr(op string, record domain.PaymentRecord, err error) error {
	if isConstraintViolation(err, activePaymentIndex) {
		return fmt.Errorf("order %s: %w", record.OrderID, domain.ErrAlreadyPaid)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("payment %s / transaction %s: %w", record.ID, record.TransactionID, domain.ErrAlreadyExists)
	}
	return dbError(op, err)
}

func (r *paymentRepository) Create(ctx context.Context, record domain.PaymentRecord) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payment_records (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		record.ID, record.OrderID, record.BuyerID, record.TransactionID, string(record.Method),
		record.AmountMinor, record.Currency, string(record.Status), record.FailureCode, record.Message,
		nullTime(record.PaymentDate), record.RefundID, nullTime(record.RefundDate), record.RefundReason,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return mapPaymentWriteErr("insert payment record", record, err)
	}
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (domain.PaymentRecord, error) {
	return r.getBy(ctx, "id", id)
}

func (r *paymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (domain.PaymentRecord, error) {
	return r.getBy(ctx, "transaction_id", transactionID)
}

func (r *paymentRepository) getBy(ctx context.Context, column, value string) (domain.PaymentRecord, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	record, err := scanPayment(r.q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_records WHERE `+column+` = $1`+r.lockClause(), value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentRecord{}, domain.ErrPaymentNotFound
		}
		return domain.PaymentRecord{}, dbError("get payment record", err)
	}
	return record, nil
}

func (r *paymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentRecord, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payment_records
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, dbError("list payment records", err)
	}
	defer rows.Close()

	result := make([]domain.PaymentRecord, 0)
	for rows.Next() {
		record, err := scanPayment(rows)
		if err != nil {
			return nil, dbError("scan payment record", err)
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate payment records", err)
	}
	return result, nil
}

func (r *paymentRepository) Save(ctx context.Context, record domain.PaymentRecord) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE payment_records
		SET transaction_id = $2,
		    status = $3,
		    failure_code = $4,
		    message = $5,
		    payment_date = $6,
		    refund_id = $7,
		    refund_date = $8,
		    refund_reason = $9,
		    updated_at = $10
		WHERE id = $1
	`,
		record.ID, record.TransactionID, string(record.Status), record.FailureCode, record.Message,
		nullTime(record.PaymentDate), record.RefundID, nullTime(record.RefundDate), record.RefundReason,
		record.UpdatedAt,
	)
	if err != nil {
		return mapPaymentWriteErr("update payment record", record, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return dbError("rows affected", err)
	}
	if affected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
