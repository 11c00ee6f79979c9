package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venushealth/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns a PostgreSQL-backed invoice repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const invoiceCols = `id, number, patient_id, appointment_id, total_amount, status, payment_method, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.PatientID, &inv.AppointmentID,
		&inv.TotalAmount, &inv.Status, &inv.PaymentMethod, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	return &inv, nil
}

func (r *repoPG) Create(ctx context.Context, inv *Invoice) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice (id, number, patient_id, appointment_id, total_amount, status, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		inv.ID, inv.Number, inv.PatientID, inv.AppointmentID, inv.TotalAmount, inv.Status, inv.PaymentMethod)
	if err := row.Scan(&inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	for i := range inv.LineItems {
		item := &inv.LineItems[i]
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.InvoiceID = inv.ID
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO invoice_line_item (id, invoice_id, description, amount)
			VALUES ($1, $2, $3, $4)`,
			item.ID, item.InvoiceID, item.Description, item.Amount)
		if err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, err
	}
	inv.LineItems, err = r.GetLineItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Invoice, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoice WHERE appointment_id = $1`, appointmentID)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, err
	}
	inv.LineItems, err = r.GetLineItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status, paymentMethod string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoice SET status = $2, payment_method = $3, updated_at = now()
		WHERE id = $1`,
		id, status, paymentMethod)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*Invoice, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM invoice WHERE ($1 = '' OR status = $1)`, status).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+invoiceCols+` FROM invoice
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	invoices, err := collectInvoices(rows)
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT count(*) FROM invoice WHERE patient_id = $1`, patientID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+invoiceCols+` FROM invoice
		WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	invoices, err := collectInvoices(rows)
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

func collectInvoices(rows pgx.Rows) ([]*Invoice, error) {
	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (r *repoPG) GetLineItems(ctx context.Context, invoiceID uuid.UUID) ([]LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, description, amount
		FROM invoice_line_item WHERE invoice_id = $1
		ORDER BY description`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("get line items: %w", err)
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Description, &item.Amount); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
