package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/store"
)

const columns = `id, date, description, normalized_description, original_amount, currency,
	amount_in_reference_currency, is_deleted, created_at, updated_at`

// Repository is the sqlite implementation of store.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open database. The caller owns db.
func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

func (r *Repository) Find(ctx context.Context, f store.Filter) (domain.Page, error) {
	f = f.Normalize()

	where, args := filterClause(f)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions WHERE "+where, args...).Scan(&total); err != nil {
		return domain.Page{}, fmt.Errorf("Find: count: %w", err)
	}

	query := "SELECT " + columns + " FROM transactions WHERE " + where +
		" ORDER BY date DESC, created_at DESC, id LIMIT ? OFFSET ?"
	txs, err := r.query(ctx, query, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return domain.Page{}, fmt.Errorf("Find: %w", err)
	}

	return store.NewPage(f, txs, total), nil
}

func filterClause(f store.Filter) (string, []interface{}) {
	where := []string{"is_deleted = ?"}
	args := []interface{}{boolToInt(f.Deleted)}

	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + escapeLike(strings.ToLower(s)) + "%"
		cond := `LOWER(description) LIKE ? ESCAPE '\' OR LOWER(currency) LIKE ? ESCAPE '\'`
		args = append(args, pattern, pattern)

		// LOWER folds ASCII only; the normalized column covers case and
		// accents beyond it.
		if norm := domain.NormalizeDescription(s); norm != "" {
			cond += ` OR normalized_description LIKE ? ESCAPE '\'`
			args = append(args, "%"+escapeLike(norm)+"%")
		}
		where = append(where, "("+cond+")")
	}
	return strings.Join(where, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Transaction, error) {
	txs, err := r.query(ctx, "SELECT "+columns+" FROM transactions WHERE id = ?", id)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Get: %s: %w", id, err)
	}
	if len(txs) == 0 {
		return domain.Transaction{}, fmt.Errorf("Get: %s: %w", id, store.ErrNotFound)
	}
	return txs[0], nil
}

func (r *Repository) All(ctx context.Context, deleted bool) ([]domain.Transaction, error) {
	txs, err := r.query(ctx, "SELECT "+columns+" FROM transactions WHERE is_deleted = ? ORDER BY date DESC, created_at DESC, id", boolToInt(deleted))
	if err != nil {
		return nil, fmt.Errorf("All: %w", err)
	}
	return txs, nil
}

func (r *Repository) PersistAll(ctx context.Context, txs []domain.Transaction) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, len(txs))
	now := Now()

	err := WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions(`+columns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, t := range txs {
			t.ID = uuid.NewString()
			t.NormalizedDescription = t.Key().Description
			t.IsDeleted = false
			t.CreatedAt = now
			t.UpdatedAt = now

			if _, err := stmt.ExecContext(ctx,
				t.ID, t.Date.String(), t.Description, t.NormalizedDescription, t.OriginalAmount,
				t.Currency, t.AmountInReferenceCurrency, 0, t.CreatedAt, t.UpdatedAt,
			); err != nil {
				return fmt.Errorf("row %d: %w", i+1, mapErr(err))
			}
			out[i] = t
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("PersistAll: %d records: %w", len(txs), err)
	}
	return out, nil
}

func (r *Repository) ExistsByKeys(ctx context.Context, keys []domain.Key) (domain.KeySet, error) {
	out := domain.NewKeySet()
	if len(keys) == 0 {
		return out, nil
	}

	encoded, err := encodeKeys(keys)
	if err != nil {
		return nil, fmt.Errorf("ExistsByKeys: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
	SELECT date, normalized_description FROM transactions
	WHERE is_deleted = 0
	  AND date || '|' || normalized_description IN (SELECT value FROM json_each(?))`, encoded)
	if err != nil {
		return nil, fmt.Errorf("ExistsByKeys: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var date, desc string
		if err := rows.Scan(&date, &desc); err != nil {
			return nil, fmt.Errorf("ExistsByKeys: scan: %w", err)
		}
		d, err := civil.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("ExistsByKeys: date %q: %w", date, err)
		}
		out.Add(domain.Key{Date: d, Description: desc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ExistsByKeys: rows: %w", err)
	}
	return out, nil
}

func (r *Repository) Update(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	t.NormalizedDescription = domain.NormalizeDescription(t.Description)
	t.UpdatedAt = Now()

	res, err := r.db.ExecContext(ctx, `
	UPDATE transactions
	SET date = ?, description = ?, normalized_description = ?, original_amount = ?, currency = ?,
	    amount_in_reference_currency = ?, updated_at = ?
	WHERE id = ?`,
		t.Date.String(), t.Description, t.NormalizedDescription, t.OriginalAmount, t.Currency,
		t.AmountInReferenceCurrency, t.UpdatedAt, t.ID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Update: %s: %w", t.ID, mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Transaction{}, fmt.Errorf("Update: %s: %w", t.ID, store.ErrNotFound)
	}
	return r.Get(ctx, t.ID)
}

func (r *Repository) SetDeleted(ctx context.Context, ids []string, deleted bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return 0, fmt.Errorf("SetDeleted: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
	UPDATE transactions SET is_deleted = ?, updated_at = ?
	WHERE is_deleted = ? AND id IN (SELECT value FROM json_each(?))`,
		boolToInt(deleted), Now(), boolToInt(!deleted), string(encoded))
	if err != nil {
		return 0, fmt.Errorf("SetDeleted: %w", mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("SetDeleted: rows affected: %w", err)
	}
	return int(n), nil
}

func (r *Repository) HardDelete(ctx context.Context, ids []string, onlyDeleted bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return 0, fmt.Errorf("HardDelete: %w", err)
	}

	query := `DELETE FROM transactions WHERE id IN (SELECT value FROM json_each(?))`
	if onlyDeleted {
		query += ` AND is_deleted = 1`
	}

	res, err := r.db.ExecContext(ctx, query, string(encoded))
	if err != nil {
		return 0, fmt.Errorf("HardDelete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("HardDelete: rows affected: %w", err)
	}
	return int(n), nil
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(rows *sql.Rows) (domain.Transaction, error) {
	var (
		t       domain.Transaction
		date    string
		deleted int
		created time.Time
		updated time.Time
	)
	if err := rows.Scan(&t.ID, &date, &t.Description, &t.NormalizedDescription, &t.OriginalAmount,
		&t.Currency, &t.AmountInReferenceCurrency, &deleted, &created, &updated); err != nil {
		return domain.Transaction{}, err
	}

	d, err := civil.ParseDate(date)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("date %q: %w", date, err)
	}
	t.Date = d
	t.IsDeleted = deleted != 0
	t.CreatedAt = created.UTC()
	t.UpdatedAt = updated.UTC()
	return t, nil
}

func encodeKeys(keys []domain.Key) (string, error) {
	strs := make([]string, len(keys))
	for i, k := range keys {
		strs[i] = k.String()
	}
	b, err := json.Marshal(strs)
	return string(b), err
}

// mapErr turns unique index violations into store.ErrDuplicateKey.
func mapErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", store.ErrDuplicateKey, err)
	}
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ store.Repository = (*Repository)(nil)
