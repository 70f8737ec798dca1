package bigquery

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/store"
)

const selectColumns = `
			transaction_id,
			transaction_date,
			raw_description,
			normalized_description,
			original_amount,
			currency,
			amount_in_reference_currency,
			is_deleted,
			created_ts,
			updated_ts`

// Find returns one page of records, newest first.
func (r *Repository) Find(ctx context.Context, f store.Filter) (domain.Page, error) {
	f = f.Normalize()
	where, params := filterClause(f)

	count := r.client.Query(`SELECT COUNT(*) AS n FROM ` + r.tableRef() + ` WHERE ` + where)
	count.Parameters = params
	it, err := count.Read(ctx)
	if err != nil {
		return domain.Page{}, fmt.Errorf("Find: count: %w", err)
	}
	var c struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&c); err != nil {
		return domain.Page{}, fmt.Errorf("Find: count next: %w", err)
	}

	q := r.client.Query(`SELECT` + selectColumns + `
		FROM ` + r.tableRef() + `
		WHERE ` + where + `
		ORDER BY transaction_date DESC, created_ts DESC, transaction_id
		LIMIT @limit OFFSET @offset`)
	q.Parameters = append(params,
		bigquery.QueryParameter{Name: "limit", Value: f.Limit},
		bigquery.QueryParameter{Name: "offset", Value: f.Offset()},
	)

	txs, err := readTransactions(ctx, q)
	if err != nil {
		return domain.Page{}, fmt.Errorf("Find: %w", err)
	}
	return store.NewPage(f, txs, int(c.N)), nil
}

func filterClause(f store.Filter) (string, []bigquery.QueryParameter) {
	where := "is_deleted = @deleted"
	params := []bigquery.QueryParameter{{Name: "deleted", Value: f.Deleted}}

	if s := strings.TrimSpace(f.Search); s != "" {
		cond := `LOWER(raw_description) LIKE @pattern OR LOWER(currency) LIKE @pattern`
		params = append(params, bigquery.QueryParameter{
			Name:  "pattern",
			Value: "%" + escapeLike(strings.ToLower(s)) + "%",
		})
		if norm := domain.NormalizeDescription(s); norm != "" {
			cond += ` OR normalized_description LIKE @norm_pattern`
			params = append(params, bigquery.QueryParameter{
				Name:  "norm_pattern",
				Value: "%" + escapeLike(norm) + "%",
			})
		}
		where += " AND (" + cond + ")"
	}
	return where, params
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Get returns one record by ID.
func (r *Repository) Get(ctx context.Context, id string) (domain.Transaction, error) {
	q := r.client.Query(`SELECT` + selectColumns + ` FROM ` + r.tableRef() + ` WHERE transaction_id = @id`)
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: id}}

	txs, err := readTransactions(ctx, q)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Get: %s: %w", id, err)
	}
	if len(txs) == 0 {
		return domain.Transaction{}, fmt.Errorf("Get: %s: %w", id, store.ErrNotFound)
	}
	return txs[0], nil
}

// All returns every record with the given deleted flag.
func (r *Repository) All(ctx context.Context, deleted bool) ([]domain.Transaction, error) {
	q := r.client.Query(`SELECT` + selectColumns + `
		FROM ` + r.tableRef() + `
		WHERE is_deleted = @deleted
		ORDER BY transaction_date DESC, created_ts DESC, transaction_id`)
	q.Parameters = []bigquery.QueryParameter{{Name: "deleted", Value: deleted}}

	txs, err := readTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("All: %w", err)
	}
	return txs, nil
}

// PersistAll writes the batch with one load job.
func (r *Repository) PersistAll(ctx context.Context, txs []domain.Transaction) ([]domain.Transaction, error) {
	if len(txs) == 0 {
		return []domain.Transaction{}, nil
	}

	now := nowUTC()
	out := make([]domain.Transaction, len(txs))
	rows := make([]TransactionRow, len(txs))
	for i, t := range txs {
		t.ID = uuid.NewString()
		t.NormalizedDescription = t.Key().Description
		t.IsDeleted = false
		t.CreatedAt = now
		t.UpdatedAt = now
		out[i] = t
		rows[i] = toRow(t)
	}

	data, err := encodeNDJSON(rows)
	if err != nil {
		return nil, fmt.Errorf("PersistAll: encoding rows: %w", err)
	}

	src := bigquery.NewReaderSource(bytes.NewReader(data))
	src.SourceFormat = bigquery.JSON

	loader := r.table().LoaderFrom(src)
	loader.WriteDisposition = bigquery.WriteAppend
	loader.CreateDisposition = bigquery.CreateNever

	job, err := loader.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("PersistAll: starting load job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("PersistAll: waiting for load job: %w", err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("PersistAll: load job error: %w", err)
	}

	return out, nil
}

// ExistsByKeys returns the keys held by live records in one query.
func (r *Repository) ExistsByKeys(ctx context.Context, keys []domain.Key) (domain.KeySet, error) {
	out := domain.NewKeySet()
	if len(keys) == 0 {
		return out, nil
	}

	encoded := make([]string, len(keys))
	for i, k := range keys {
		encoded[i] = k.String()
	}

	q := r.client.Query(`
		SELECT DISTINCT transaction_date, normalized_description
		FROM ` + r.tableRef() + `
		WHERE is_deleted = FALSE
		  AND CONCAT(CAST(transaction_date AS STRING), '|', normalized_description) IN UNNEST(@keys)`)
	q.Parameters = []bigquery.QueryParameter{{Name: "keys", Value: encoded}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ExistsByKeys: query read: %w", err)
	}
	for {
		var row struct {
			TransactionDate       civil.Date `bigquery:"transaction_date"`
			NormalizedDescription string     `bigquery:"normalized_description"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ExistsByKeys: iter next: %w", err)
		}
		out.Add(domain.Key{Date: row.TransactionDate, Description: row.NormalizedDescription})
	}
	return out, nil
}

// Update overwrites the mutable fields of a record.
func (r *Repository) Update(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	t.NormalizedDescription = domain.NormalizeDescription(t.Description)

	clash := r.client.Query(`
		SELECT COUNT(*) AS n FROM ` + r.tableRef() + `
		WHERE is_deleted = FALSE
		  AND transaction_id != @id
		  AND transaction_date = @date
		  AND normalized_description = @norm`)
	clash.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: t.ID},
		{Name: "date", Value: t.Date},
		{Name: "norm", Value: t.NormalizedDescription},
	}
	n, err := readCount(ctx, clash)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Update: %s: conflict check: %w", t.ID, err)
	}
	if n > 0 {
		return domain.Transaction{}, fmt.Errorf("Update: %s: %w", t.ID, store.ErrDuplicateKey)
	}

	q := r.client.Query(`
		UPDATE ` + r.tableRef() + `
		SET transaction_date = @date,
		    raw_description = @description,
		    normalized_description = @norm,
		    original_amount = @amount,
		    currency = @currency,
		    amount_in_reference_currency = @converted,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE transaction_id = @id`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "date", Value: t.Date},
		{Name: "description", Value: t.Description},
		{Name: "norm", Value: t.NormalizedDescription},
		{Name: "amount", Value: t.OriginalAmount},
		{Name: "currency", Value: t.Currency},
		{Name: "converted", Value: t.AmountInReferenceCurrency},
		{Name: "id", Value: t.ID},
	}

	affected, err := runDML(ctx, q)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Update: %s: %w", t.ID, err)
	}
	if affected == 0 {
		return domain.Transaction{}, fmt.Errorf("Update: %s: %w", t.ID, store.ErrNotFound)
	}
	return r.Get(ctx, t.ID)
}

// SetDeleted flips the soft-delete flag. Restoring refuses when any restored
// record would share a key with a live one or with another restored record.
func (r *Repository) SetDeleted(ctx context.Context, ids []string, deleted bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	if !deleted {
		clash := r.client.Query(restoreClashSQL(r.tableRef()))
		clash.Parameters = []bigquery.QueryParameter{{Name: "ids", Value: ids}}
		n, err := readCount(ctx, clash)
		if err != nil {
			return 0, fmt.Errorf("SetDeleted: conflict check: %w", err)
		}
		if n > 0 {
			return 0, fmt.Errorf("SetDeleted: %w", store.ErrDuplicateKey)
		}
	}

	q := r.client.Query(`
		UPDATE ` + r.tableRef() + `
		SET is_deleted = @deleted, updated_ts = CURRENT_TIMESTAMP()
		WHERE transaction_id IN UNNEST(@ids)
		  AND is_deleted = @current`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "deleted", Value: deleted},
		{Name: "ids", Value: ids},
		{Name: "current", Value: !deleted},
	}

	affected, err := runDML(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("SetDeleted: %w", err)
	}
	return int(affected), nil
}

// restoreClashSQL counts keys that restoring @ids would duplicate: keys held
// by a live record, and keys shared by two or more of the restored records.
func restoreClashSQL(table string) string {
	return `
		SELECT
		  (SELECT COUNT(*)
		   FROM ` + table + ` d
		   JOIN ` + table + ` l
		     ON d.transaction_date = l.transaction_date
		    AND d.normalized_description = l.normalized_description
		   WHERE d.transaction_id IN UNNEST(@ids)
		     AND d.is_deleted = TRUE
		     AND l.is_deleted = FALSE)
		  +
		  (SELECT COUNT(*) FROM (
		     SELECT transaction_date, normalized_description
		     FROM ` + table + `
		     WHERE transaction_id IN UNNEST(@ids)
		       AND is_deleted = TRUE
		     GROUP BY transaction_date, normalized_description
		     HAVING COUNT(*) > 1)) AS n`
}

// HardDelete removes records permanently.
func (r *Repository) HardDelete(ctx context.Context, ids []string, onlyDeleted bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	sql := `DELETE FROM ` + r.tableRef() + ` WHERE transaction_id IN UNNEST(@ids)`
	if onlyDeleted {
		sql += ` AND is_deleted = TRUE`
	}
	q := r.client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{{Name: "ids", Value: ids}}

	affected, err := runDML(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("HardDelete: %w", err)
	}
	return int(affected), nil
}

func readTransactions(ctx context.Context, q *bigquery.Query) ([]domain.Transaction, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var out []domain.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		out = append(out, row.toDomain())
	}
	return out, nil
}

func readCount(ctx context.Context, q *bigquery.Query) (int64, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("query read: %w", err)
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return 0, fmt.Errorf("iter next: %w", err)
	}
	return row.N, nil
}

// runDML runs a DML statement and returns the number of affected rows.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("run query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}
