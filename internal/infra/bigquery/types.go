package bigquery

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/expense-ledger/internal/domain"
)

const transactionsTable = "transactions"

// TransactionRow mirrors one row of the transactions table.
type TransactionRow struct {
	TransactionID             string     `bigquery:"transaction_id"`               // REQUIRED
	TransactionDate           civil.Date `bigquery:"transaction_date"`             // REQUIRED DATE
	RawDescription            string     `bigquery:"raw_description"`              // REQUIRED
	NormalizedDescription     string     `bigquery:"normalized_description"`       // REQUIRED
	OriginalAmount            float64    `bigquery:"original_amount"`              // REQUIRED FLOAT64
	Currency                  string     `bigquery:"currency"`                     // REQUIRED
	AmountInReferenceCurrency float64    `bigquery:"amount_in_reference_currency"` // REQUIRED FLOAT64
	IsDeleted                 bool       `bigquery:"is_deleted"`
	CreatedTS                 time.Time  `bigquery:"created_ts"`
	UpdatedTS                 time.Time  `bigquery:"updated_ts"`
}

func toRow(t domain.Transaction) TransactionRow {
	return TransactionRow{
		TransactionID:             t.ID,
		TransactionDate:           t.Date,
		RawDescription:            t.Description,
		NormalizedDescription:     t.Key().Description,
		OriginalAmount:            t.OriginalAmount,
		Currency:                  t.Currency,
		AmountInReferenceCurrency: t.AmountInReferenceCurrency,
		IsDeleted:                 t.IsDeleted,
		CreatedTS:                 t.CreatedAt,
		UpdatedTS:                 t.UpdatedAt,
	}
}

func (r TransactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:                        r.TransactionID,
		Date:                      r.TransactionDate,
		Description:               r.RawDescription,
		NormalizedDescription:     r.NormalizedDescription,
		OriginalAmount:            r.OriginalAmount,
		Currency:                  r.Currency,
		AmountInReferenceCurrency: r.AmountInReferenceCurrency,
		IsDeleted:                 r.IsDeleted,
		CreatedAt:                 r.CreatedTS.UTC(),
		UpdatedAt:                 r.UpdatedTS.UTC(),
	}
}

// loadRecord is the newline-delimited JSON shape fed to load jobs.
type loadRecord struct {
	TransactionID             string  `json:"transaction_id"`
	TransactionDate           string  `json:"transaction_date"`
	RawDescription            string  `json:"raw_description"`
	NormalizedDescription     string  `json:"normalized_description"`
	OriginalAmount            float64 `json:"original_amount"`
	Currency                  string  `json:"currency"`
	AmountInReferenceCurrency float64 `json:"amount_in_reference_currency"`
	IsDeleted                 bool    `json:"is_deleted"`
	CreatedTS                 string  `json:"created_ts"`
	UpdatedTS                 string  `json:"updated_ts"`
}

// encodeNDJSON renders rows in the format accepted by a JSON load job.
func encodeNDJSON(rows []TransactionRow) ([]byte, error) {
	var out []byte
	for _, r := range rows {
		b, err := json.Marshal(loadRecord{
			TransactionID:             r.TransactionID,
			TransactionDate:           r.TransactionDate.String(),
			RawDescription:            r.RawDescription,
			NormalizedDescription:     r.NormalizedDescription,
			OriginalAmount:            r.OriginalAmount,
			Currency:                  r.Currency,
			AmountInReferenceCurrency: r.AmountInReferenceCurrency,
			IsDeleted:                 r.IsDeleted,
			CreatedTS:                 r.CreatedTS.UTC().Format(time.RFC3339Nano),
			UpdatedTS:                 r.UpdatedTS.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
		out = append(out, '\n')
	}
	return out, nil
}
