package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// CompanyBatchSize is the number of rows written per INSERT statement.
const CompanyBatchSize = 10

const companyColumnCount = 17

// InsertCompanies upserts companies in chunks of CompanyBatchSize inside a
// single transaction.
func (s *Store) InsertCompanies(ctx context.Context, companies []scraper.Company) error {
	if len(companies) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistenceErr("begin company insert", err)
	}
	if err := insertCompanies(ctx, tx, companies); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return persistenceErr("commit company insert", err)
	}
	return nil
}

func insertCompanies(ctx context.Context, q querier, companies []scraper.Company) error {
	companies = collapseCompanies(companies)
	for start := 0; start < len(companies); start += CompanyBatchSize {
		end := min(start+CompanyBatchSize, len(companies))
		query, args := companyInsert(companies[start:end])
		if _, err := q.Exec(ctx, query, args...); err != nil {
			return persistenceErr(fmt.Sprintf("insert companies %d-%d", start, end-1), err)
		}
	}
	return nil
}

// collapseCompanies merges rows sharing (job, tax code) into the position of
// the first one with the values of the last, matching what sequential
// upserts would leave. One INSERT ... ON CONFLICT DO UPDATE cannot touch
// the same key twice.
func collapseCompanies(companies []scraper.Company) []scraper.Company {
	type key struct{ jobID, taxCode string }
	index := make(map[key]int, len(companies))
	out := make([]scraper.Company, 0, len(companies))
	for _, c := range companies {
		k := key{c.JobID, c.TaxCode}
		if i, ok := index[k]; ok {
			out[i] = c
			continue
		}
		index[k] = len(out)
		out = append(out, c)
	}
	return out
}

func companyInsert(batch []scraper.Company) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO companies (
	job_id, tax_code, company_name, legal_representative, address, province, district, ward,
	industry_code, industry_name, charter_capital, establishment_date, business_status,
	phone, email, website, source_website
) VALUES `)
	args := make([]any, 0, len(batch)*companyColumnCount)
	for i, c := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for col := 0; col < companyColumnCount; col++ {
			if col > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", i*companyColumnCount+col+1)
		}
		b.WriteString(")")
		args = append(args,
			c.JobID, c.TaxCode, c.Name, c.LegalRepresentative, c.Address, c.Province, c.District, c.Ward,
			c.IndustryCode, c.IndustryName, c.CharterCapital, c.EstablishmentDate, c.BusinessStatus,
			c.Phone, c.Email, c.Website, c.SourceWebsite,
		)
	}
	b.WriteString(` ON CONFLICT (job_id, tax_code) DO UPDATE SET
	company_name = EXCLUDED.company_name,
	legal_representative = EXCLUDED.legal_representative,
	address = EXCLUDED.address,
	source_website = EXCLUDED.source_website`)
	return b.String(), args
}

// ListCompanies returns companies for a job in insertion order.
func (s *Store) ListCompanies(ctx context.Context, jobID string, limit, offset int) ([]scraper.Company, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
SELECT job_id, tax_code, company_name, COALESCE(legal_representative, ''), COALESCE(address, ''),
	COALESCE(province, ''), COALESCE(district, ''), COALESCE(ward, ''), COALESCE(industry_code, ''),
	COALESCE(industry_name, ''), COALESCE(charter_capital, ''), establishment_date,
	COALESCE(business_status, ''), COALESCE(phone, ''), COALESCE(email, ''), COALESCE(website, ''),
	source_website
FROM companies
WHERE ($1 = '' OR job_id = $1)
ORDER BY created_at, tax_code
LIMIT $2 OFFSET $3`, jobID, lim, offset)
	if err != nil {
		return nil, persistenceErr("list companies", err)
	}
	defer rows.Close()
	out := []scraper.Company{}
	for rows.Next() {
		var (
			c           scraper.Company
			established *time.Time
		)
		if err := rows.Scan(
			&c.JobID, &c.TaxCode, &c.Name, &c.LegalRepresentative, &c.Address, &c.Province, &c.District,
			&c.Ward, &c.IndustryCode, &c.IndustryName, &c.CharterCapital, &established, &c.BusinessStatus,
			&c.Phone, &c.Email, &c.Website, &c.SourceWebsite,
		); err != nil {
			return nil, persistenceErr("scan company", err)
		}
		c.EstablishmentDate = established
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate companies", err)
	}
	return out, nil
}
