package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

const proxyColumns = `proxy_id, proxy_url, proxy_type, COALESCE(country, ''), COALESCE(provider, ''),
	COALESCE(username, ''), COALESCE(password, ''), status, response_time, success_rate,
	tests_total, tests_passed, cost_per_request, last_checked, created_at, updated_at`

// CreateProxy inserts a new proxy row.
func (s *Store) CreateProxy(ctx context.Context, p scraper.ProxyServer) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO proxy_pool (
	proxy_id, proxy_url, proxy_type, country, provider, username, password,
	status, cost_per_request, created_at
) VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),$8,$9,$10)`,
		p.ID, p.URL, string(p.Protocol), p.Country, p.Provider, p.Username, p.Password,
		string(p.Status), p.CostPerRequest, p.CreatedAt,
	)
	if err != nil {
		return persistenceErr("insert proxy", err)
	}
	return nil
}

// GetProxy fetches a proxy by ID.
func (s *Store) GetProxy(ctx context.Context, proxyID string) (scraper.ProxyServer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+proxyColumns+` FROM proxy_pool WHERE proxy_id = $1`, proxyID)
	p, err := scanProxy(row)
	if isNoRows(err) {
		return scraper.ProxyServer{}, fmt.Errorf("%w: proxy %s", scraper.ErrNotFound, proxyID)
	}
	if err != nil {
		return scraper.ProxyServer{}, persistenceErr("get proxy", err)
	}
	return p, nil
}

// UpdateProxy applies patch in a single UPDATE; a test outcome increments
// the counters and recomputes success_rate from the pre-update values.
func (s *Store) UpdateProxy(ctx context.Context, proxyID string, patch scraper.ProxyPatch) (scraper.ProxyServer, error) {
	var status *string
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}
	var (
		testDelta   int
		passedDelta int
		respTime    *int64
		checkedAt   *time.Time
	)
	if t := patch.Test; t != nil {
		testDelta = 1
		if t.Passed {
			passedDelta = 1
		}
		respTime = &t.ResponseTimeMs
		checkedAt = &t.CheckedAt
	}
	row := s.pool.QueryRow(ctx, `
UPDATE proxy_pool SET
	status           = CASE WHEN $12::boolean AND status = 'inactive'
	                        THEN status ELSE COALESCE($2, status) END,
	country          = COALESCE($3, country),
	provider         = COALESCE($4, provider),
	username         = COALESCE($5, username),
	password         = COALESCE($6, password),
	cost_per_request = COALESCE($7, cost_per_request),
	tests_total      = tests_total + $8,
	tests_passed     = tests_passed + $9,
	success_rate     = CASE WHEN $8 > 0
	                        THEN (tests_passed + $9)::float8 * 100 / (tests_total + $8)
	                        ELSE success_rate END,
	response_time    = COALESCE($10, response_time),
	last_checked     = COALESCE($11, last_checked),
	updated_at       = now()
WHERE proxy_id = $1
RETURNING `+proxyColumns,
		proxyID, status, patch.Country, patch.Provider, patch.Username, patch.Password,
		patch.CostPerRequest, testDelta, passedDelta, respTime, checkedAt, patch.KeepInactive,
	)
	p, err := scanProxy(row)
	if isNoRows(err) {
		return scraper.ProxyServer{}, fmt.Errorf("%w: proxy %s", scraper.ErrNotFound, proxyID)
	}
	if err != nil {
		return scraper.ProxyServer{}, persistenceErr("update proxy", err)
	}
	return p, nil
}

// DeleteProxy removes a proxy row.
func (s *Store) DeleteProxy(ctx context.Context, proxyID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM proxy_pool WHERE proxy_id = $1`, proxyID)
	if err != nil {
		return persistenceErr("delete proxy", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: proxy %s", scraper.ErrNotFound, proxyID)
	}
	return nil
}

// ListProxies returns proxies oldest first, optionally filtered by status.
func (s *Store) ListProxies(ctx context.Context, filter scraper.ProxyFilter) ([]scraper.ProxyServer, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+proxyColumns+` FROM proxy_pool
WHERE ($1 = '' OR status = $1)
ORDER BY created_at, proxy_id`, string(filter.Status))
	if err != nil {
		return nil, persistenceErr("list proxies", err)
	}
	defer rows.Close()
	out := []scraper.ProxyServer{}
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, persistenceErr("scan proxy", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr("iterate proxies", err)
	}
	return out, nil
}

func scanProxy(row pgx.Row) (scraper.ProxyServer, error) {
	var (
		p           scraper.ProxyServer
		protocol    string
		status      string
		lastChecked *time.Time
	)
	if err := row.Scan(
		&p.ID, &p.URL, &protocol, &p.Country, &p.Provider, &p.Username, &p.Password,
		&status, &p.ResponseTimeMs, &p.SuccessRate, &p.TestsTotal, &p.TestsPassed,
		&p.CostPerRequest, &lastChecked, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return scraper.ProxyServer{}, err
	}
	p.Protocol = scraper.ProxyProtocol(protocol)
	p.Status = scraper.ProxyStatus(status)
	p.LastChecked = lastChecked
	return p, nil
}
