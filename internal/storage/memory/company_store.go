package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

type companyKey struct {
	jobID   string
	taxCode string
}

// CompanyStore keeps company rows in insertion order, upserting on
// (job, tax code).
type CompanyStore struct {
	mu    sync.RWMutex
	rows  []scraper.Company
	index map[companyKey]int
}

// NewCompanyStore constructs a CompanyStore.
func NewCompanyStore() *CompanyStore {
	return &CompanyStore{index: make(map[companyKey]int)}
}

// InsertCompanies bulk-inserts companies.
func (s *CompanyStore) InsertCompanies(_ context.Context, companies []scraper.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range companies {
		if c.TaxCode == "" {
			s.rows = append(s.rows, c)
			continue
		}
		key := companyKey{jobID: c.JobID, taxCode: c.TaxCode}
		if idx, ok := s.index[key]; ok {
			s.rows[idx] = c
			continue
		}
		s.index[key] = len(s.rows)
		s.rows = append(s.rows, c)
	}
	return nil
}

// ListCompanies returns the companies recorded for jobID in insertion order.
func (s *CompanyStore) ListCompanies(_ context.Context, jobID string, limit, offset int) ([]scraper.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []scraper.Company{}
	for _, c := range s.rows {
		if jobID != "" && c.JobID != jobID {
			continue
		}
		out = append(out, c)
	}
	return paginate(out, limit, offset), nil
}
