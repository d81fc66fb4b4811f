package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// CaptchaStore keeps the CAPTCHA audit log in memory.
type CaptchaStore struct {
	mu    sync.RWMutex
	order []string
	tasks map[string]scraper.CaptchaTask
}

// NewCaptchaStore constructs a CaptchaStore.
func NewCaptchaStore() *CaptchaStore {
	return &CaptchaStore{tasks: make(map[string]scraper.CaptchaTask)}
}

// CreateTask records a new solve attempt.
func (s *CaptchaStore) CreateTask(_ context.Context, task scraper.CaptchaTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("%w: captcha task %s already exists", scraper.ErrPersistence, task.ID)
	}
	s.order = append(s.order, task.ID)
	s.tasks[task.ID] = task
	return nil
}

// SaveTask replaces the stored task state.
func (s *CaptchaStore) SaveTask(_ context.Context, task scraper.CaptchaTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; !exists {
		s.order = append(s.order, task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

// ListTasks returns tasks in creation order; an empty jobID lists all.
func (s *CaptchaStore) ListTasks(_ context.Context, jobID string) ([]scraper.CaptchaTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []scraper.CaptchaTask{}
	for _, id := range s.order {
		task := s.tasks[id]
		if jobID != "" && task.JobID != jobID {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}
