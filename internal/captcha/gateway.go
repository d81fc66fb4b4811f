package captcha

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/bizregistry-scraper/internal/clock/system"
	"github.com/JakeFAU/bizregistry-scraper/internal/progress"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// Polling defaults: a 10s interval for at most 30 polls.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultMaxPolls     = 30
)

// solveSlack covers submission and the polls' own round trips on top of the
// polling budget.
const solveSlack = 30 * time.Second

const maxImageBytes = 2 << 20

// Config controls polling and pricing. SolveTimeout bounds one Solve call
// from submission to the last poll; it defaults to the polling budget plus
// a fixed slack.
type Config struct {
	PollInterval      time.Duration
	MaxPolls          int
	SolveTimeout      time.Duration
	FailedAttemptCost float64
	DefaultService    scraper.SolverService
	Prices            PriceTable
}

// SolveRequest is one challenge to solve.
type SolveRequest struct {
	Kind     scraper.ChallengeKind `json:"challengeKind"`
	ImageURL string                `json:"imagePayload,omitempty"`
	SiteKey  string                `json:"siteKey,omitempty"`
	PageURL  string                `json:"pageUrl,omitempty"`
	Service  scraper.SolverService `json:"solverService,omitempty"`
	JobID    string                `json:"jobId,omitempty"`
}

// SolveResult reports the outcome and the cost charged for it. Cost is set
// even when Solve returns an error.
type SolveResult struct {
	TaskID      string                `json:"taskId,omitempty"`
	Service     scraper.SolverService `json:"solverService,omitempty"`
	Success     bool                  `json:"success"`
	Solution    string                `json:"solution,omitempty"`
	Cost        float64               `json:"cost"`
	SolveTimeMs int64                 `json:"solveTimeMs"`
}

// Gateway routes solve requests to the configured provider, polls for the
// result, and records every attempt.
type Gateway struct {
	providers map[scraper.SolverService]Provider
	store     scraper.CaptchaStore
	ids       scraper.IDGenerator
	clock     scraper.Clock
	events    progress.Emitter
	http      *resty.Client
	cfg       Config
	logger    *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Gateway. Only providers whose credentials are configured
// should be passed in; a request naming any other service fails with
// ErrNoProviderConfigured.
func New(
	providers []Provider,
	store scraper.CaptchaStore,
	ids scraper.IDGenerator,
	clock scraper.Clock,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultMaxPolls
	}
	if cfg.SolveTimeout <= 0 {
		cfg.SolveTimeout = cfg.PollInterval*time.Duration(cfg.MaxPolls) + solveSlack
	}
	if cfg.FailedAttemptCost < 0 {
		cfg.FailedAttemptCost = 0
	}
	if cfg.Prices == nil {
		cfg.Prices = DefaultPriceTable()
	}
	byService := make(map[scraper.SolverService]Provider, len(providers))
	for _, p := range providers {
		if p != nil {
			byService[p.Service()] = p
		}
	}
	return &Gateway{
		providers: byService,
		store:     store,
		ids:       ids,
		clock:     clock,
		events:    progress.OrNop(events),
		http:      resty.New().SetTimeout(30 * time.Second),
		cfg:       cfg,
		logger:    logger,
		sleep:     system.New().Sleep,
	}
}

// Services lists the configured providers.
func (g *Gateway) Services() []scraper.SolverService {
	out := make([]scraper.SolverService, 0, len(g.providers))
	for s := range g.providers {
		out = append(out, s)
	}
	return out
}

// Solve validates req, then submits it and polls until solved, failed, out
// of polls, or past Config.SolveTimeout. Every attempt past validation is
// written to the audit log.
func (g *Gateway) Solve(ctx context.Context, req SolveRequest) (SolveResult, error) {
	if err := g.validate(&req); err != nil {
		return SolveResult{}, err
	}
	start := g.clock.Now()
	task := scraper.CaptchaTask{
		Kind:      req.Kind,
		Service:   req.Service,
		ImageURL:  req.ImageURL,
		SiteKey:   req.SiteKey,
		PageURL:   req.PageURL,
		Status:    scraper.CaptchaPending,
		JobID:     req.JobID,
		CreatedAt: start,
	}
	id, err := g.ids.NewID()
	if err != nil {
		return SolveResult{}, fmt.Errorf("generate captcha task id: %w", err)
	}
	task.ID = id

	provider, ok := g.providers[req.Service]
	if !ok {
		err := fmt.Errorf("%w: %s", scraper.ErrNoProviderConfigured, req.Service)
		return g.finish(ctx, task, start, 0, "", err)
	}

	if err := g.store.CreateTask(ctx, task); err != nil {
		g.logger.Warn("captcha audit create failed", zap.String("task_id", task.ID), zap.Error(err))
	}

	solveCtx, cancel := context.WithTimeout(ctx, g.cfg.SolveTimeout)
	defer cancel()
	solution, err := g.run(solveCtx, provider, &task)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: no result within %s", scraper.ErrSolveTimeout, g.cfg.SolveTimeout)
	}
	if err != nil {
		return g.finish(ctx, task, start, g.cfg.FailedAttemptCost, "", err)
	}
	return g.finish(ctx, task, start, g.cfg.Prices.Price(req.Service, req.Kind), solution, nil)
}

func (g *Gateway) validate(req *SolveRequest) error {
	if !req.Kind.Valid() {
		return scraper.Validationf("unsupported challengeKind %q", req.Kind)
	}
	if req.Service == "" {
		req.Service = g.cfg.DefaultService
	}
	switch req.Service {
	case scraper.SolverTwoCaptcha, scraper.SolverAntiCaptcha:
	case "":
		return scraper.Validationf("solverService is required")
	default:
		return scraper.Validationf("unsupported solverService %q", req.Service)
	}
	if req.Kind.NeedsSiteKey() && strings.TrimSpace(req.SiteKey) == "" {
		return scraper.Validationf("siteKey is required for %s", req.Kind)
	}
	if req.Kind == scraper.ChallengeImage && strings.TrimSpace(req.ImageURL) == "" {
		return scraper.Validationf("imagePayload is required for %s", req.Kind)
	}
	return nil
}

func (g *Gateway) run(ctx context.Context, provider Provider, task *scraper.CaptchaTask) (string, error) {
	submission := Task{Kind: task.Kind, SiteKey: task.SiteKey, PageURL: task.PageURL}
	if task.Kind == scraper.ChallengeImage {
		encoded, err := g.loadImage(ctx, task.ImageURL)
		if err != nil {
			return "", err
		}
		submission.ImageBase64 = encoded
	}

	providerID, err := provider.Submit(ctx, submission)
	if err != nil {
		return "", fmt.Errorf("submit to %s: %w", provider.Service(), err)
	}
	task.ProviderTaskID = providerID
	task.Status = scraper.CaptchaSolving
	task.UpdatedAt = g.clock.Now()
	if err := g.store.SaveTask(ctx, *task); err != nil {
		g.logger.Warn("captcha audit update failed", zap.String("task_id", task.ID), zap.Error(err))
	}

	for attempt := 1; attempt <= g.cfg.MaxPolls; attempt++ {
		if err := g.sleep(ctx, g.cfg.PollInterval); err != nil {
			return "", err
		}
		res, err := provider.Poll(ctx, providerID)
		if err != nil {
			return "", fmt.Errorf("poll %s: %w", provider.Service(), err)
		}
		if res.Ready {
			return res.Solution, nil
		}
		g.logger.Debug("captcha not ready",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt))
	}
	return "", fmt.Errorf("%w: no result after %d polls", scraper.ErrSolveTimeout, g.cfg.MaxPolls)
}

// loadImage accepts a data URL or fetches an http(s) URL and returns the
// base64 payload.
func (g *Gateway) loadImage(ctx context.Context, ref string) (string, error) {
	if strings.HasPrefix(ref, "data:") {
		_, payload, ok := strings.Cut(ref, ",")
		if !ok || payload == "" {
			return "", scraper.Validationf("malformed image data URL")
		}
		return payload, nil
	}
	resp, err := g.http.R().SetContext(ctx).Get(ref)
	if err != nil {
		return "", fmt.Errorf("%w: fetch captcha image: %w", scraper.ErrNetwork, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("%w: fetch captcha image: HTTP %d", scraper.ErrNetwork, resp.StatusCode())
	}
	body := resp.Body()
	if len(body) == 0 {
		return "", fmt.Errorf("%w: captcha image is empty", scraper.ErrNetwork)
	}
	if len(body) > maxImageBytes {
		return "", scraper.Validationf("captcha image exceeds %d bytes", maxImageBytes)
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

func (g *Gateway) finish(
	ctx context.Context,
	task scraper.CaptchaTask,
	start time.Time,
	cost float64,
	solution string,
	solveErr error,
) (SolveResult, error) {
	end := g.clock.Now()
	task.Cost = cost
	task.SolveTimeMs = end.Sub(start).Milliseconds()
	task.UpdatedAt = end
	task.Success = solveErr == nil
	if task.Success {
		task.Status = scraper.CaptchaSolved
		task.Solution = solution
	} else {
		task.Status = scraper.CaptchaFailed
		task.ErrorText = solveErr.Error()
	}

	// The audit row must outlive a cancelled request.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.store.SaveTask(auditCtx, task); err != nil {
		g.logger.Warn("captcha audit write failed", zap.String("task_id", task.ID), zap.Error(err))
	}

	g.events.Emit(progress.Event{
		Kind:    progress.KindCaptchaAttempt,
		TS:      end,
		JobID:   task.JobID,
		Status:  string(task.Status),
		Service: string(task.Service),
		Cost:    cost,
		Dur:     end.Sub(start),
		Note:    task.ErrorText,
	})

	result := SolveResult{
		TaskID:      task.ID,
		Service:     task.Service,
		Success:     task.Success,
		Solution:    task.Solution,
		Cost:        cost,
		SolveTimeMs: task.SolveTimeMs,
	}
	if solveErr != nil {
		fields := []zap.Field{
			zap.String("task_id", task.ID),
			zap.String("solver_service", string(task.Service)),
			zap.String("error_kind", scraper.ErrorKind(solveErr)),
			zap.Error(solveErr),
		}
		if errors.Is(solveErr, scraper.ErrNoProviderConfigured) {
			g.logger.Info("captcha provider not configured", fields...)
		} else {
			g.logger.Warn("captcha solve failed", fields...)
		}
		return result, solveErr
	}
	g.logger.Info("captcha solved",
		zap.String("task_id", task.ID),
		zap.String("solver_service", string(task.Service)),
		zap.Int64("solve_time_ms", task.SolveTimeMs),
		zap.Float64("cost", cost))
	return result, nil
}
