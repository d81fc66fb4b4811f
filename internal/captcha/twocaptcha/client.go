// Package twocaptcha implements the 2captcha in.php / res.php API.
package twocaptcha

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/bizregistry-scraper/internal/captcha"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// DefaultBaseURL is the public 2captcha endpoint.
const DefaultBaseURL = "https://2captcha.com"

const notReady = "CAPCHA_NOT_READY"

// Client submits tasks to 2captcha and polls for results.
type Client struct {
	client *resty.Client
	apiKey string
}

// New creates a Client. An empty baseURL uses DefaultBaseURL.
func New(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)
	return &Client{client: client, apiKey: apiKey}
}

// Service implements captcha.Provider.
func (c *Client) Service() scraper.SolverService {
	return scraper.SolverTwoCaptcha
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Submit posts the task to in.php and returns the provider's task ID.
func (c *Client) Submit(ctx context.Context, task captcha.Task) (string, error) {
	form := map[string]string{
		"key":  c.apiKey,
		"json": "1",
	}
	switch task.Kind {
	case scraper.ChallengeRecaptchaV2:
		form["method"] = "userrecaptcha"
		form["googlekey"] = task.SiteKey
		form["pageurl"] = task.PageURL
	case scraper.ChallengeRecaptchaV3:
		form["method"] = "userrecaptcha"
		form["version"] = "v3"
		form["min_score"] = "0.3"
		form["googlekey"] = task.SiteKey
		form["pageurl"] = task.PageURL
	case scraper.ChallengeHCaptcha:
		form["method"] = "hcaptcha"
		form["sitekey"] = task.SiteKey
		form["pageurl"] = task.PageURL
	case scraper.ChallengeImage:
		form["method"] = "base64"
		form["body"] = task.ImageBase64
	default:
		return "", fmt.Errorf("unsupported challenge kind %q", task.Kind)
	}

	var out apiResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/in.php")
	if err != nil {
		return "", fmt.Errorf("%w: call in.php: %w", scraper.ErrNetwork, err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("%w: in.php status %d", scraper.ErrNetwork, resp.StatusCode())
	}
	if out.Status != 1 {
		return "", fmt.Errorf("%w: %s", captcha.ErrProviderRejected, out.Request)
	}
	return out.Request, nil
}

// Poll queries res.php once.
func (c *Client) Poll(ctx context.Context, providerTaskID string) (captcha.PollResult, error) {
	var out apiResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":    c.apiKey,
			"action": "get",
			"id":     providerTaskID,
			"json":   "1",
		}).
		SetResult(&out).
		ForceContentType("application/json").
		Get("/res.php")
	if err != nil {
		return captcha.PollResult{}, fmt.Errorf("%w: call res.php: %w", scraper.ErrNetwork, err)
	}
	if resp.StatusCode() != 200 {
		return captcha.PollResult{}, fmt.Errorf("%w: res.php status %d", scraper.ErrNetwork, resp.StatusCode())
	}
	switch {
	case out.Status == 1:
		return captcha.PollResult{Ready: true, Solution: out.Request}, nil
	case out.Request == notReady:
		return captcha.PollResult{}, nil
	default:
		return captcha.PollResult{}, fmt.Errorf("%w: %s (status %d)", captcha.ErrProviderRejected, out.Request, out.Status)
	}
}
