// Package anticaptcha implements the anti-captcha createTask / getTaskResult API.
package anticaptcha

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/bizregistry-scraper/internal/captcha"
	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// DefaultBaseURL is the public anti-captcha endpoint.
const DefaultBaseURL = "https://api.anti-captcha.com"

// Client submits tasks to anti-captcha and polls for results.
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
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")
	return &Client{client: client, apiKey: apiKey}
}

// Service implements captcha.Provider.
func (c *Client) Service() scraper.SolverService {
	return scraper.SolverAntiCaptcha
}

type taskPayload struct {
	Type       string  `json:"type"`
	WebsiteURL string  `json:"websiteURL,omitempty"`
	WebsiteKey string  `json:"websiteKey,omitempty"`
	MinScore   float64 `json:"minScore,omitempty"`
	Body       string  `json:"body,omitempty"`
}

type createTaskRequest struct {
	ClientKey string      `json:"clientKey"`
	Task      taskPayload `json:"task"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
		Text               string `json:"text"`
		Token              string `json:"token"`
	} `json:"solution"`
}

func payloadFor(task captcha.Task) (taskPayload, error) {
	switch task.Kind {
	case scraper.ChallengeRecaptchaV2:
		return taskPayload{Type: "NoCaptchaTaskProxyless", WebsiteURL: task.PageURL, WebsiteKey: task.SiteKey}, nil
	case scraper.ChallengeRecaptchaV3:
		return taskPayload{Type: "RecaptchaV3TaskProxyless", WebsiteURL: task.PageURL, WebsiteKey: task.SiteKey, MinScore: 0.3}, nil
	case scraper.ChallengeHCaptcha:
		return taskPayload{Type: "HCaptchaTaskProxyless", WebsiteURL: task.PageURL, WebsiteKey: task.SiteKey}, nil
	case scraper.ChallengeImage:
		return taskPayload{Type: "ImageToTextTask", Body: task.ImageBase64}, nil
	default:
		return taskPayload{}, fmt.Errorf("unsupported challenge kind %q", task.Kind)
	}
}

// Submit calls createTask and returns the provider task ID.
func (c *Client) Submit(ctx context.Context, task captcha.Task) (string, error) {
	payload, err := payloadFor(task)
	if err != nil {
		return "", err
	}
	var out createTaskResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(createTaskRequest{ClientKey: c.apiKey, Task: payload}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/createTask")
	if err != nil {
		return "", fmt.Errorf("%w: call createTask: %w", scraper.ErrNetwork, err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("%w: createTask status %d", scraper.ErrNetwork, resp.StatusCode())
	}
	if out.ErrorID != 0 {
		return "", fmt.Errorf("%w: %s: %s", captcha.ErrProviderRejected, out.ErrorCode, out.ErrorDescription)
	}
	return strconv.FormatInt(out.TaskID, 10), nil
}

// Poll calls getTaskResult once.
func (c *Client) Poll(ctx context.Context, providerTaskID string) (captcha.PollResult, error) {
	taskID, err := strconv.ParseInt(providerTaskID, 10, 64)
	if err != nil {
		return captcha.PollResult{}, fmt.Errorf("parse anti-captcha task id %q: %w", providerTaskID, err)
	}
	var out taskResultResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(taskResultRequest{ClientKey: c.apiKey, TaskID: taskID}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/getTaskResult")
	if err != nil {
		return captcha.PollResult{}, fmt.Errorf("%w: call getTaskResult: %w", scraper.ErrNetwork, err)
	}
	if resp.StatusCode() != 200 {
		return captcha.PollResult{}, fmt.Errorf("%w: getTaskResult status %d", scraper.ErrNetwork, resp.StatusCode())
	}
	if out.ErrorID != 0 {
		return captcha.PollResult{}, fmt.Errorf("%w: %s: %s", captcha.ErrProviderRejected, out.ErrorCode, out.ErrorDescription)
	}
	if out.Status != "ready" {
		return captcha.PollResult{}, nil
	}
	solution := out.Solution.GRecaptchaResponse
	if solution == "" {
		solution = out.Solution.Text
	}
	if solution == "" {
		solution = out.Solution.Token
	}
	return captcha.PollResult{Ready: true, Solution: solution}, nil
}
