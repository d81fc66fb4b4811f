// Package scraper defines the domain types and ports shared by the job
// orchestration engine: jobs, companies, proxies, CAPTCHA tasks, and the
// storage, queue, and transport interfaces the engine is built against.
package scraper
