package driver

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/datazip-inc/olake-github/constants"
	"github.com/datazip-inc/olake-github/pkg/paginator"
	"github.com/datazip-inc/olake-github/statestore"
	"github.com/datazip-inc/olake-github/utils"
	"github.com/datazip-inc/olake-github/utils/typeutils"
)

type Config struct {
	// AccessToken
	//
	// @jsonSchema(
	//   title="Access Token",
	//   description="GitHub personal access token",
	//   type="string",
	//   format="password",
	//   required=true,
	//   order=1
	// )
	AccessToken string `json:"access_token" validate:"required" jsonschema:"GitHub personal access token"`

	// Repository
	//
	// @jsonSchema(
	//   title="Repositories",
	//   description="Space separated list of owner/name repositories to sync",
	//   type="string",
	//   required=true,
	//   order=2
	// )
	Repository string `json:"repository" validate:"required,repositories" jsonschema:"space separated list of owner/name repositories to sync"`

	// StartDate
	//
	// @jsonSchema(
	//   title="Start Date",
	//   description="Lower bound of incremental streams without a bookmark (RFC3339)",
	//   type="string",
	//   order=3
	// )
	StartDate string `json:"start_date,omitempty" jsonschema:"lower bound of incremental streams without a bookmark (RFC3339)"`

	// BaseURL
	//
	// @jsonSchema(
	//   title="Base URL",
	//   description="API root, set for GitHub Enterprise",
	//   type="string",
	//   default="https://api.github.com/",
	//   order=4
	// )
	BaseURL string `json:"base_url,omitempty" validate:"omitempty,url" jsonschema:"API root, set for GitHub Enterprise"`

	// RequestTimeout
	//
	// @jsonSchema(
	//   title="Request Timeout",
	//   description="Timeout of a single API request in seconds",
	//   type="integer",
	//   default=300,
	//   order=5
	// )
	RequestTimeout int `json:"request_timeout,omitempty" validate:"gte=0" jsonschema:"timeout of a single API request in seconds"`

	// MaxRetries
	//
	// @jsonSchema(
	//   title="Max Retries",
	//   description="Attempts of a request before the stream fails",
	//   type="integer",
	//   default=5,
	//   order=6
	// )
	MaxRetries int `json:"max_retries,omitempty" validate:"gte=0" jsonschema:"attempts of a request before the stream fails"`

	// BackoffBaseMS
	//
	// @jsonSchema(
	//   title="Backoff Base",
	//   description="First retry delay in milliseconds, doubled on every attempt",
	//   type="integer",
	//   default=1000,
	//   order=7
	// )
	BackoffBaseMS int `json:"backoff_base_ms,omitempty" validate:"gte=0" jsonschema:"first retry delay in milliseconds, doubled on every attempt"`

	// MaxBackoffSeconds
	//
	// @jsonSchema(
	//   title="Max Backoff",
	//   description="Cap of a retry delay in seconds",
	//   type="integer",
	//   default=120,
	//   order=8
	// )
	MaxBackoffSeconds int `json:"max_backoff_seconds,omitempty" validate:"gte=0" jsonschema:"cap of a retry delay in seconds"`

	// MaxSleepSeconds
	//
	// @jsonSchema(
	//   title="Max Rate Limit Sleep",
	//   description="Longest rate limit wait in seconds; longer waits fail the stream",
	//   type="integer",
	//   default=600,
	//   order=9
	// )
	MaxSleepSeconds int `json:"max_sleep_seconds,omitempty" validate:"gte=0" jsonschema:"longest rate limit wait in seconds, longer waits fail the stream"`

	// PageSize
	//
	// @jsonSchema(
	//   title="Page Size",
	//   description="Records requested per page",
	//   type="integer",
	//   default=100,
	//   order=10
	// )
	PageSize int `json:"page_size,omitempty" validate:"gte=0,lte=100" jsonschema:"records requested per page"`

	// MaxThreads
	//
	// @jsonSchema(
	//   title="Max Threads",
	//   description="Root stream subtrees synced concurrently",
	//   type="integer",
	//   default=1,
	//   order=11
	// )
	MaxThreads int `json:"max_threads,omitempty" validate:"gte=0" jsonschema:"root stream subtrees synced concurrently"`

	// RequestsPerSecond
	//
	// @jsonSchema(
	//   title="Requests Per Second",
	//   description="Proactive throttle of API requests",
	//   type="number",
	//   default=1.35,
	//   order=12
	// )
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" validate:"gte=0" jsonschema:"proactive throttle of API requests"`

	// StateStore
	//
	// @jsonSchema(
	//   title="State Store",
	//   description="Where checkpoints are persisted, the state file by default",
	//   type="object",
	//   order=13
	// )
	StateStore *statestore.Config `json:"state_store,omitempty" jsonschema:"where checkpoints are persisted, the state file by default"`
}

func (c *Config) Validate() error {
	if err := utils.Validate(c); err != nil {
		return err
	}

	if c.StartDate != "" {
		if _, err := typeutils.ParseTimestamp(c.StartDate); err != nil {
			return fmt.Errorf("invalid start_date: %s", err)
		}
	}

	if c.StateStore != nil {
		return c.StateStore.Validate()
	}
	return nil
}

// Repositories returns the configured owner/name pairs in order, without duplicates
func (c *Config) Repositories() []string {
	seen := make(map[string]bool)
	repos := []string{}
	for _, repo := range strings.Fields(c.Repository) {
		if !seen[repo] {
			seen[repo] = true
			repos = append(repos, repo)
		}
	}
	return repos
}

// APIURL returns the API root with the trailing slash go-github requires
func (c *Config) APIURL() (*url.URL, error) {
	base := utils.Ternary(c.BaseURL != "", c.BaseURL, constants.DefaultBaseURL)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return url.Parse(base)
}

func (c *Config) RetryPolicy() paginator.RetryPolicy {
	policy := paginator.DefaultRetryPolicy()
	if c.MaxRetries > 0 {
		policy.MaxAttempts = c.MaxRetries
	}
	if c.BackoffBaseMS > 0 {
		policy.BaseDelay = time.Duration(c.BackoffBaseMS) * time.Millisecond
	}
	if c.MaxBackoffSeconds > 0 {
		policy.MaxDelay = time.Duration(c.MaxBackoffSeconds) * time.Second
	}
	if c.MaxSleepSeconds > 0 {
		policy.MaxRateLimitWait = time.Duration(c.MaxSleepSeconds) * time.Second
	}
	return policy
}

// RateLimiter throttles requests at requests_per_second, GitHub's hourly quota spread evenly by default
func (c *Config) RateLimiter() *paginator.RateLimiter {
	rps := utils.Ternary(c.RequestsPerSecond > 0, c.RequestsPerSecond, paginator.DefaultRequestsPerSecond)
	return paginator.NewRateLimiter(rate.Limit(rps), 1)
}

func (c *Config) Timeout() time.Duration {
	return utils.Ternary(c.RequestTimeout > 0, time.Duration(c.RequestTimeout)*time.Second, constants.DefaultRequestTimeout)
}

// NormalizedStartDate renders start_date in the canonical bookmark form
func (c *Config) NormalizedStartDate() string {
	if c.StartDate == "" {
		return ""
	}
	parsed, err := typeutils.ParseTimestamp(c.StartDate)
	if err != nil {
		return c.StartDate
	}
	return typeutils.FormatTimestamp(parsed)
}

func (c *Config) StateStoreConfig() *statestore.Config {
	return c.StateStore
}
