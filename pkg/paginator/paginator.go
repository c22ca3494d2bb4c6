package paginator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gh "github.com/google/go-github/v80/github"

	"github.com/datazip-inc/olake-github/constants"
	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils/logger"
)

// Observer receives request level events, used for metrics
type Observer interface {
	ObserveRequest(stream string, statusCode int)
	ObserveRetry(stream string, kind types.ErrorKindType)
}

type noopObserver struct{}

func (noopObserver) ObserveRequest(string, int) {}

func (noopObserver) ObserveRetry(string, types.ErrorKindType) {}

// Paginator fetches one page of a GitHub collection per call, retrying transient failures and
// rate limits according to its RetryPolicy
type Paginator struct {
	client   *gh.Client
	policy   RetryPolicy
	limiter  *RateLimiter
	pageSize int
	timeout  time.Duration
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

type Option func(*Paginator)

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(p *Paginator) { p.policy = policy.normalized() }
}

func WithRateLimiter(limiter *RateLimiter) Option {
	return func(p *Paginator) { p.limiter = limiter }
}

func WithPageSize(size int) Option {
	return func(p *Paginator) {
		if size > 0 {
			p.pageSize = size
		}
	}
}

// WithRequestTimeout bounds the wall clock time of every request
func WithRequestTimeout(timeout time.Duration) Option {
	return func(p *Paginator) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(p *Paginator) {
		if observer != nil {
			p.observer = observer
		}
	}
}

// WithSleep replaces the backoff sleep, used by tests
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Paginator) { p.sleep = sleep }
}

func New(client *gh.Client, opts ...Option) *Paginator {
	p := &Paginator{
		client:   client,
		policy:   DefaultRetryPolicy(),
		limiter:  NewRateLimiter(DefaultRequestsPerSecond, 1),
		pageSize: constants.DefaultPageSize,
		timeout:  constants.DefaultRequestTimeout,
		observer: noopObserver{},
		sleep:    sleepContext,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetch returns the page of ref following afterToken; an empty token fetches the first page.
// Every attempt issues exactly one request.
func (p *Paginator) Fetch(ctx context.Context, ref types.ResourceRef, afterToken string) (*types.Page, error) {
	target := afterToken
	if target == "" {
		target = p.firstPageURL(ref)
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := p.throttle(ctx); err != nil {
			return nil, err
		}

		page, resp, err := p.fetchOnce(ctx, ref, target)
		if resp != nil {
			p.limiter.UpdateFromResponse(resp)
			p.observer.ObserveRequest(ref.Stream, resp.StatusCode)
		}
		if err == nil {
			return page, nil
		}

		// cancellation of the caller is never retried
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		failure := p.classify(resp, err)
		lastErr = failure.err

		var wait time.Duration
		switch failure.kind {
		case types.KindRateLimitExceeded:
			wait = failure.wait
			if wait <= 0 {
				wait = p.policy.Backoff(attempt)
			}
			if wait > p.policy.MaxRateLimitWait {
				return nil, &types.RateLimitExceededError{Attempts: attempt, RetryAfter: wait, Err: lastErr}
			}
			if attempt >= p.policy.MaxAttempts {
				return nil, &types.RateLimitExceededError{Attempts: attempt, RetryAfter: wait, Err: lastErr}
			}
		case types.KindUpstreamUnavailable:
			if attempt >= p.policy.MaxAttempts {
				return nil, &types.UpstreamUnavailableError{Attempts: attempt, Err: lastErr}
			}
			wait = p.policy.Backoff(attempt)
		default:
			return nil, lastErr
		}

		p.observer.ObserveRetry(ref.Stream, failure.kind)
		logger.Warnf("stream[%s] attempt %d/%d failed, retrying in %s: %s", ref.Stream, attempt, p.policy.MaxAttempts, wait, lastErr)
		if err := p.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (p *Paginator) throttle(ctx context.Context) error {
	if err := p.limiter.Throttle(ctx); err != nil {
		return err
	}

	wait := p.limiter.QuotaWait(p.now())
	if wait <= 0 {
		return nil
	}
	if wait > p.policy.MaxRateLimitWait {
		return &types.RateLimitExceededError{RetryAfter: wait, Err: fmt.Errorf("quota exhausted: %s", p.limiter)}
	}

	logger.Infof("rate limit quota low (%s), waiting %s", p.limiter, wait)
	return p.sleep(ctx, wait)
}

func (p *Paginator) firstPageURL(ref types.ResourceRef) string {
	query := url.Values{}
	for key, values := range ref.Query {
		query[key] = append([]string(nil), values...)
	}
	if query.Get("per_page") == "" {
		query.Set("per_page", strconv.Itoa(p.pageSize))
	}

	path := strings.TrimPrefix(ref.Path, "/")
	return path + "?" + query.Encode()
}

func (p *Paginator) fetchOnce(ctx context.Context, ref types.ResourceRef, target string) (*types.Page, *http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := p.client.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, &types.UpstreamRequestError{URL: target, Message: err.Error()}
	}
	if ref.Accept != "" {
		req.Header.Set("Accept", ref.Accept)
	}

	resp, err := p.client.BareDo(reqCtx, req)
	var httpResp *http.Response
	if resp != nil {
		httpResp = resp.Response
	}
	if err != nil {
		return nil, httpResp, err
	}
	defer resp.Body.Close()

	records, err := decodeRecords(resp.Body)
	if err != nil {
		// a truncated body is retried like any other transport failure
		return nil, httpResp, fmt.Errorf("failed to decode response of %s: %w", target, err)
	}

	return &types.Page{
		Records:   records,
		NextToken: ParseNextLink(resp.Header.Get("Link")),
	}, httpResp, nil
}

// decodeRecords accepts a JSON array of objects or a single object
func decodeRecords(body io.Reader) ([]types.Record, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return []types.Record{}, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		records := []types.Record{}
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	record := types.Record{}
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return []types.Record{record}, nil
}

type failure struct {
	kind types.ErrorKindType
	wait time.Duration
	err  error
}

// classify maps a failed attempt to its retry class
func (p *Paginator) classify(resp *http.Response, err error) failure {
	var (
		rateLimitErr *gh.RateLimitError
		abuseErr     *gh.AbuseRateLimitError
		errorResp    *gh.ErrorResponse
	)

	switch {
	case errors.As(err, &rateLimitErr):
		wait := retryAfter(rateLimitErr.Response, p.now())
		if wait == 0 && !rateLimitErr.Rate.Reset.IsZero() {
			wait = rateLimitErr.Rate.Reset.Sub(p.now()) + time.Second
		}
		return failure{kind: types.KindRateLimitExceeded, wait: wait, err: err}
	case errors.As(err, &abuseErr):
		wait := retryAfter(abuseErr.Response, p.now())
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		return failure{kind: types.KindRateLimitExceeded, wait: wait, err: err}
	case errors.As(err, &errorResp) && errorResp.Response != nil:
		return p.classifyStatus(errorResp.Response, errorResp.Message, err)
	case resp != nil && resp.StatusCode >= 400:
		return p.classifyStatus(resp, http.StatusText(resp.StatusCode), err)
	default:
		// network failures, request timeouts and truncated bodies
		return failure{kind: types.KindUpstreamUnavailable, err: err}
	}
}

func (p *Paginator) classifyStatus(resp *http.Response, message string, err error) failure {
	status := resp.StatusCode
	requestURL := ""
	if resp.Request != nil && resp.Request.URL != nil {
		requestURL = resp.Request.URL.String()
	}

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusForbidden && resp.Header.Get(HeaderRateRemaining) == "0":
		return failure{kind: types.KindRateLimitExceeded, wait: retryAfter(resp, p.now()), err: err}
	case status >= 500:
		return failure{kind: types.KindUpstreamUnavailable, err: err}
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return failure{kind: types.KindUpstreamAuth, err: &types.UpstreamAuthError{StatusCode: status, URL: requestURL, Message: message}}
	default:
		return failure{kind: types.KindUpstreamRequest, err: &types.UpstreamRequestError{StatusCode: status, URL: requestURL, Message: message}}
	}
}
