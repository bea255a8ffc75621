// Package adstxt implements the per-item worker: homepage detection plus
// ads.txt / app-ads.txt retrieval and classification.
package adstxt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"scrapehub/internal/core/job"
	"scrapehub/internal/logger"
	rds "scrapehub/internal/platform/redis"
)

// TransientError marks a failure worth retrying (timeouts, refused or
// reset connections). Anything else is terminal for the item.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string   { return e.Err.Error() }
func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Transient() bool { return true }

// IsTransient reports whether err is a retryable worker failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const maxContentLength = 500

type Options struct {
	FetchTimeout  time.Duration
	RatePerSecond float64
	CacheTTL      time.Duration
}

// Service performs the actual checks. The shared limiter keeps the worker
// pool polite toward target sites; redis caches synchronous check results.
type Service struct {
	client   *http.Client
	redis    *rds.Service
	limiter  *rate.Limiter
	log      *logger.Logger
	cacheTTL time.Duration
}

func New(redis *rds.Service, opts Options) *Service {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	transport := &http.Transport{
		// Target sites routinely serve broken certificates; the checker
		// reports on file contents, it does not vouch for transport
		// security.
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Service{
		client:   &http.Client{Timeout: opts.FetchTimeout, Transport: transport},
		redis:    redis,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		log:      logger.New("AdsTxt"),
		cacheTTL: opts.CacheTTL,
	}
}

// Process runs the full check for one work item. It returns a transient
// error when homepage detection hit a retryable network failure; any
// other outcome, including per-file errors, is a terminal result.
func (s *Service) Process(ctx context.Context, item job.WorkItem) (*job.ItemResult, error) {
	homepage, detection, err := s.DetectHomepage(ctx, item.URL)
	if err != nil {
		return nil, err
	}
	res := &job.ItemResult{
		JobID:             item.JobID,
		ItemSeq:           item.Seq,
		OriginalURL:       item.RawInput,
		HomepageDetection: detection,
	}
	if homepage == "" {
		res.Error = "Homepage detection failed: " + detection
		return res, nil
	}
	res.HomepageURL = homepage
	res.AdsTxt = s.CheckFile(ctx, homepage+"ads.txt")
	res.AppAdsTxt = s.CheckFile(ctx, homepage+"app-ads.txt")
	return res, nil
}

// ErrorResult builds the terminal result for an item whose worker failed
// even after retries.
func ErrorResult(item job.WorkItem, err error) *job.ItemResult {
	return &job.ItemResult{
		JobID:       item.JobID,
		ItemSeq:     item.Seq,
		OriginalURL: item.RawInput,
		Error:       err.Error(),
	}
}

// DetectHomepage follows redirects from the candidate URL and returns the
// scheme://host/ the site actually lives at, plus a detection status.
// A TLS failure falls back to plain HTTP, mirroring how publishers often
// serve ads.txt on misconfigured domains.
func (s *Service) DetectHomepage(ctx context.Context, candidate string) (string, string, error) {
	final, err := s.fetchFinalURL(ctx, candidate)
	if err == nil {
		return final.Scheme + "://" + final.Host + "/", "OK", nil
	}
	if isTLSError(err) {
		httpURL := strings.Replace(candidate, "https://", "http://", 1)
		if final, retryErr := s.fetchFinalURL(ctx, httpURL); retryErr == nil {
			return final.Scheme + "://" + final.Host + "/", "OK (HTTP fallback)", nil
		}
		return "", "SSL Error", nil
	}
	if isTimeout(err) {
		return "", "Timeout", &TransientError{Err: fmt.Errorf("homepage detect %s: %w", candidate, err)}
	}
	if isConnectionError(err) {
		return "", "Connection Error", &TransientError{Err: fmt.Errorf("homepage detect %s: %w", candidate, err)}
	}
	return "", "Error: " + err.Error(), nil
}

func (s *Service) fetchFinalURL(ctx context.Context, rawURL string) (*url.URL, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	applyProfile(req, randomProfile())
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.Request.URL, nil
}

// CheckFile fetches one ads.txt/app-ads.txt URL and classifies the
// response. Network failures are folded into the result text; this never
// fails the item.
func (s *Service) CheckFile(ctx context.Context, fileURL string) *job.FileCheck {
	check := &job.FileCheck{URL: fileURL, ResultText: "Error"}
	start := time.Now()
	done := func() { check.TimeMs = time.Since(start).Milliseconds() }

	if err := s.limiter.Wait(ctx); err != nil {
		done()
		check.ResultText = "Cancelled"
		return check
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		done()
		check.ResultText = err.Error()
		return check
	}
	applyProfile(req, randomProfile())

	resp, err := s.client.Do(req)
	if err != nil {
		done()
		switch {
		case isTimeout(err):
			check.ResultText = "Timeout"
		case isConnectionError(err):
			check.ResultText = "Connection Error"
		default:
			check.ResultText = err.Error()
		}
		return check
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	done()
	check.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		check.ResultText = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return check
	}
	if readErr != nil {
		check.ResultText = readErr.Error()
		return check
	}
	check.ResultText = "OK"
	check.Content = truncate(string(body), maxContentLength)
	check.HasHTML = looksLikeHTML(string(body))
	return check
}

// looksLikeHTML flags soft-404 pages: a 200 that served markup instead of
// the expected plain-text file.
func looksLikeHTML(body string) bool {
	lower := strings.ToLower(body)
	if strings.Contains(lower, "<html") || strings.Contains(lower, "<body") || strings.Contains(lower, "<div") {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return false
	}
	// Plain text parses into an empty implicit body; any element child
	// means the server returned markup.
	return doc.Find("body").Children().Length() > 0
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "") + "..."
}

func applyProfile(req *http.Request, p HeaderProfile) {
	req.Header.Set("User-Agent", p.UserAgent)
	req.Header.Set("Accept", p.Accept)
	req.Header.Set("Accept-Language", p.AcceptLanguage)
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTLSError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	return strings.Contains(err.Error(), "tls:")
}

// CheckURL runs a synchronous single-URL check, cached in redis so that
// repeated lookups of the same site do not hammer it.
func (s *Service) CheckURL(ctx context.Context, u string) (*job.ItemResult, error) {
	key := "adstxt:check:" + strings.ToLower(u)
	if s.redis != nil {
		var cached job.ItemResult
		if err := s.redis.CacheGet(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}
	res, err := s.Process(ctx, job.WorkItem{RawInput: u, URL: u})
	if err != nil {
		res = ErrorResult(job.WorkItem{RawInput: u, URL: u}, err)
	}
	if s.redis != nil {
		if err := s.redis.CacheSet(ctx, key, res, int(s.cacheTTL.Seconds())); err != nil {
			s.log.LogWarnf("cache set failed for %s: %v", u, err)
		}
	}
	return res, nil
}
