package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	neturl "net/url"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/singleflight"

	"pdf2html/internal/artifacts"
	"pdf2html/internal/converter"
	"pdf2html/internal/fetch"
	"pdf2html/internal/metrics"
	u "pdf2html/internal/utils"
)

const (
	formatPDF  = "pdf"
	formatHTML = "html"
)

var errFetchStage = errors.New("fetch stage failed")

// ConversionRequest holds the validated query of one /api request.
type ConversionRequest struct {
	SourceURL string
	From      string
	To        string
}

// ConversionResult is the success body. The converted document is returned
// in the "html" field.
type ConversionResult struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Fetcher downloads a remote document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// ArtifactStore is the on-disk cache the pipeline reads and fills.
type ArtifactStore interface {
	Exists(key artifacts.Key) bool
	Read(key artifacts.Key) (string, error)
	WriteInput(key artifacts.Key, r io.Reader) (int64, error)
	TempFile(key artifacts.Key, ext string) (*os.File, error)
	InputPath(key artifacts.Key) string
	OutputPath(key artifacts.Key) string
	Commit(tmpPath, dst string) error
}

// Deps wires the collaborators of ConvertService.
type Deps struct {
	Store     ArtifactStore
	Mirror    *artifacts.Mirror
	Fetcher   Fetcher
	Converter converter.Converter
	Metrics   *metrics.Metrics
}

// ConvertService serves /api conversion requests from the artifact cache
// or by running fetch and convert.
type ConvertService struct {
	Config *u.Config

	store     ArtifactStore
	mirror    *artifacts.Mirror
	fetcher   Fetcher
	converter converter.Converter
	metrics   *metrics.Metrics

	flights       singleflight.Group
	flightTimeout time.Duration
}

// NewConvertService creates a ConvertService. The pipeline deadline covers
// every fetch attempt plus one conversion.
func NewConvertService(cfg u.Config, deps Deps) *ConvertService {
	m := deps.Metrics
	if m == nil {
		m = metrics.New("pdf2html")
	}
	fetchBudget := cfg.Fetch.Timeout * time.Duration(cfg.Fetch.MaxRetries+1)
	convertBudget := time.Duration(cfg.Converter.TimeoutSecs) * time.Second
	return &ConvertService{
		Config:        &cfg,
		store:         deps.Store,
		mirror:        deps.Mirror,
		fetcher:       deps.Fetcher,
		converter:     deps.Converter,
		metrics:       m,
		flightTimeout: fetchBudget + convertBudget + 10*time.Second,
	}
}

// HandleConvert validates url/from/to and responds with the converted HTML.
func (svc *ConvertService) HandleConvert(c *fiber.Ctx) error {
	req := ConversionRequest{
		SourceURL: strings.Clone(c.Query("url")),
		From:      c.Query("from"),
		To:        c.Query("to"),
	}
	u.Info("Conversion requested",
		"url", req.SourceURL,
		"from", req.From,
		"to", req.To,
		"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
	)

	if err := req.Validate(); err != nil {
		svc.metrics.Request(metrics.OutcomeBadRequest)
		return err
	}

	html, err := svc.Convert(c.UserContext(), req.SourceURL)
	if err != nil {
		if errors.Is(err, errFetchStage) {
			svc.metrics.Request(metrics.OutcomeFetchFailed)
			u.Warn("Error fetching source document", "url", req.SourceURL, "error", err)
			return errFetchFailed()
		}
		svc.metrics.Request(metrics.OutcomeFailed)
		u.Error("Error with PDF converter", "url", req.SourceURL, "error", err)
		return errConversionFailed()
	}

	svc.metrics.Request(metrics.OutcomeOK)
	return c.Status(fiber.StatusOK).JSON(ConversionResult{
		URL:  req.SourceURL,
		HTML: html,
		From: strings.ToLower(req.From),
		To:   strings.ToLower(req.To),
	})
}

// Validate checks the request in order and returns the first failure.
func (r ConversionRequest) Validate() error {
	if r.SourceURL == "" {
		return errInvalidURL()
	}
	if r.From == "" {
		return errInvalidFrom()
	}
	if r.To == "" {
		return errInvalidTo()
	}
	if !strings.EqualFold(r.From, formatPDF) {
		return errUnsupportedFrom(r.From)
	}
	if !strings.EqualFold(r.To, formatHTML) {
		return errUnsupportedTo(r.To)
	}
	parsed, err := neturl.ParseRequestURI(r.SourceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errInvalidURL()
	}
	return nil
}

// Convert returns the HTML for rawURL, from cache when possible. Concurrent
// misses for the same URL share one pipeline run.
func (svc *ConvertService) Convert(ctx context.Context, rawURL string) (string, error) {
	key := artifacts.KeyFor(rawURL)

	if html, ok := svc.mirror.Get(ctx, key); ok {
		svc.metrics.Cache(metrics.CacheMirror)
		u.Info("HTML cache hit", "key", key, "source", "redis")
		return html, nil
	}
	if html, ok := svc.readCached(key); ok {
		svc.metrics.Cache(metrics.CacheDisk)
		u.Info("HTML cache hit", "key", key, "source", "disk")
		svc.mirror.Set(ctx, key, html)
		return html, nil
	}

	// Shared is also set for the caller that ran the pipeline.
	var ranPipeline bool
	ch := svc.flights.DoChan(string(key), func() (interface{}, error) {
		ranPipeline = true
		return svc.runPipeline(key, rawURL)
	})
	select {
	case res := <-ch:
		if res.Shared && !ranPipeline {
			svc.metrics.Cache(metrics.CacheShared)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (svc *ConvertService) readCached(key artifacts.Key) (string, bool) {
	if !svc.store.Exists(key) {
		return "", false
	}
	html, err := svc.store.Read(key)
	if err != nil {
		if !errors.Is(err, artifacts.ErrNotFound) {
			u.Warn("Cached artifact unreadable, converting again", "key", key, "error", err)
		}
		return "", false
	}
	return html, true
}

// runPipeline fetches, converts and reads back one document. It runs on its
// own context so that a departing client does not cancel waiters that share
// the flight.
func (svc *ConvertService) runPipeline(key artifacts.Key, rawURL string) (string, error) {
	if html, ok := svc.readCached(key); ok {
		svc.metrics.Cache(metrics.CacheDisk)
		return html, nil
	}
	svc.metrics.Cache(metrics.CacheMiss)

	ctx, cancel := context.WithTimeout(context.Background(), svc.flightTimeout)
	defer cancel()

	done := svc.metrics.StartConversion(svc.converter.Name())
	html, err := svc.fetchAndConvert(ctx, key, rawURL)
	done(err)
	if err != nil {
		return "", err
	}

	svc.mirror.Set(ctx, key, html)
	u.Info("PDF converted", "key", key, "url", rawURL, "bytes", len(html))
	return html, nil
}

func (svc *ConvertService) fetchAndConvert(ctx context.Context, key artifacts.Key, rawURL string) (string, error) {
	body, err := svc.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errFetchStage, err)
	}
	n, err := svc.store.WriteInput(key, body)
	body.Close()
	if err != nil {
		return "", fmt.Errorf("%w: %w", errFetchStage, err)
	}
	if n == 0 {
		return "", fmt.Errorf("%w: %w", errFetchStage, fetch.ErrEmptyBody)
	}
	svc.metrics.FetchedBytes(n)

	tmp, err := svc.store.TempFile(key, ".html")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := svc.converter.Convert(ctx, svc.store.InputPath(key), tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("convert %s: %w", key, err)
	}
	if err := svc.store.Commit(tmpPath, svc.store.OutputPath(key)); err != nil {
		return "", err
	}
	return svc.store.Read(key)
}

type poolStats interface {
	Stats() converter.PoolStats
}

// HandleConverterStats reports converter pool capacity and usage.
func (svc *ConvertService) HandleConverterStats(c *fiber.Ctx) error {
	p, ok := svc.converter.(poolStats)
	if !ok {
		return c.JSON(converter.PoolStats{Backend: svc.converter.Name(), Enabled: true})
	}
	return c.JSON(p.Stats())
}
