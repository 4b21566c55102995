package floors

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/alitto/pond"
	validator "github.com/asaskevich/govalidator"
	"github.com/golang/glog"
	cache "github.com/patrickmn/go-cache"

	"github.com/adgrid-io/pricefloors/config"
)

const (
	fetchFailNetwork    = "1"
	fetchFailParse      = "2"
	fetchFailValidation = "3"
)

// delayedAuction is one auction continuation queued while a fetch is
// outstanding. The continuation resumes exactly once: either the fetch
// completion or the delay timer wins, never both.
type delayedAuction struct {
	once  sync.Once
	timer *time.Timer
	run   func()
}

func (d *delayedAuction) resume() {
	d.once.Do(func() {
		if d.timer != nil {
			d.timer.Stop()
		}
		d.run()
	})
}

// floorFetcher runs dynamic floor fetches on a bounded worker pool and caches
// fetched documents per URL.
type floorFetcher struct {
	pool   *pond.WorkerPool
	cache  *cache.Cache
	client *http.Client
}

func newFloorFetcher(client *http.Client, cacheExpiry time.Duration) *floorFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &floorFetcher{
		pool:   pond.New(2, 16),
		cache:  cache.New(cacheExpiry, cacheExpiry),
		client: client,
	}
}

func (f *floorFetcher) stop() {
	f.pool.Stop()
}

// delayAuction queues a continuation behind the in-flight fetch with its own
// expiry timer.
func (s *FloorService) delayAuction(delayMs int, run func()) {
	delayed := &delayedAuction{run: run}
	delayed.timer = time.AfterFunc(time.Duration(delayMs)*time.Millisecond, delayed.resume)

	s.mu.Lock()
	// The fetch may have completed between the caller's check and here; resume
	// immediately instead of stranding the auction in the queue.
	if !s.fetchInflight {
		s.mu.Unlock()
		delayed.resume()
		return
	}
	s.pending = append(s.pending, delayed)
	s.mu.Unlock()
	s.metrics.RecordDelayedAuction()
}

// requestUpdate starts a dynamic rule fetch for the configured endpoint.
// Single-flight: a second request while one is outstanding is a warned no-op.
// A cached document for the URL is applied without touching the network.
func (s *FloorService) requestUpdate(cfg config.Config) {
	if !cfg.EndpointMethodIsGET() {
		glog.Errorf("Floor fetch supports GET only, configured method '%s' for URL %s", cfg.Endpoint.Method, cfg.Endpoint.URL)
		return
	}
	if !validator.IsURL(cfg.Endpoint.URL) {
		glog.Errorf("Invalid floor fetch URL %s", cfg.Endpoint.URL)
		return
	}

	if cached, found := s.fetcher.cache.Get(cfg.Endpoint.URL); found {
		if data, ok := cached.(*PriceFloorData); ok {
			s.applyFetchedData(data, cfg)
		}
		return
	}

	s.mu.Lock()
	if s.fetchInflight {
		s.mu.Unlock()
		glog.Warningf("Floor fetch already in progress for URL %s", cfg.Endpoint.URL)
		return
	}
	s.fetchInflight = true
	s.mu.Unlock()

	submitted := s.fetcher.pool.TrySubmit(func() { s.runFetch(cfg) })
	if !submitted {
		glog.Errorf("Floor fetch worker pool rejected fetch for URL %s", cfg.Endpoint.URL)
		s.metrics.RecordFloorFetchFailure(cfg.Endpoint.URL, fetchFailNetwork)
		s.completeFetch(nil, cfg, 0)
	}
}

// runFetch performs one fetch attempt and completes the single-flight cycle,
// releasing every delayed auction whatever the outcome.
func (s *FloorService) runFetch(cfg config.Config) {
	start := time.Now()
	respBody, maxAge, err := fetchFloorRulesFromURL(s.fetcher.client, cfg)
	s.metrics.RecordFloorFetchTime(time.Since(start))

	if err != nil {
		glog.Errorf("Error fetching floor data from URL %s: %v", cfg.Endpoint.URL, err)
		s.metrics.RecordFloorFetchFailure(cfg.Endpoint.URL, fetchFailNetwork)
		s.completeFetch(nil, cfg, 0)
		return
	}

	// A body that fails to parse is forwarded as an empty document for the
	// compiler to reject, keeping parse failures on the same path as shape
	// failures; the previously active table survives either way.
	data := new(PriceFloorData)
	if err := json.Unmarshal(respBody, data); err != nil {
		glog.Errorf("Received invalid floor json from URL %s: %v", cfg.Endpoint.URL, err)
		s.metrics.RecordFloorFetchFailure(cfg.Endpoint.URL, fetchFailParse)
	}

	expiry := time.Duration(cfg.FetchMaxAge()) * time.Second
	if maxAge > 0 && maxAge > cfg.FetchMaxAge() {
		expiry = time.Duration(maxAge) * time.Second
	}
	s.completeFetch(data, cfg, expiry)
}

// completeFetch compiles the fetched document into the active table, releases
// the single-flight flag and resumes every queued auction. Invalid data leaves
// the previously active table untouched. Only a document that validated and
// compiled enters the per-URL cache, so a bad response never suppresses the
// next network retry for its expiry window.
func (s *FloorService) completeFetch(data *PriceFloorData, cfg config.Config, expiry time.Duration) {
	var table *FloorTable
	if data != nil {
		if err := validateFetchedData(data, cfg); err != nil {
			glog.Errorf("Validation failed for floor data from URL %s: %v", cfg.Endpoint.URL, err)
			s.metrics.RecordFloorFetchFailure(cfg.Endpoint.URL, fetchFailValidation)
		} else {
			var errs []error
			table, errs = s.compiler.Compile(data, LocationFetch)
			for _, err := range errs {
				glog.Warningf("Compiling floor data from URL %s: %v", cfg.Endpoint.URL, err)
			}
			if table == nil {
				s.metrics.RecordFloorFetchFailure(cfg.Endpoint.URL, fetchFailValidation)
			}
		}
	}

	if table != nil {
		s.fetcher.cache.Set(cfg.Endpoint.URL, data, expiry)
	}

	s.mu.Lock()
	if table != nil {
		s.activeTable = table
	}
	s.fetchInflight = false
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, delayed := range pending {
		delayed.resume()
	}
}

// applyFetchedData installs a cached document as the active table without a
// network round trip.
func (s *FloorService) applyFetchedData(data *PriceFloorData, cfg config.Config) {
	if err := validateFetchedData(data, cfg); err != nil {
		glog.Errorf("Validation failed for cached floor data from URL %s: %v", cfg.Endpoint.URL, err)
		return
	}
	table, errs := s.compiler.Compile(data, LocationFetch)
	for _, err := range errs {
		glog.Warningf("Compiling cached floor data from URL %s: %v", cfg.Endpoint.URL, err)
	}
	if table == nil {
		return
	}
	s.mu.Lock()
	s.activeTable = table
	s.mu.Unlock()
}

// fetchFloorRulesFromURL GETs the floor document within the configured
// deadline and returns the raw body plus the response max-age, when present.
func fetchFloorRulesFromURL(client *http.Client, cfg config.Config) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.FetchTimeout())*time.Millisecond)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint.URL, nil)
	if err != nil {
		return nil, 0, errors.New("error while forming http fetch request: " + err.Error())
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, errors.New("error while getting response from url: " + err.Error())
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, 0, errors.New("no response from server")
	}

	body := io.Reader(httpResp.Body)
	if cfg.Fetch.MaxFileSize > 0 {
		body = io.LimitReader(httpResp.Body, int64(cfg.Fetch.MaxFileSize)*1024+1)
	}
	respBody, err := io.ReadAll(body)
	if err != nil {
		return nil, 0, errors.New("unable to read response")
	}
	if cfg.Fetch.MaxFileSize > 0 && len(respBody) > cfg.Fetch.MaxFileSize*1024 {
		return nil, 0, errors.New("floor file size exceeds the configured maximum")
	}

	var maxAge int
	if maxAgeStr := httpResp.Header.Get("max-age"); maxAgeStr != "" {
		maxAge, _ = strconv.Atoi(maxAgeStr)
	}

	return respBody, maxAge, nil
}

// validateFetchedData applies the fetch-specific bounds on top of document
// validation.
func validateFetchedData(data *PriceFloorData, cfg config.Config) error {
	if err := validateFloorData(data); err != nil {
		return err
	}
	if len(data.ModelGroups) == 0 && data.Schema == nil {
		return errors.New("no model groups found in floor data")
	}
	if cfg.Fetch.MaxRules > 0 {
		for _, modelGroup := range data.ModelGroups {
			if len(modelGroup.Values) > cfg.Fetch.MaxRules {
				return errors.New("floor rule count exceeds the configured maximum")
			}
		}
		if len(data.Values) > cfg.Fetch.MaxRules {
			return errors.New("floor rule count exceeds the configured maximum")
		}
	}
	return nil
}
