// Package floors implements the price-floor resolution and enforcement engine
// of a client-side ad-auction pipeline: it compiles publisher-supplied floor
// rules into lookup tables, resolves the most specific applicable floor for a
// bid context, coordinates dynamic rule fetches with auction delays, and
// rejects bid responses below their resolved floor.
package floors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/adgrid-io/pricefloors/config"
	"github.com/adgrid-io/pricefloors/currency"
	"github.com/adgrid-io/pricefloors/metrics"
	"github.com/adgrid-io/pricefloors/util/randomutil"
)

// Deps are the external capabilities the floor service consumes. All fields
// are optional; missing capabilities degrade per the error-handling policy
// (currency conversion unavailable, no bidder adjustments, and so on).
type Deps struct {
	Conversions       currency.Conversions
	Metrics           metrics.Engine
	BidderAdjustments AdjustmentLookup
	PageDomain        func() string
	HTTPClient        *http.Client
	Random            randomutil.RandomGenerator
}

// FloorService owns all floor state: the active global rule table, the
// in-flight fetch flag, the pending delayed-auction queue and the per-auction
// contexts. Hosts create one instance and register its hooks into their
// request/response pipeline.
type FloorService struct {
	mu sync.RWMutex

	cfg            config.Config
	activeTable    *FloorTable
	contexts       map[string]*auctionFloorContext
	fetchInflight  bool
	pending        []*delayedAuction
	fieldResolvers map[string]config.FieldResolver

	compiler    *ruleCompiler
	fetcher     *floorFetcher
	conversions currency.Conversions
	metrics     metrics.Engine
	adjustments AdjustmentLookup
	pageDomain  func() string
	rng         randomutil.RandomGenerator
}

// New creates a stopped-config floor service; floors stay inert until the
// first SetConfig with Enabled set.
func New(deps Deps) *FloorService {
	rng := deps.Random
	if rng == nil {
		rng = randomutil.RandomNumberGenerator{}
	}
	engine := deps.Metrics
	if engine == nil {
		engine = metrics.NilEngine{}
	}

	service := &FloorService{
		contexts:       make(map[string]*auctionFloorContext),
		fieldResolvers: make(map[string]config.FieldResolver),
		fetcher:        newFloorFetcher(deps.HTTPClient, time.Duration(defaultFetchCacheExpiry)*time.Second),
		conversions:    deps.Conversions,
		metrics:        engine,
		adjustments:    deps.BidderAdjustments,
		pageDomain:     deps.PageDomain,
		rng:            rng,
	}
	service.compiler = newRuleCompiler(nil, rng.GenerateIntn)
	return service
}

// SetConfig consumes one configuration change notification. A malformed
// configuration or rules document is logged and the previous valid state
// retained; a valid one replaces the active table and, when an endpoint is
// configured, triggers a dynamic rule fetch.
func (s *FloorService) SetConfig(cfg config.Config) []error {
	if err := cfg.Validate(); err != nil {
		glog.Errorf("Invalid floors config: %v", err)
		return []error{err}
	}

	customFields := make([]string, 0, len(cfg.AdditionalSchemaFields))
	for field := range cfg.AdditionalSchemaFields {
		customFields = append(customFields, field)
	}
	compiler := newRuleCompiler(customFields, s.rng.GenerateIntn)
	compiler.maxRules = cfg.Fetch.MaxRules

	var errs []error
	var table *FloorTable
	if len(cfg.Data) > 0 {
		var data PriceFloorData
		if err := json.Unmarshal(cfg.Data, &data); err != nil {
			errs = append(errs, fmt.Errorf("invalid floors config data: %w", err))
		} else {
			var compileErrs []error
			table, compileErrs = compiler.Compile(&data, LocationSetConfig)
			errs = append(errs, compileErrs...)
		}
		for _, err := range errs {
			glog.Warningf("Floors config data: %v", err)
		}
	}

	s.mu.Lock()
	s.cfg = cfg
	s.compiler = compiler
	s.fieldResolvers = cfg.AdditionalSchemaFields
	if table != nil {
		// Invalid data never disturbs the previously active table.
		s.activeTable = table
	}
	s.mu.Unlock()

	if cfg.Enabled && cfg.Endpoint.URL != "" {
		s.requestUpdate(cfg)
	}
	return errs
}

// ActiveTable returns a copy of the current global rule table, nil when none
// is populated.
func (s *FloorService) ActiveTable() *FloorTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTable.Copy()
}

// Stop shuts the fetch pool down and resumes any delayed auctions so no
// continuation is stranded.
func (s *FloorService) Stop() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.fetchInflight = false
	s.mu.Unlock()

	for _, delayed := range pending {
		delayed.resume()
	}
	s.fetcher.stop()
}

const defaultFetchCacheExpiry = 300 // seconds
