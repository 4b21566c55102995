package floors

import (
	"encoding/json"

	"github.com/gofrs/uuid"
	"github.com/golang/glog"

	"github.com/adgrid-io/pricefloors/auction"
	"github.com/adgrid-io/pricefloors/config"
)

// auctionFloorContext is the per-auction floor state. Exclusively owned by the
// service's context map, keyed by auction id, and deleted when the auction
// ends. Concurrent auctions never share an entry.
type auctionFloorContext struct {
	table       *FloorTable
	enforcement config.Enforcement
	skipped     bool
	skipRate    int
	floorMin    float64
	floorMinCur string
	resolvers   map[string]config.FieldResolver
	cache       *matchCache
	bindings    map[string]*bidBinding
}

// bidBinding ties one bid request to the ad unit context its floors resolve
// against.
type bidBinding struct {
	unit   *auction.AdUnit
	bidder string
}

func (actx *auctionFloorContext) binding(requestID string) *bidBinding {
	if actx == nil {
		return nil
	}
	return actx.bindings[requestID]
}

// ProcessAuction is the request-time hook. It resolves the floor source for
// the auction, applies the skip rate, attaches floor capabilities and metadata
// to every bid and hands the auction to next. When a dynamic fetch is
// outstanding and an auction delay is configured, the continuation is queued
// until the fetch completes or the delay expires, whichever comes first.
func (s *FloorService) ProcessAuction(a *auction.Auction, next func(*auction.Auction)) {
	s.mu.RLock()
	enabled := s.cfg.Enabled
	delay := s.cfg.AuctionDelay
	inflight := s.fetchInflight
	s.mu.RUnlock()

	if !enabled || a == nil {
		if next != nil {
			next(a)
		}
		return
	}

	if a.ID == "" {
		if id, err := uuid.NewV4(); err == nil {
			a.ID = id.String()
		}
	}

	if inflight && delay > 0 {
		s.delayAuction(delay, func() { s.continueAuction(a, next) })
		return
	}
	s.continueAuction(a, next)
}

// continueAuction runs the floor start-of-auction state machine:
// UNRESOLVED -> SKIPPED | RESOLVED, or straight to the terminal no-floors
// state when no source yields any rule.
func (s *FloorService) continueAuction(a *auction.Auction, next func(*auction.Auction)) {
	s.mu.Lock()
	table := s.activeTable.Copy()
	cfg := s.cfg
	resolvers := s.fieldResolvers
	s.mu.Unlock()

	if table == nil {
		table = s.tableFromAdUnits(a)
	}
	if table == nil || len(table.Rules) == 0 {
		// No floor source for this auction; bids get no floor capability.
		if next != nil {
			next(a)
		}
		return
	}

	skipRate := table.SkipRate
	if skipRate == 0 {
		skipRate = cfg.SkipRate
	}
	skipped := skipRate > 0 && s.rng.GenerateIntn(skipRateMax) < skipRate
	if skipped {
		s.metrics.RecordSkippedAuction()
	}

	actx := &auctionFloorContext{
		table:       table,
		enforcement: cfg.Enforcement,
		skipped:     skipped,
		skipRate:    skipRate,
		floorMin:    cfg.FloorMin,
		floorMinCur: cfg.FloorMinCur,
		resolvers:   resolvers,
		cache:       newMatchCache(),
		bindings:    make(map[string]*bidBinding),
	}

	for _, unit := range a.AdUnits {
		for _, bid := range unit.Bids {
			bid.AuctionID = a.ID
			bid.FloorData = &auction.RequestFloorData{
				SkipRate:      skipRate,
				ModelVersion:  table.ModelVersion,
				Location:      table.Location,
				Skipped:       skipped,
				FloorProvider: table.FloorProvider,
			}
			if skipped {
				continue
			}
			actx.bindings[bid.RequestID] = &bidBinding{unit: unit, bidder: bid.Bidder}
			bid.Floor = &floorCapability{service: s, auctionID: a.ID, requestID: bid.RequestID}
		}
	}

	s.mu.Lock()
	s.contexts[a.ID] = actx
	s.mu.Unlock()

	if next != nil {
		next(a)
	}
}

// tableFromAdUnits compiles and merges the floor data supplied on the
// auction's ad units.
func (s *FloorService) tableFromAdUnits(a *auction.Auction) *FloorTable {
	var tables []*FloorTable
	for _, unit := range a.AdUnits {
		if len(unit.Floors) == 0 {
			continue
		}
		var data PriceFloorData
		if err := json.Unmarshal(unit.Floors, &data); err != nil {
			glog.Warningf("Invalid floor data on ad unit '%s': %v", unit.Code, err)
			continue
		}
		table, errs := s.compiler.CompileAdUnit(&data, unit.Code)
		for _, err := range errs {
			glog.Warningf("Floor data on ad unit '%s': %v", unit.Code, err)
		}
		if table != nil {
			tables = append(tables, table)
		}
	}

	merged, errs := mergeAdUnitTables(tables)
	for _, err := range errs {
		glog.Warningf("Merging ad unit floor data: %v", err)
	}
	return merged
}

// EndAuction releases the auction's floor context. Must be wired to the host's
// auction-end notification; any resolution attempted afterward behaves as a
// skip.
func (s *FloorService) EndAuction(auctionID string) {
	s.mu.Lock()
	delete(s.contexts, auctionID)
	s.mu.Unlock()
}
