package floors

import (
	"math"

	"github.com/golang/glog"

	"github.com/adgrid-io/pricefloors/auction"
	"github.com/adgrid-io/pricefloors/currency"
)

// AdjustmentFn maps a bidder's gross CPM to the value the publisher actually
// accounts. Assumed linear through the origin; the floor inverse below is
// exact only under that precondition.
type AdjustmentFn func(cpm float64) float64

// AdjustmentLookup returns the CPM-adjustment function registered for a
// bidder, or nil when the bidder has none.
type AdjustmentLookup func(bidder string) AdjustmentFn

// roundUpFloor rounds a floor up at 4 decimal places. Rounding up is
// deliberate: a floor must never be under-reported to the benefit of the bid.
func roundUpFloor(value float64) float64 {
	return math.Ceil(value*10000) / 10000
}

// adjustFloor solves for the pre-adjustment floor that would map to floor
// after the bidder's adjustment, assuming the adjustment is linear through the
// origin.
func adjustFloor(floor float64, adjust AdjustmentFn) float64 {
	if adjust == nil {
		return floor
	}
	adjusted := adjust(floor)
	if adjusted <= 0 {
		return floor
	}
	return floor / adjusted * floor
}

// floorCapability is the FloorGetter bound to one bid request of a resolved,
// non-skipped auction.
type floorCapability struct {
	service   *FloorService
	auctionID string
	requestID string
}

func (c *floorCapability) GetFloor(params auction.FloorParams) (auction.FloorValue, bool) {
	return c.service.ResolveFloor(c.auctionID, c.requestID, params)
}

// ResolveFloor resolves the floor for one bid of one auction. The empty value
// is returned when the auction has no floor context (including after auction
// end) or was skip-sampled; both are treated as skip, not as errors.
func (s *FloorService) ResolveFloor(auctionID, requestID string, params auction.FloorParams) (auction.FloorValue, bool) {
	s.mu.RLock()
	actx := s.contexts[auctionID]
	conversions := s.conversions
	adjustments := s.adjustments
	s.mu.RUnlock()

	if actx == nil || actx.skipped {
		return auction.FloorValue{}, false
	}
	binding := actx.binding(requestID)
	if binding == nil {
		return auction.FloorValue{}, false
	}

	res, ok := s.resolveRule(actx, binding, params)
	if !ok {
		return auction.FloorValue{}, false
	}

	floor := res.MatchingFloor
	floorCur := actx.table.Currency

	floor = s.applyFloorMin(actx, floor, floorCur, conversions)

	if params.Currency != "" && params.Currency != floorCur {
		if conversions == nil {
			glog.Warningf("Currency conversion unavailable, returning floor in native currency %s instead of %s", floorCur, params.Currency)
		} else if rate, err := conversions.GetRate(floorCur, params.Currency); err != nil {
			glog.Warningf("Error converting floor from %s to %s: %v, returning floor in native currency", floorCur, params.Currency, err)
		} else {
			floor = floor * rate
			floorCur = params.Currency
		}
	}

	if actx.enforcement.GetBidAdjustment() && adjustments != nil {
		floor = adjustFloor(floor, adjustments(binding.bidder))
	}

	return auction.FloorValue{Floor: roundUpFloor(floor), Currency: floorCur}, true
}

// resolveRule runs the rule match for one bid with media type and size
// specialization applied. The returned resolution carries the raw table floor
// before currency conversion and bidder adjustment.
func (s *FloorService) resolveRule(actx *auctionFloorContext, binding *bidBinding, params auction.FloorParams) (Resolution, bool) {
	mediaType, size := specializeMediaTypeAndSize(binding.unit, params)

	ctx := MatchContext{
		AdUnitCode: binding.unit.Code,
		MediaType:  mediaType,
		Size:       size,
		Values:     s.resolveFieldValues(actx, binding.unit),
	}

	res := actx.table.Resolve(ctx, actx.cache)
	return res, res.HasFloor
}

// specializeMediaTypeAndSize narrows a wildcard media type or size to the only
// concrete option the ad unit declares, when exactly one exists. This reduces
// false wildcard matches for single-format ad units.
func specializeMediaTypeAndSize(unit *auction.AdUnit, params auction.FloorParams) (string, string) {
	mediaType := string(params.MediaType)
	if mediaType == "" || mediaType == catchAll {
		mediaType = catchAll
		if len(unit.MediaTypes) == 1 {
			for only := range unit.MediaTypes {
				mediaType = string(only)
			}
		}
	}

	if params.Size != nil {
		return mediaType, params.Size.String()
	}

	var sizes []auction.Size
	if mediaType != catchAll {
		sizes = unit.MediaTypes[auction.MediaType(mediaType)]
	} else {
		for _, mtSizes := range unit.MediaTypes {
			sizes = append(sizes, mtSizes...)
		}
	}
	size := catchAll
	if distinct := distinctSizes(sizes); len(distinct) == 1 {
		size = distinct[0].String()
	}
	return mediaType, size
}

func distinctSizes(sizes []auction.Size) []auction.Size {
	seen := make(map[auction.Size]struct{}, len(sizes))
	distinct := make([]auction.Size, 0, len(sizes))
	for _, size := range sizes {
		if _, ok := seen[size]; ok {
			continue
		}
		seen[size] = struct{}{}
		distinct = append(distinct, size)
	}
	return distinct
}

// resolveFieldValues computes the values of every schema field that does not
// come straight from the per-call parameters. Resolvers registered at auction
// start win over the built-in domain and gptSlot lookups.
func (s *FloorService) resolveFieldValues(actx *auctionFloorContext, unit *auction.AdUnit) map[string]string {
	schema := actx.table.Schema
	values := make(map[string]string, len(schema.Fields))
	for _, field := range schema.Fields {
		switch field {
		case FieldAdUnitCode, FieldMediaType, FieldSize:
			continue
		}
		if resolver, ok := actx.resolvers[field]; ok && resolver != nil {
			values[field] = resolver(unit.Code, unit.Ext)
			continue
		}
		switch field {
		case FieldDomain:
			if s.pageDomain != nil {
				values[field] = s.pageDomain()
			}
		case FieldGptSlot:
			values[field] = gptSlotFromExt(unit.Ext)
		}
	}
	return values
}

// applyFloorMin raises the resolved floor to the configured minimum,
// converting the minimum into the table currency when they differ. A failed
// conversion skips the minimum with a warning rather than corrupting the
// comparison.
func (s *FloorService) applyFloorMin(actx *auctionFloorContext, floor float64, floorCur string, conversions currency.Conversions) float64 {
	if actx.floorMin <= 0 {
		return floor
	}
	floorMin := actx.floorMin
	if actx.floorMinCur != "" && actx.floorMinCur != floorCur {
		if conversions == nil {
			glog.Warningf("Currency conversion unavailable, cannot apply floorMin in %s to floor in %s", actx.floorMinCur, floorCur)
			return floor
		}
		rate, err := conversions.GetRate(actx.floorMinCur, floorCur)
		if err != nil {
			glog.Warningf("Error converting floorMin from %s to %s: %v", actx.floorMinCur, floorCur, err)
			return floor
		}
		floorMin = floorMin * rate
	}
	if floor < floorMin {
		return floorMin
	}
	return floor
}
