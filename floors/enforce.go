package floors

import (
	"github.com/golang/glog"

	"github.com/adgrid-io/pricefloors/auction"
	"github.com/adgrid-io/pricefloors/currency"
)

// floorPrecision absorbs float noise when comparing a CPM against its floor.
const floorPrecision float64 = 0.00001

// AddBidResponse is the response-time interceptor. It re-resolves the floor
// for the bid as actually returned (media type and size from the response, the
// remaining context fields from the originating request), annotates the bid
// with floor metadata and either forwards it unchanged or replaces it with a
// zero-cpm rejected marker. Every failure path passes the bid through; floor
// processing never blocks the auction pipeline.
func (s *FloorService) AddBidResponse(next func(adUnitCode string, bid *auction.BidResponse), adUnitCode string, bid *auction.BidResponse, bidderRequest *auction.BidderRequest) {
	if bid == nil || bidderRequest == nil {
		next(adUnitCode, bid)
		return
	}

	s.mu.RLock()
	actx := s.contexts[bidderRequest.AuctionID]
	conversions := s.conversions
	adjustments := s.adjustments
	s.mu.RUnlock()

	if actx == nil || actx.skipped {
		next(adUnitCode, bid)
		return
	}

	matchingReq := bidderRequest.FindBid(bid.RequestID)
	if matchingReq == nil {
		// Bid response cannot be correlated to its originating request.
		next(adUnitCode, bid)
		return
	}
	binding := actx.binding(bid.RequestID)
	if binding == nil {
		next(adUnitCode, bid)
		return
	}

	size := &auction.Size{W: bid.Width, H: bid.Height}
	if bid.Width == 0 || bid.Height == 0 {
		size = nil
	}
	res, ok := s.resolveRule(actx, binding, auction.FloorParams{MediaType: bid.MediaType, Size: size})
	if !ok {
		glog.Warningf("No floor resolved for bid %s from bidder %s, skipping enforcement", bid.RequestID, bid.BidderCode)
		next(adUnitCode, bid)
		return
	}

	floorCur := actx.table.Currency
	floorValue := s.applyFloorMin(actx, res.MatchingFloor, floorCur, conversions)
	floorValue = roundUpFloor(floorValue)

	cpm, ok := comparisonCpm(bid, floorCur, conversions)
	if !ok {
		next(adUnitCode, bid)
		return
	}
	if actx.enforcement.GetBidAdjustment() && adjustments != nil {
		if adjust := adjustments(bid.BidderCode); adjust != nil {
			cpm = adjust(cpm)
		}
	}

	// Analytics consume the annotation for passing bids too.
	bid.FloorData = &auction.BidFloorData{
		FloorValue:          floorValue,
		FloorRule:           res.MatchingRuleKey,
		FloorRuleValue:      res.MatchingFloor,
		FloorCurrency:       floorCur,
		CpmAfterAdjustments: cpm,
		Enforcements:        actx.enforcement,
		MatchedFields:       actx.table.MatchedFields(res),
	}

	if shouldRejectBid(actx, bid, cpm, floorValue) {
		s.metrics.RecordRejectedBid(bid.BidderCode)
		glog.Warningf("Rejecting bid %s from bidder %s: cpm %v below floor %v %s", bid.RequestID, bid.BidderCode, cpm, floorValue, floorCur)
		next(adUnitCode, auction.NewRejectedBid(matchingReq, bid))
		return
	}
	next(adUnitCode, bid)
}

// comparisonCpm produces the bid price in the floor currency. The original
// currency value is preferred when it already matches; otherwise a conversion
// is required, and its absence makes the comparison unsound, so enforcement is
// skipped for this bid.
func comparisonCpm(bid *auction.BidResponse, floorCur string, conversions currency.Conversions) (float64, bool) {
	if bid.OriginalCurrency != "" && bid.OriginalCurrency == floorCur && bid.OriginalCpm > 0 {
		return bid.OriginalCpm, true
	}
	if bid.Currency == "" || bid.Currency == floorCur {
		return bid.Cpm, true
	}
	if conversions == nil {
		glog.Errorf("Cannot enforce floor for bid %s: no currency conversion available from %s to %s", bid.RequestID, bid.Currency, floorCur)
		return 0, false
	}
	rate, err := conversions.GetRate(bid.Currency, floorCur)
	if err != nil {
		glog.Errorf("Cannot enforce floor for bid %s: error converting %s to %s: %v", bid.RequestID, bid.Currency, floorCur, err)
		return 0, false
	}
	return bid.Cpm * rate, true
}

// shouldRejectBid applies the enforcement policy: reject only when local
// enforcement is on, the adjusted CPM is below the floor, and the bid is not
// shielded by a deal.
func shouldRejectBid(actx *auctionFloorContext, bid *auction.BidResponse, cpm, floorValue float64) bool {
	if !actx.enforcement.GetEnforceJS() {
		return false
	}
	if cpm+floorPrecision >= floorValue {
		return false
	}
	return actx.enforcement.FloorDeals || bid.DealID == ""
}
