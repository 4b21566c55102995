package auction

import (
	"encoding/json"
	"fmt"

	"github.com/adgrid-io/pricefloors/config"
)

type MediaType string

const (
	MediaTypeBanner MediaType = "banner"
	MediaTypeVideo  MediaType = "video"
	MediaTypeNative MediaType = "native"
	MediaTypeAudio  MediaType = "audio"
)

// Size is one creative size an ad unit accepts.
type Size struct {
	W int64 `json:"w"`
	H int64 `json:"h"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.W, s.H)
}

// AdUnit is one slot participating in an auction.
type AdUnit struct {
	Code       string
	MediaTypes map[MediaType][]Size

	// Ext carries the unit's first-party data, e.g. ad server slot names under
	// data.adserver. Read by schema field resolvers.
	Ext json.RawMessage

	// Floors optionally carries an ad-unit-level floor document in the same
	// pre-compilation shape as fetched data.
	Floors json.RawMessage

	Bids []*BidRequest
}

// Auction is the request-time view the floor pipeline processes. ID is
// generated when the host did not supply one.
type Auction struct {
	ID      string
	AdUnits []*AdUnit
}

// FloorParams selects the floor to resolve for one bid. A zero MediaType or a
// nil Size matches the wildcard, subject to single-option specialization.
type FloorParams struct {
	MediaType MediaType
	Size      *Size
	Currency  string
}

// FloorValue is a resolved floor.
type FloorValue struct {
	Floor    float64
	Currency string
}

// FloorGetter is the floor-resolution capability attached to bid requests of a
// floored, non-skipped auction.
type FloorGetter interface {
	GetFloor(params FloorParams) (FloorValue, bool)
}

// RequestFloorData is the floor metadata attached to every bid request of an
// auction with floors resolved, including skipped ones.
type RequestFloorData struct {
	SkipRate      int    `json:"skipRate"`
	ModelVersion  string `json:"modelVersion,omitempty"`
	Location      string `json:"location"`
	Skipped       bool   `json:"skipped"`
	FloorProvider string `json:"floorProvider,omitempty"`
}

type BidRequest struct {
	RequestID  string
	Bidder     string
	AdUnitCode string
	AuctionID  string

	FloorData *RequestFloorData
	Floor     FloorGetter
}

// HasFloorResolver reports whether a floor capability was attached to this bid.
func (b *BidRequest) HasFloorResolver() bool {
	return b != nil && b.Floor != nil
}

// BidderRequest groups the bid requests one bidder received for an auction.
type BidderRequest struct {
	BidderCode string
	AuctionID  string
	Bids       []*BidRequest
}

// FindBid returns the bid request matching the given response request id.
func (br *BidderRequest) FindBid(requestID string) *BidRequest {
	if br == nil {
		return nil
	}
	for _, bid := range br.Bids {
		if bid.RequestID == requestID {
			return bid
		}
	}
	return nil
}

const (
	BidStatusAvailable       = "available"
	BidStatusRejectedByFloor = "rejectedByFloor"
)

// BidFloorData is the floor annotation written on every bid response that went
// through enforcement, passing or not.
type BidFloorData struct {
	FloorValue          float64            `json:"floorValue"`
	FloorRule           string             `json:"floorRule,omitempty"`
	FloorRuleValue      float64            `json:"floorRuleValue,omitempty"`
	FloorCurrency       string             `json:"floorCurrency"`
	CpmAfterAdjustments float64            `json:"cpmAfterAdjustments"`
	Enforcements        config.Enforcement `json:"enforcements"`
	MatchedFields       map[string]string  `json:"matchedFields,omitempty"`
}

type BidResponse struct {
	RequestID  string
	BidderCode string
	AdUnitCode string
	AuctionID  string

	Cpm       float64
	Currency  string
	MediaType MediaType
	Width     int64
	Height    int64
	DealID    string

	// Original price before any host-side adjustment already applied upstream.
	OriginalCpm      float64
	OriginalCurrency string

	Status    string
	FloorData *BidFloorData
}

// NewRejectedBid derives the zero-cpm marker that replaces a bid rejected by
// floor enforcement. Identifying fields come from the original bid request.
func NewRejectedBid(req *BidRequest, rejected *BidResponse) *BidResponse {
	return &BidResponse{
		RequestID:  req.RequestID,
		BidderCode: req.Bidder,
		AdUnitCode: req.AdUnitCode,
		AuctionID:  req.AuctionID,
		Cpm:        0,
		Currency:   rejected.Currency,
		MediaType:  rejected.MediaType,
		Width:      rejected.Width,
		Height:     rejected.Height,
		Status:     BidStatusRejectedByFloor,
		FloorData:  rejected.FloorData,
	}
}
