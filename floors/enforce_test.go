package floors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adgrid-io/pricefloors/auction"
	"github.com/adgrid-io/pricefloors/config"
	"github.com/adgrid-io/pricefloors/util/ptrutil"
)

// bidderRequestFor rebuilds the bidder-side view of an auction the way the
// host hands it to the response interceptor.
func bidderRequestFor(a *auction.Auction, bidderCode string) *auction.BidderRequest {
	br := &auction.BidderRequest{BidderCode: bidderCode, AuctionID: a.ID}
	for _, unit := range a.AdUnits {
		for _, bid := range unit.Bids {
			if bid.Bidder == bidderCode {
				br.Bids = append(br.Bids, bid)
			}
		}
	}
	return br
}

// collectBid runs one bid response through enforcement and returns whatever
// reached the continuation.
func collectBid(service *FloorService, bid *auction.BidResponse, br *auction.BidderRequest) *auction.BidResponse {
	var out *auction.BidResponse
	service.AddBidResponse(func(adUnitCode string, b *auction.BidResponse) { out = b }, bid.AdUnitCode, bid, br)
	return out
}

func bannerBid(a *auction.Auction, cpm float64) *auction.BidResponse {
	return &auction.BidResponse{
		RequestID:  "bid-1",
		BidderCode: "bidderA",
		AdUnitCode: "div1",
		AuctionID:  a.ID,
		Cpm:        cpm,
		Currency:   "USD",
		MediaType:  auction.MediaTypeBanner,
		Width:      300,
		Height:     250,
		Status:     auction.BidStatusAvailable,
	}
}

func TestAddBidResponseEnforcement(t *testing.T) {
	tt := []struct {
		name       string
		cpm        float64
		dealID     string
		cfg        config.Config
		wantReject bool
	}{
		{name: "Cpm below floor is rejected", cpm: 0.5, wantReject: true},
		{name: "Cpm above floor passes", cpm: 1.5, wantReject: false},
		{name: "Cpm exactly at floor passes", cpm: 1.0, wantReject: false},
		{
			name:       "Deal bid below floor passes by default",
			cpm:        0.5,
			dealID:     "deal-123",
			wantReject: false,
		},
		{
			name:       "Deal bid below floor rejected with floorDeals",
			cpm:        0.5,
			dealID:     "deal-123",
			cfg:        config.Config{Enforcement: config.Enforcement{FloorDeals: true}},
			wantReject: true,
		},
		{
			name:       "Enforcement disabled passes everything",
			cpm:        0.5,
			cfg:        config.Config{Enforcement: config.Enforcement{EnforceJS: ptrutil.ToPtr(false)}},
			wantReject: false,
		},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			service, a := startTestAuction(t, testAuctionOpts{cfg: tc.cfg, data: mediaTypeRules})
			br := bidderRequestFor(a, "bidderA")

			bid := bannerBid(a, tc.cpm)
			bid.DealID = tc.dealID
			out := collectBid(service, bid, br)

			require.NotNil(t, out)
			require.NotNil(t, out.FloorData)
			assert.Equal(t, 1.0, out.FloorData.FloorValue)
			assert.Equal(t, "USD", out.FloorData.FloorCurrency)
			if tc.wantReject {
				assert.Equal(t, auction.BidStatusRejectedByFloor, out.Status)
				assert.Zero(t, out.Cpm)
				assert.Equal(t, "bidderA", out.BidderCode)
			} else {
				assert.Equal(t, auction.BidStatusAvailable, out.Status)
				assert.Equal(t, tc.cpm, out.Cpm)
			}
		})
	}
}

func TestAddBidResponseResolvesActualMediaType(t *testing.T) {
	service, a := startTestAuction(t, testAuctionOpts{data: mediaTypeRules})
	br := bidderRequestFor(a, "bidderB")

	// div2's video floor is 5.0; a 4.0 video bid must be rejected even though
	// its banner floor would pass it.
	bid := &auction.BidResponse{
		RequestID:  "bid-2",
		BidderCode: "bidderB",
		AdUnitCode: "div2",
		AuctionID:  a.ID,
		Cpm:        4.0,
		Currency:   "USD",
		MediaType:  auction.MediaTypeVideo,
		Width:      640,
		Height:     480,
		Status:     auction.BidStatusAvailable,
	}
	out := collectBid(service, bid, br)

	require.NotNil(t, out.FloorData)
	assert.Equal(t, 5.0, out.FloorData.FloorValue)
	assert.Equal(t, auction.BidStatusRejectedByFloor, out.Status)
}

func TestAddBidResponseCurrencyConversion(t *testing.T) {
	tt := []struct {
		name       string
		cpm        float64
		wantReject bool
	}{
		// USD->EUR is 0.5, so EUR bids are worth twice their face value here.
		{name: "Converted cpm above floor passes", cpm: 0.6, wantReject: false},
		{name: "Converted cpm below floor rejected", cpm: 0.4, wantReject: true},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			service, a := startTestAuction(t, testAuctionOpts{
				deps: Deps{Conversions: testRates(), Random: fixedRandom{value: 99}},
				data: mediaTypeRules,
			})
			br := bidderRequestFor(a, "bidderA")

			bid := bannerBid(a, tc.cpm)
			bid.Currency = "EUR"
			out := collectBid(service, bid, br)

			require.NotNil(t, out.FloorData)
			assert.InDelta(t, tc.cpm*2, out.FloorData.CpmAfterAdjustments, 1e-9)
			if tc.wantReject {
				assert.Equal(t, auction.BidStatusRejectedByFloor, out.Status)
			} else {
				assert.Equal(t, auction.BidStatusAvailable, out.Status)
			}
		})
	}
}

func TestAddBidResponseNoConversionSkipsEnforcement(t *testing.T) {
	service, a := startTestAuction(t, testAuctionOpts{data: mediaTypeRules})
	br := bidderRequestFor(a, "bidderA")

	bid := bannerBid(a, 0.1)
	bid.Currency = "EUR"
	out := collectBid(service, bid, br)

	assert.Equal(t, auction.BidStatusAvailable, out.Status, "unconvertible bid must pass through")
	assert.Nil(t, out.FloorData)
}

func TestAddBidResponsePrefersOriginalCpm(t *testing.T) {
	service, a := startTestAuction(t, testAuctionOpts{data: mediaTypeRules})
	br := bidderRequestFor(a, "bidderA")

	// Already converted upstream; the original USD price matches the floor
	// currency and is compared directly, no conversions needed.
	bid := bannerBid(a, 0.6)
	bid.Currency = "EUR"
	bid.OriginalCpm = 1.2
	bid.OriginalCurrency = "USD"
	out := collectBid(service, bid, br)

	require.NotNil(t, out.FloorData)
	assert.Equal(t, 1.2, out.FloorData.CpmAfterAdjustments)
	assert.Equal(t, auction.BidStatusAvailable, out.Status)
}

func TestAddBidResponseBidderAdjustment(t *testing.T) {
	adjustments := func(bidderCode string) AdjustmentFn {
		if bidderCode == "bidderA" {
			return func(cpm float64) float64 { return cpm * 0.8 }
		}
		return nil
	}

	tt := []struct {
		name       string
		cfg        config.Config
		wantCpm    float64
		wantReject bool
	}{
		{name: "Adjustment drags cpm below floor", wantCpm: 0.96, wantReject: true},
		{
			name:       "Adjustment disabled compares raw cpm",
			cfg:        config.Config{Enforcement: config.Enforcement{BidAdjustment: ptrutil.ToPtr(false)}},
			wantCpm:    1.2,
			wantReject: false,
		},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			service, a := startTestAuction(t, testAuctionOpts{
				deps: Deps{BidderAdjustments: adjustments, Random: fixedRandom{value: 99}},
				cfg:  tc.cfg,
				data: mediaTypeRules,
			})
			br := bidderRequestFor(a, "bidderA")

			out := collectBid(service, bannerBid(a, 1.2), br)

			require.NotNil(t, out.FloorData)
			assert.InDelta(t, tc.wantCpm, out.FloorData.CpmAfterAdjustments, 1e-9)
			if tc.wantReject {
				assert.Equal(t, auction.BidStatusRejectedByFloor, out.Status)
			} else {
				assert.Equal(t, auction.BidStatusAvailable, out.Status)
			}
		})
	}
}

func TestAddBidResponseFloorMin(t *testing.T) {
	service, a := startTestAuction(t, testAuctionOpts{
		cfg:  config.Config{FloorMin: 2.0},
		data: mediaTypeRules,
	})
	br := bidderRequestFor(a, "bidderA")

	out := collectBid(service, bannerBid(a, 1.5), br)

	require.NotNil(t, out.FloorData)
	assert.Equal(t, 2.0, out.FloorData.FloorValue, "floorMin lifts the matched rule value")
	assert.Equal(t, auction.BidStatusRejectedByFloor, out.Status)
}

func TestAddBidResponseSkippedAuction(t *testing.T) {
	service, a := startTestAuction(t, testAuctionOpts{
		deps: Deps{Random: fixedRandom{value: 0}},
		cfg:  config.Config{SkipRate: 100},
		data: mediaTypeRules,
	})
	br := bidderRequestFor(a, "bidderA")

	out := collectBid(service, bannerBid(a, 0.1), br)

	assert.Equal(t, auction.BidStatusAvailable, out.Status)
	assert.Nil(t, out.FloorData)
}

func TestAddBidResponsePassThrough(t *testing.T) {
	service, a := startTestAuction(t, testAuctionOpts{data: mediaTypeRules})
	br := bidderRequestFor(a, "bidderA")

	t.Run("Nil bid", func(t *testing.T) {
		called := false
		service.AddBidResponse(func(string, *auction.BidResponse) { called = true }, "div1", nil, br)
		assert.True(t, called)
	})

	t.Run("Unknown auction", func(t *testing.T) {
		bid := bannerBid(a, 0.1)
		out := collectBid(service, bid, &auction.BidderRequest{BidderCode: "bidderA", AuctionID: "other"})
		assert.Equal(t, auction.BidStatusAvailable, out.Status)
		assert.Nil(t, out.FloorData)
	})

	t.Run("Uncorrelated response", func(t *testing.T) {
		bid := bannerBid(a, 0.1)
		bid.RequestID = "bid-unknown"
		out := collectBid(service, bid, br)
		assert.Equal(t, auction.BidStatusAvailable, out.Status)
		assert.Nil(t, out.FloorData)
	})
}

func TestShouldRejectBidPrecision(t *testing.T) {
	actx := &auctionFloorContext{}
	bid := &auction.BidResponse{}

	assert.False(t, shouldRejectBid(actx, bid, 0.999999, 1.0), "float noise within the tolerance passes")
	assert.True(t, shouldRejectBid(actx, bid, 0.9998, 1.0))
}
