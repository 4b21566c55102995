package config

import (
	"encoding/json"
	"fmt"
	"strings"

	validator "github.com/asaskevich/govalidator"
)

// FieldResolver computes the value of a publisher-registered schema field for
// one ad unit. The ext payload is the ad unit's first-party data JSON; an empty
// return means the field is unknown and matches only the wildcard.
type FieldResolver func(adUnitCode string, adUnitExt []byte) string

// Endpoint locates the dynamic floor document. Only the GET method is
// supported; an empty method means GET.
type Endpoint struct {
	URL    string `json:"url,omitempty"`
	Method string `json:"method,omitempty"`
}

// Enforcement carries the floor enforcement switches. EnforceJS and
// BidAdjustment default to true when unset, the rest default to false.
type Enforcement struct {
	EnforceJS     *bool `json:"enforceJS,omitempty"`
	EnforcePBS    bool  `json:"enforcePBS,omitempty"`
	FloorDeals    bool  `json:"floorDeals,omitempty"`
	BidAdjustment *bool `json:"bidAdjustment,omitempty"`
}

func (e Enforcement) GetEnforceJS() bool {
	if e.EnforceJS != nil {
		return *e.EnforceJS
	}
	return true
}

func (e Enforcement) GetBidAdjustment() bool {
	if e.BidAdjustment != nil {
		return *e.BidAdjustment
	}
	return true
}

// Fetch bounds the dynamic floor fetch.
type Fetch struct {
	Timeout     int `json:"timeout,omitempty"`     // ms, request deadline
	MaxFileSize int `json:"maxFileSize,omitempty"` // KB, 0 = unbounded
	MaxRules    int `json:"maxRules,omitempty"`    // 0 = unbounded
	MaxAge      int `json:"maxAge,omitempty"`      // seconds, cache expiry for fetched documents
}

// Config is the floor service configuration as delivered by the host's
// config-change notifications.
type Config struct {
	Enabled      bool            `json:"enabled"`
	SkipRate     int             `json:"skipRate,omitempty"`
	AuctionDelay int             `json:"auctionDelay,omitempty"` // ms
	FloorMin     float64         `json:"floorMin,omitempty"`
	FloorMinCur  string          `json:"floorMinCur,omitempty"`
	Endpoint     Endpoint        `json:"endpoint,omitempty"`
	Enforcement  Enforcement     `json:"enforcement,omitempty"`
	Fetch        Fetch           `json:"fetch,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`

	// AdditionalSchemaFields extends the allowed schema field set. Not part of
	// the JSON surface; resolvers are registered programmatically.
	AdditionalSchemaFields map[string]FieldResolver `json:"-"`
}

const (
	defaultFetchTimeoutMs = 3000
	defaultFetchMaxAgeSec = 300
)

// Validate range-checks the configuration. A non-nil error means the whole
// configuration must be discarded and the previous one kept.
func (cfg *Config) Validate() error {
	if cfg.SkipRate < 0 || cfg.SkipRate > 100 {
		return fmt.Errorf("skipRate should be in the range [0, 100], got %v", cfg.SkipRate)
	}
	if cfg.AuctionDelay < 0 {
		return fmt.Errorf("auctionDelay should not be negative, got %v", cfg.AuctionDelay)
	}
	if cfg.FloorMin < 0 {
		return fmt.Errorf("floorMin should not be negative, got %v", cfg.FloorMin)
	}
	if cfg.Fetch.Timeout < 0 || cfg.Fetch.MaxFileSize < 0 || cfg.Fetch.MaxRules < 0 || cfg.Fetch.MaxAge < 0 {
		return fmt.Errorf("fetch limits should not be negative")
	}
	if cfg.Endpoint.URL != "" && !validator.IsURL(cfg.Endpoint.URL) {
		return fmt.Errorf("endpoint.url '%s' is not a valid URL", cfg.Endpoint.URL)
	}
	return nil
}

// EndpointMethodIsGET reports whether the configured endpoint method is usable.
// An empty method means GET.
func (cfg *Config) EndpointMethodIsGET() bool {
	return cfg.Endpoint.Method == "" || strings.EqualFold(cfg.Endpoint.Method, "GET")
}

// FetchTimeout returns the configured fetch deadline in ms, defaulted when unset.
func (cfg *Config) FetchTimeout() int {
	if cfg.Fetch.Timeout > 0 {
		return cfg.Fetch.Timeout
	}
	return defaultFetchTimeoutMs
}

// FetchMaxAge returns the fetched-document cache expiry in seconds, defaulted
// when unset.
func (cfg *Config) FetchMaxAge() int {
	if cfg.Fetch.MaxAge > 0 {
		return cfg.Fetch.MaxAge
	}
	return defaultFetchMaxAgeSec
}
