package floors

// Floor document wire types, matching the pre-compilation JSON shape shared by
// setConfig data, ad-unit-level data and fetched documents.

type PriceFloorSchema struct {
	Fields    []string `json:"fields,omitempty"`
	Delimiter string   `json:"delimiter,omitempty"`
}

type PriceFloorModelGroup struct {
	Currency     string             `json:"currency,omitempty"`
	ModelWeight  *int               `json:"modelWeight,omitempty"`
	ModelVersion string             `json:"modelVersion,omitempty"`
	SkipRate     int                `json:"skipRate,omitempty"`
	Schema       PriceFloorSchema   `json:"schema,omitempty"`
	Values       map[string]float64 `json:"values,omitempty"`
	Default      *float64           `json:"default,omitempty"`
}

func (mg PriceFloorModelGroup) Copy() PriceFloorModelGroup {
	newMG := mg
	newMG.Schema.Fields = make([]string, len(mg.Schema.Fields))
	copy(newMG.Schema.Fields, mg.Schema.Fields)
	if mg.ModelWeight != nil {
		newMG.ModelWeight = new(int)
		*newMG.ModelWeight = *mg.ModelWeight
	}
	if mg.Default != nil {
		newMG.Default = new(float64)
		*newMG.Default = *mg.Default
	}
	newMG.Values = make(map[string]float64, len(mg.Values))
	for k, v := range mg.Values {
		newMG.Values[k] = v
	}
	return newMG
}

// PriceFloorData is a raw floor document. Either ModelGroups is populated, or
// the document carries a single inline group through Schema/Values/Default.
type PriceFloorData struct {
	Currency            string                 `json:"currency,omitempty"`
	SkipRate            int                    `json:"skipRate,omitempty"`
	FloorsSchemaVersion string                 `json:"floorsSchemaVersion,omitempty"`
	ModelTimestamp      int64                  `json:"modelTimestamp,omitempty"`
	FloorProvider       string                 `json:"floorProvider,omitempty"`
	ModelGroups         []PriceFloorModelGroup `json:"modelGroups,omitempty"`

	ModelVersion string             `json:"modelVersion,omitempty"`
	Schema       *PriceFloorSchema  `json:"schema,omitempty"`
	Values       map[string]float64 `json:"values,omitempty"`
	Default      *float64           `json:"default,omitempty"`
}

// Source location tags recorded on compiled tables.
const (
	LocationAdUnit    = "adUnit"
	LocationSetConfig = "setConfig"
	LocationFetch     = "fetch"
	LocationNoData    = "noData"
)

// FloorTable is a compiled, validated rule table. Immutable once attached to an
// auction; concurrent auctions each hold their own copy.
type FloorTable struct {
	Schema        PriceFloorSchema
	Currency      string
	Rules         map[string]float64
	Default       *float64
	SkipRate      int
	Location      string
	ModelVersion  string
	FloorProvider string
}

// Copy returns an independent clone safe to attach to one auction.
func (t *FloorTable) Copy() *FloorTable {
	if t == nil {
		return nil
	}
	newTable := *t
	newTable.Schema.Fields = make([]string, len(t.Schema.Fields))
	copy(newTable.Schema.Fields, t.Schema.Fields)
	if t.Default != nil {
		newTable.Default = new(float64)
		*newTable.Default = *t.Default
	}
	newTable.Rules = make(map[string]float64, len(t.Rules))
	for k, v := range t.Rules {
		newTable.Rules[k] = v
	}
	return &newTable
}

// MatchContext carries the per-resolution field values. Size and MediaType are
// already normalized; Values holds every other schema field, catch-all when a
// field could not be resolved.
type MatchContext struct {
	AdUnitCode string
	MediaType  string
	Size       string
	Values     map[string]string
}

// Resolution is the outcome of one rule match.
type Resolution struct {
	// MatchingFloor is the matched rule value or the table default.
	MatchingFloor float64
	// HasFloor is false when no rule matched and the table has no default.
	HasFloor bool
	// MatchingKey is the full exact candidate key, kept for field-by-field
	// decomposition even when a wildcard rule matched.
	MatchingKey string
	// MatchingRuleKey is the rule that actually matched, empty on default.
	MatchingRuleKey string
}
