package floors

import (
	"fmt"
	"sort"
	"strings"
)

const (
	defaultDelimiter string = "|"
	defaultCurrency  string = "USD"
	skipRateMin      int    = 0
	skipRateMax      int    = 100
	modelWeightMin   int    = 1
	modelWeightMax   int    = 100
	maxSchemaFields  int    = 10
)

// ruleCompiler turns raw floor documents into validated FloorTables. The
// allowed field set is the base set extended with the service's registered
// custom fields.
type ruleCompiler struct {
	allowedFields map[string]struct{}
	intn          func(int) int
	maxRules      int
}

func newRuleCompiler(customFields []string, intn func(int) int) *ruleCompiler {
	allowed := baseAllowedFields()
	for _, field := range customFields {
		allowed[field] = struct{}{}
	}
	return &ruleCompiler{allowedFields: allowed, intn: intn}
}

// Compile validates a raw floor document, selects one model group, normalizes
// its keys and returns the resulting table. A nil table means the whole
// document was rejected; dropped individual rules surface as non-fatal errors
// alongside a valid table.
func (c *ruleCompiler) Compile(data *PriceFloorData, location string) (*FloorTable, []error) {
	if err := validateFloorData(data); err != nil {
		return nil, []error{err}
	}

	group, errs := c.selectModelGroup(data)
	if group == nil {
		return nil, append(errs, fmt.Errorf("no valid floor model group found"))
	}

	delimiter := group.Schema.Delimiter
	if delimiter == "" {
		delimiter = defaultDelimiter
	}

	if err := validateSchemaFields(group.Schema, c.allowedFields); err != nil {
		return nil, append(errs, err)
	}

	ruleErrs := validateFloorRulesAndLowerValidRuleKey(group.Schema, delimiter, group.Values)
	errs = append(errs, ruleErrs...)
	if len(group.Values) == 0 {
		return nil, append(errs, fmt.Errorf("no valid floor rules found"))
	}
	if c.maxRules > 0 && len(group.Values) > c.maxRules {
		return nil, append(errs, fmt.Errorf("floor rule count %d exceeds the maximum of %d", len(group.Values), c.maxRules))
	}

	currency := group.Currency
	if currency == "" {
		currency = data.Currency
	}
	if currency == "" {
		currency = defaultCurrency
	}

	skipRate := group.SkipRate
	if skipRate == 0 {
		skipRate = data.SkipRate
	}

	table := &FloorTable{
		Schema:        PriceFloorSchema{Fields: group.Schema.Fields, Delimiter: delimiter},
		Currency:      currency,
		Rules:         group.Values,
		Default:       group.Default,
		SkipRate:      skipRate,
		Location:      location,
		ModelVersion:  group.ModelVersion,
		FloorProvider: data.FloorProvider,
	}
	return table, errs
}

// selectModelGroup picks the winning model group by weighted random draw, or
// synthesizes a single group from the document's inline schema/values fields.
func (c *ruleCompiler) selectModelGroup(data *PriceFloorData) (*PriceFloorModelGroup, []error) {
	if len(data.ModelGroups) == 0 {
		if data.Schema == nil {
			return nil, []error{fmt.Errorf("floor data carries neither model groups nor an inline schema")}
		}
		if data.Default != nil && *data.Default < 0 {
			return nil, []error{fmt.Errorf("invalid floor default '%v'", *data.Default)}
		}
		inline := PriceFloorModelGroup{
			Currency:     data.Currency,
			ModelVersion: data.ModelVersion,
			Schema:       *data.Schema,
			Values:       data.Values,
			Default:      data.Default,
		}
		return &inline, nil
	}

	validModelGroups, errs := selectValidFloorModelGroups(data.ModelGroups)
	if len(validModelGroups) == 0 {
		return nil, errs
	}
	if len(validModelGroups) > 1 {
		validModelGroups = selectFloorModelGroup(validModelGroups, c.intn)
	}
	selected := validModelGroups[0].Copy()
	return &selected, errs
}

// selectFloorModelGroup draws one group with probability proportional to its
// model weight. An unset weight counts as 1.
func selectFloorModelGroup(modelGroups []PriceFloorModelGroup, f func(int) int) []PriceFloorModelGroup {
	totalModelWeight := 0

	for i := 0; i < len(modelGroups); i++ {
		if modelGroups[i].ModelWeight == nil {
			weight := modelWeightMin
			modelGroups[i].ModelWeight = &weight
		}
		totalModelWeight += *modelGroups[i].ModelWeight
	}

	sort.SliceStable(modelGroups, func(i, j int) bool {
		return *modelGroups[i].ModelWeight < *modelGroups[j].ModelWeight
	})

	winWeight := f(totalModelWeight + 1)
	for i, modelGroup := range modelGroups {
		winWeight -= *modelGroup.ModelWeight
		if winWeight <= 0 {
			modelGroups[0], modelGroups[i] = modelGroups[i], modelGroups[0]
			return modelGroups[:1]
		}
	}
	return modelGroups[:1]
}

// CompileAdUnit compiles ad-unit-level floor data. The adUnitCode field is
// prepended to the schema unless already present and every rule key is
// prefixed with the unit code, so scoped tables from different ad units never
// collide when merged into one auction-wide table.
func (c *ruleCompiler) CompileAdUnit(data *PriceFloorData, adUnitCode string) (*FloorTable, []error) {
	table, errs := c.Compile(data, LocationAdUnit)
	if table == nil {
		return nil, errs
	}

	for _, field := range table.Schema.Fields {
		if field == FieldAdUnitCode {
			return table, errs
		}
	}

	table.Schema.Fields = append([]string{FieldAdUnitCode}, table.Schema.Fields...)
	prefix := strings.ToLower(adUnitCode) + table.Schema.Delimiter
	scoped := make(map[string]float64, len(table.Rules))
	for key, val := range table.Rules {
		scoped[prefix+key] = val
	}
	table.Rules = scoped
	return table, errs
}

// mergeAdUnitTables folds scoped ad-unit tables into one auction-wide table.
// The first table's schema is canonical; tables with a different field list or
// delimiter are skipped. Same-key rules from a later ad unit overwrite an
// earlier unit's. That precedence follows the order ad units appear in the
// auction; scoped key prefixes make collisions possible only between units
// sharing a code.
func mergeAdUnitTables(tables []*FloorTable) (*FloorTable, []error) {
	var merged *FloorTable
	var errs []error

	for _, table := range tables {
		if table == nil {
			continue
		}
		if merged == nil {
			merged = table
			continue
		}
		if table.Schema.Delimiter != merged.Schema.Delimiter || !equalFields(table.Schema.Fields, merged.Schema.Fields) {
			errs = append(errs, fmt.Errorf("ad unit floor schema '%v' does not match auction schema '%v'", table.Schema.Fields, merged.Schema.Fields))
			continue
		}
		for key, val := range table.Rules {
			merged.Rules[key] = val
		}
		if merged.Default == nil && table.Default != nil {
			merged.Default = table.Default
		}
	}
	return merged, errs
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
