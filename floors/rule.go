package floors

import (
	"math/bits"
	"sort"
	"strings"
	"sync"

	"github.com/buger/jsonparser"
)

// Schema fields every table may use. Publisher-registered resolvers extend
// this set per service instance.
const (
	FieldAdUnitCode = "adUnitCode"
	FieldGptSlot    = "gptSlot"
	FieldMediaType  = "mediaType"
	FieldSize       = "size"
	FieldDomain     = "domain"
)

const catchAll string = "*"

func baseAllowedFields() map[string]struct{} {
	return map[string]struct{}{
		FieldAdUnitCode: {},
		FieldGptSlot:    {},
		FieldMediaType:  {},
		FieldSize:       {},
		FieldDomain:     {},
	}
}

// createRuleKey computes the exact, case-folded value of every schema field for
// one match context. Unknown values fold to the catch-all.
func createRuleKey(schema PriceFloorSchema, ctx MatchContext) []string {
	ruleKeys := make([]string, 0, len(schema.Fields))

	for _, field := range schema.Fields {
		value := catchAll
		switch field {
		case FieldAdUnitCode:
			value = ctx.AdUnitCode
		case FieldMediaType:
			value = ctx.MediaType
		case FieldSize:
			value = ctx.Size
		default:
			value = ctx.Values[field]
		}
		if value == "" {
			value = catchAll
		}
		ruleKeys = append(ruleKeys, strings.ToLower(value))
	}
	return ruleKeys
}

// gptSlotFromExt reads the ad server slot from an ad unit's first-party data,
// preferring the GAM ad slot and falling back to pbadslot.
func gptSlotFromExt(ext []byte) string {
	if len(ext) == 0 {
		return ""
	}
	if adServerName, err := jsonparser.GetString(ext, "data", "adserver", "name"); err == nil && adServerName == "gam" {
		if gptSlot, err := jsonparser.GetString(ext, "data", "adserver", "adslot"); err == nil && gptSlot != "" {
			return gptSlot
		}
	}
	pbAdSlot, err := jsonparser.GetString(ext, "data", "pbadslot")
	if err != nil {
		return ""
	}
	return pbAdSlot
}

// prepareRuleCombinations expands the exact field values into the full ordered
// candidate-key list: every exact/catch-all combination, fewest wildcards
// first, ties broken by left-to-right field priority. Fields whose exact value
// already is the catch-all contribute only their wildcard option, so duplicate
// candidates are collapsed.
func prepareRuleCombinations(keys []string, delimiter string) []string {
	numFields := len(keys)

	exact := make([]string, numFields)
	positions := make([]int, numFields)
	for i := 0; i < numFields; i++ {
		exact[i] = strings.ToLower(keys[i])
		positions[i] = i
	}

	desiredKeys := [][]string{exact}
	for numWildcard := 1; numWildcard <= numFields; numWildcard++ {
		for _, combination := range generateCombinations(positions, numWildcard) {
			eachSet := make([]string, numFields)
			copy(eachSet, exact)
			for _, pos := range combination {
				eachSet[pos] = catchAll
			}
			desiredKeys = append(desiredKeys, eachSet)
		}
	}

	ruleKeys := make([]string, 0, len(desiredKeys))
	seen := make(map[string]struct{}, len(desiredKeys))
	for _, set := range desiredKeys {
		key := strings.Join(set, delimiter)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ruleKeys = append(ruleKeys, key)
	}
	return ruleKeys
}

// generateCombinations returns every subset of positions with exactly
// numWildcard elements, ordered so that wildcards on rightmost fields come
// first. A combination's weight grows with the leftmost field it wildcards,
// which keeps exact-on-leftmost candidates ahead of their peers.
func generateCombinations(set []int, numWildcard int) [][]int {
	length := uint(len(set))

	if numWildcard > len(set) {
		numWildcard = len(set)
	}

	var comb [][]int
	for subsetBits := 1; subsetBits < (1 << length); subsetBits++ {
		if bits.OnesCount(uint(subsetBits)) != numWildcard {
			continue
		}
		var subset []int
		for object := uint(0); object < length; object++ {
			if (subsetBits>>object)&1 == 1 {
				subset = append(subset, set[object])
			}
		}
		comb = append(comb, subset)
	}

	sort.SliceStable(comb, func(i, j int) bool {
		wt1 := 0
		for k := 0; k < len(comb[i]); k++ {
			wt1 += 1 << (length - uint(comb[i][k]))
		}

		wt2 := 0
		for k := 0; k < len(comb[j]); k++ {
			wt2 += 1 << (length - uint(comb[j][k]))
		}
		return wt1 < wt2
	})

	return comb
}

// matchCache memoizes match results per auction, keyed on the joined exact key.
// Never invalidated for the lifetime of the auction; each auction resolves
// against the table clone taken at auction start, so a stale entry cannot
// outlive its table.
type matchCache struct {
	mu          sync.Mutex
	resolutions map[string]Resolution
}

func newMatchCache() *matchCache {
	return &matchCache{resolutions: make(map[string]Resolution)}
}

func (c *matchCache) get(key string) (Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.resolutions[key]
	return res, ok
}

func (c *matchCache) put(key string, res Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolutions[key] = res
}

// Resolve returns the most specific rule applicable to the given context, the
// table default when no rule matches, or an empty resolution when the table
// has no default either.
func (t *FloorTable) Resolve(ctx MatchContext, cache *matchCache) Resolution {
	delimiter := t.Schema.Delimiter
	if delimiter == "" {
		delimiter = defaultDelimiter
	}

	exactValues := createRuleKey(t.Schema, ctx)
	exactKey := strings.Join(exactValues, delimiter)

	if cache != nil {
		if res, ok := cache.get(exactKey); ok {
			return res
		}
	}

	res := Resolution{MatchingKey: exactKey}
	matched := false
	for _, candidate := range prepareRuleCombinations(exactValues, delimiter) {
		if floor, ok := t.Rules[candidate]; ok {
			res.MatchingFloor = floor
			res.MatchingRuleKey = candidate
			res.HasFloor = true
			matched = true
			break
		}
	}
	if !matched && t.Default != nil {
		res.MatchingFloor = *t.Default
		res.HasFloor = true
	}

	if cache != nil {
		cache.put(exactKey, res)
	}
	return res
}

// MatchedFields decomposes a resolution's exact key back into per-field values.
func (t *FloorTable) MatchedFields(res Resolution) map[string]string {
	delimiter := t.Schema.Delimiter
	if delimiter == "" {
		delimiter = defaultDelimiter
	}
	segments := strings.Split(res.MatchingKey, delimiter)
	if len(segments) != len(t.Schema.Fields) {
		return nil
	}

	fields := make(map[string]string, len(segments))
	for i, field := range t.Schema.Fields {
		fields[field] = segments[i]
	}
	return fields
}
