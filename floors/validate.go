package floors

import (
	"fmt"
	"math"
	"strings"
)

// validateSchemaFields rejects the whole document when any schema field falls
// outside the allowed set.
func validateSchemaFields(schema PriceFloorSchema, allowedFields map[string]struct{}) error {
	if len(schema.Fields) == 0 {
		return fmt.Errorf("no schema fields provided")
	}
	if len(schema.Fields) > maxSchemaFields {
		return fmt.Errorf("schema has %d fields, more than the maximum of %d", len(schema.Fields), maxSchemaFields)
	}
	for _, field := range schema.Fields {
		if _, ok := allowedFields[field]; !ok {
			return fmt.Errorf("invalid schema field '%s'", field)
		}
	}
	return nil
}

// validateFloorRulesAndLowerValidRuleKey drops rules whose key does not split
// into exactly one segment per schema field, or whose floor is not a finite
// non-negative number. Surviving keys are lower-cased in place.
func validateFloorRulesAndLowerValidRuleKey(schema PriceFloorSchema, delimiter string, ruleValues map[string]float64) []error {
	var errs []error
	for key, val := range ruleValues {
		parsedKey := strings.Split(key, delimiter)
		if len(parsedKey) != len(schema.Fields) {
			errs = append(errs, fmt.Errorf("invalid floor rule '%s' for schema fields '%v'", key, schema.Fields))
			delete(ruleValues, key)
			continue
		}
		if math.IsNaN(val) || math.IsInf(val, 0) || val < 0 {
			errs = append(errs, fmt.Errorf("invalid floor value '%v' for rule '%s'", val, key))
			delete(ruleValues, key)
			continue
		}
		delete(ruleValues, key)
		newKey := strings.ToLower(key)
		ruleValues[newKey] = val
	}
	return errs
}

// selectValidFloorModelGroups filters out model groups with out-of-range
// weights or skip rates.
func selectValidFloorModelGroups(modelGroups []PriceFloorModelGroup) ([]PriceFloorModelGroup, []error) {
	var errs []error
	var validModelGroups []PriceFloorModelGroup
	for _, modelGroup := range modelGroups {
		if modelGroup.SkipRate < skipRateMin || modelGroup.SkipRate > skipRateMax {
			errs = append(errs, fmt.Errorf("invalid floor model '%v' due to skipRate '%v'", modelGroup.ModelVersion, modelGroup.SkipRate))
			continue
		}

		if modelGroup.ModelWeight != nil && (*modelGroup.ModelWeight < modelWeightMin || *modelGroup.ModelWeight > modelWeightMax) {
			errs = append(errs, fmt.Errorf("invalid floor model '%v' due to modelWeight '%v'", modelGroup.ModelVersion, *modelGroup.ModelWeight))
			continue
		}

		if modelGroup.Default != nil && *modelGroup.Default < 0 {
			errs = append(errs, fmt.Errorf("invalid floor model '%v' due to default '%v'", modelGroup.ModelVersion, *modelGroup.Default))
			continue
		}

		validModelGroups = append(validModelGroups, modelGroup)
	}
	return validModelGroups, errs
}

// validateFloorData range-checks the document-level fields shared by every
// source location.
func validateFloorData(data *PriceFloorData) error {
	if data == nil {
		return fmt.Errorf("empty floor data")
	}
	if data.SkipRate < skipRateMin || data.SkipRate > skipRateMax {
		return fmt.Errorf("skip rate should be in the range [%v, %v], got %v", skipRateMin, skipRateMax, data.SkipRate)
	}
	return nil
}
