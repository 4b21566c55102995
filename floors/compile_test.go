package floors

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adgrid-io/pricefloors/util/ptrutil"
)

func newTestCompiler(intn func(int) int) *ruleCompiler {
	if intn == nil {
		intn = func(int) int { return 0 }
	}
	return newRuleCompiler(nil, intn)
}

func TestCompile(t *testing.T) {
	tt := []struct {
		name      string
		data      *PriceFloorData
		wantTable bool
		wantErrs  int
		check     func(t *testing.T, table *FloorTable)
	}{
		{
			name: "Inline schema document",
			data: &PriceFloorData{
				ModelVersion: "model-1",
				Schema:       &PriceFloorSchema{Fields: []string{"mediaType"}},
				Values:       map[string]float64{"Banner": 1.0, "video": 5.0},
			},
			wantTable: true,
			check: func(t *testing.T, table *FloorTable) {
				assert.Equal(t, "USD", table.Currency)
				assert.Equal(t, "|", table.Schema.Delimiter)
				assert.Equal(t, "model-1", table.ModelVersion)
				assert.Equal(t, map[string]float64{"banner": 1.0, "video": 5.0}, table.Rules)
			},
		},
		{
			name: "Unknown schema field rejects the whole document",
			data: &PriceFloorData{
				Schema: &PriceFloorSchema{Fields: []string{"mediaType", "bogusField"}},
				Values: map[string]float64{"banner|a": 1.0},
			},
			wantTable: false,
			wantErrs:  1,
		},
		{
			name: "Invalid rules are dropped, not fatal",
			data: &PriceFloorData{
				Schema: &PriceFloorSchema{Fields: []string{"mediaType", "size"}},
				Values: map[string]float64{
					"banner|300x250":  1.0,
					"banner":          2.0, // wrong segment count
					"video|640x480|x": 3.0, // wrong segment count
					"native|*":        -1,  // negative floor
				},
			},
			wantTable: true,
			wantErrs:  3,
			check: func(t *testing.T, table *FloorTable) {
				assert.Equal(t, map[string]float64{"banner|300x250": 1.0}, table.Rules)
			},
		},
		{
			name: "Zero surviving rules invalidates the document",
			data: &PriceFloorData{
				Schema: &PriceFloorSchema{Fields: []string{"mediaType", "size"}},
				Values: map[string]float64{"banner": 1.0},
			},
			wantTable: false,
			wantErrs:  2,
		},
		{
			name: "Document currency and custom delimiter are honored",
			data: &PriceFloorData{
				Currency: "EUR",
				Schema:   &PriceFloorSchema{Fields: []string{"mediaType", "size"}, Delimiter: "^"},
				Values:   map[string]float64{"banner^300x250": 1.0},
			},
			wantTable: true,
			check: func(t *testing.T, table *FloorTable) {
				assert.Equal(t, "EUR", table.Currency)
				assert.Equal(t, "^", table.Schema.Delimiter)
			},
		},
		{
			name:      "Document with neither model groups nor inline schema",
			data:      &PriceFloorData{Currency: "USD"},
			wantTable: false,
			wantErrs:  2,
		},
		{
			name: "Negative inline default rejects the document",
			data: &PriceFloorData{
				Schema:  &PriceFloorSchema{Fields: []string{"mediaType"}},
				Values:  map[string]float64{"banner": 1.0},
				Default: ptrutil.ToPtr(-0.5),
			},
			wantTable: false,
			wantErrs:  2,
		},
		{
			name: "Out-of-range skip rate rejects the document",
			data: &PriceFloorData{
				SkipRate: 101,
				Schema:   &PriceFloorSchema{Fields: []string{"mediaType"}},
				Values:   map[string]float64{"banner": 1.0},
			},
			wantTable: false,
			wantErrs:  1,
		},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			table, errs := newTestCompiler(nil).Compile(tc.data, LocationSetConfig)
			if tc.wantTable {
				assert.NotNil(t, table)
				assert.Equal(t, LocationSetConfig, table.Location)
			} else {
				assert.Nil(t, table)
			}
			assert.Len(t, errs, tc.wantErrs)
			if tc.check != nil && table != nil {
				tc.check(t, table)
			}
		})
	}
}

func TestCompileAdUnitScoping(t *testing.T) {
	data := &PriceFloorData{
		Schema: &PriceFloorSchema{Fields: []string{"mediaType"}},
		Values: map[string]float64{"banner": 1.0},
	}

	table, errs := newTestCompiler(nil).CompileAdUnit(data, "div1")
	assert.Empty(t, errs)
	assert.NotNil(t, table)
	assert.Equal(t, []string{"adUnitCode", "mediaType"}, table.Schema.Fields)
	assert.Equal(t, map[string]float64{"div1|banner": 1.0}, table.Rules)
	assert.Equal(t, LocationAdUnit, table.Location)
}

func TestCompileAdUnitKeepsExistingAdUnitCodeField(t *testing.T) {
	data := &PriceFloorData{
		Schema: &PriceFloorSchema{Fields: []string{"adUnitCode", "mediaType"}},
		Values: map[string]float64{"div1|banner": 1.0},
	}

	table, errs := newTestCompiler(nil).CompileAdUnit(data, "div1")
	assert.Empty(t, errs)
	assert.Equal(t, []string{"adUnitCode", "mediaType"}, table.Schema.Fields)
	assert.Equal(t, map[string]float64{"div1|banner": 1.0}, table.Rules)
}

func TestMergeAdUnitTables(t *testing.T) {
	compiler := newTestCompiler(nil)

	first, _ := compiler.CompileAdUnit(&PriceFloorData{
		Schema: &PriceFloorSchema{Fields: []string{"mediaType"}},
		Values: map[string]float64{"banner": 1.0},
	}, "div1")
	second, _ := compiler.CompileAdUnit(&PriceFloorData{
		Schema: &PriceFloorSchema{Fields: []string{"mediaType"}},
		Values: map[string]float64{"banner": 2.0, "video": 3.0},
	}, "div2")
	// Same unit code on purpose: the later table's colliding key must win.
	third, _ := compiler.CompileAdUnit(&PriceFloorData{
		Schema: &PriceFloorSchema{Fields: []string{"mediaType"}},
		Values: map[string]float64{"banner": 9.0},
	}, "div1")
	mismatched, _ := compiler.CompileAdUnit(&PriceFloorData{
		Schema: &PriceFloorSchema{Fields: []string{"size"}},
		Values: map[string]float64{"300x250": 4.0},
	}, "div3")

	merged, errs := mergeAdUnitTables([]*FloorTable{first, second, third, mismatched})
	assert.Len(t, errs, 1, "schema mismatch should be reported")
	assert.Equal(t, map[string]float64{
		"div1|banner": 9.0,
		"div2|banner": 2.0,
		"div2|video":  3.0,
	}, merged.Rules)
}

func TestSelectModelGroup(t *testing.T) {
	weight := func(w int) *int { return &w }

	data := &PriceFloorData{
		Currency: "USD",
		ModelGroups: []PriceFloorModelGroup{
			{
				ModelVersion: "light",
				ModelWeight:  weight(25),
				Schema:       PriceFloorSchema{Fields: []string{"mediaType"}},
				Values:       map[string]float64{"banner": 1.0},
			},
			{
				ModelVersion: "heavy",
				ModelWeight:  weight(75),
				Schema:       PriceFloorSchema{Fields: []string{"mediaType"}},
				Values:       map[string]float64{"banner": 2.0},
			},
		},
	}

	// Draw below the lighter group's weight selects it; a draw above selects
	// the heavier group.
	table, errs := newTestCompiler(func(int) int { return 10 }).Compile(data, LocationFetch)
	assert.Empty(t, errs)
	assert.Equal(t, "light", table.ModelVersion)

	table, errs = newTestCompiler(func(int) int { return 90 }).Compile(data, LocationFetch)
	assert.Empty(t, errs)
	assert.Equal(t, "heavy", table.ModelVersion)
}

func TestSelectModelGroupInvalidGroupsDropped(t *testing.T) {
	data := &PriceFloorData{
		ModelGroups: []PriceFloorModelGroup{
			{
				ModelVersion: "bad-skip",
				SkipRate:     180,
				Schema:       PriceFloorSchema{Fields: []string{"mediaType"}},
				Values:       map[string]float64{"banner": 1.0},
			},
			{
				ModelVersion: "bad-weight",
				ModelWeight:  ptrutil.ToPtr(500),
				Schema:       PriceFloorSchema{Fields: []string{"mediaType"}},
				Values:       map[string]float64{"banner": 1.0},
			},
			{
				ModelVersion: "good",
				Schema:       PriceFloorSchema{Fields: []string{"mediaType"}},
				Values:       map[string]float64{"banner": 1.0},
			},
		},
	}

	table, errs := newTestCompiler(nil).Compile(data, LocationFetch)
	assert.Len(t, errs, 2)
	assert.Equal(t, "good", table.ModelVersion)

	data.ModelGroups = data.ModelGroups[:2]
	table, errs = newTestCompiler(nil).Compile(data, LocationFetch)
	assert.Nil(t, table)
	assert.Len(t, errs, 3)
}

func TestCustomFieldsExtendAllowedSet(t *testing.T) {
	data := &PriceFloorData{
		Schema: &PriceFloorSchema{Fields: []string{"mediaType", "deviceType"}},
		Values: map[string]float64{"banner|phone": 1.0},
	}

	table, _ := newTestCompiler(nil).Compile(data, LocationSetConfig)
	assert.Nil(t, table, "deviceType is not allowed without registration")

	custom := newRuleCompiler([]string{"deviceType"}, func(int) int { return 0 })
	table, errs := custom.Compile(data, LocationSetConfig)
	assert.Empty(t, errs)
	assert.NotNil(t, table)
}
