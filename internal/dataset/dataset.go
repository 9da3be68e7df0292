// Package dataset describes the BIS statistical releases the pipeline loads
// and the relational tables they land in.
package dataset

import "fmt"

// ColumnType is the storage type of a stored column.
type ColumnType string

const (
	Text   ColumnType = "text"
	Int    ColumnType = "int"
	Float  ColumnType = "float"
	Period ColumnType = "period"
)

// Column is a stored column definition.
type Column struct {
	Name string
	Type ColumnType
}

// Descriptor is the fixed description of one release.
type Descriptor struct {
	Code       string // short code, e.g. "exr"
	RemoteName string // archive name at the base URL
	LocalName  string // CSV name inside the archive
	IDColumns  int    // leading identifier columns; the rest are periods

	IDTable    string
	ValueTable string

	// IDRenames maps source headers of the identifier block to stored names.
	IDRenames map[string]string
	// IDSchema lists the stored identifier columns, surrogate excluded.
	IDSchema []Column

	// Reporting filters, expressed as stored identifier column names.
	AreaColumn      string
	FrequencyColumn string
	UnitColumn      string
}

// SurrogateColumn returns the auto-assigned identity column of table.
func SurrogateColumn(table string) string {
	return table + "_id"
}

// SeriesKeyColumn is the value-table column joining back to the identifier table.
func (d Descriptor) SeriesKeyColumn() string {
	return SurrogateColumn(d.IDTable)
}

// ValueRenames maps melted value-frame columns to stored names.
func (d Descriptor) ValueRenames() map[string]string {
	return map[string]string{
		"index":    d.SeriesKeyColumn(),
		"variable": "date",
	}
}

// ValueSchema lists the stored value columns, surrogate excluded.
func (d Descriptor) ValueSchema() []Column {
	return []Column{
		{Name: d.SeriesKeyColumn(), Type: Int},
		{Name: "date", Type: Period},
		{Name: "value", Type: Float},
	}
}

// IDKey is the business key of identifier rows, used by key-based dedup.
func (d Descriptor) IDKey() []string {
	return []string{"series"}
}

// ValueKey is the business key of value rows, used by key-based dedup.
func (d Descriptor) ValueKey() []string {
	return []string{d.SeriesKeyColumn(), "date"}
}

// Defaults returns the three releases the pipeline knows about.
func Defaults() []Descriptor {
	return []Descriptor{
		{
			Code:       "exr",
			RemoteName: "full_xru_csv.zip",
			LocalName:  "WS_XRU_csv_col.csv",
			IDColumns:  17,
			IDTable:    "exchange_rate",
			ValueTable: "exchange_rate_values",
			IDRenames: map[string]string{
				"FREQ":            "freq_code",
				"Frequency":       "frequency",
				"REF_AREA":        "ref_area_code",
				"Reference area":  "reference_area",
				"CURRENCY":        "currency_code",
				"Currency":        "currency",
				"COLLECTION":      "collection_code",
				"Collection":      "collection",
				"Unit Multiplier": "unit_multiplier",
				"DECIMALS":        "decimals",
				"Availability":    "availability",
				"TITLE":           "title",
				"Series":          "series",
			},
			IDSchema: textColumns(
				"freq_code", "frequency", "ref_area_code", "reference_area",
				"currency_code", "currency", "collection_code", "collection",
				"unit_multiplier", "decimals", "availability", "title", "series",
			),
			AreaColumn:      "ref_area_code",
			FrequencyColumn: "freq_code",
			UnitColumn:      "collection_code",
		},
		{
			Code:       "cp",
			RemoteName: "full_long_cpi_csv.zip",
			LocalName:  "WS_LONG_CPI_csv_col.csv",
			IDColumns:  15,
			IDTable:    "consumer_prices",
			ValueTable: "consumer_prices_values",
			IDRenames: map[string]string{
				"FREQ":            "freq_code",
				"Frequency":       "frequency",
				"REF_AREA":        "ref_area_code",
				"Reference area":  "reference_area",
				"UNIT_MEASURE":    "unit_measure_code",
				"Unit of measure": "unit_of_measure",
				"Series":          "series",
			},
			IDSchema: textColumns(
				"freq_code", "frequency", "ref_area_code", "reference_area",
				"unit_measure_code", "unit_of_measure", "series",
			),
			AreaColumn:      "ref_area_code",
			FrequencyColumn: "freq_code",
			UnitColumn:      "unit_measure_code",
		},
		{
			Code:       "pr",
			RemoteName: "full_cbpol_m_csv.zip",
			LocalName:  "WS_CBPOL_M_csv_col.csv",
			IDColumns:  14,
			IDTable:    "policy_rate",
			ValueTable: "policy_rate_values",
			IDRenames: map[string]string{
				"FREQ":             "freq_code",
				"Frequency":        "frequency",
				"REF_AREA":         "ref_area_code",
				"Reference area":   "reference_area",
				"DECIMALS":         "decimals",
				"SOURCE_REF":       "source_ref",
				"SUPP_INFO_BREAKS": "supp_info_breaks",
				"TITLE":            "title",
				"Series":           "series",
			},
			IDSchema: textColumns(
				"freq_code", "frequency", "ref_area_code", "reference_area",
				"decimals", "source_ref", "supp_info_breaks", "title", "series",
			),
			AreaColumn:      "ref_area_code",
			FrequencyColumn: "freq_code",
		},
	}
}

// Select returns the descriptors named by codes, in the order of all.
// An empty codes list selects everything.
func Select(all []Descriptor, codes []string) ([]Descriptor, error) {
	if len(codes) == 0 {
		return all, nil
	}

	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[c] = true
	}

	var out []Descriptor
	for _, d := range all {
		if want[d.Code] {
			out = append(out, d)
			delete(want, d.Code)
		}
	}
	for c := range want {
		return nil, fmt.Errorf("unknown dataset code %q", c)
	}
	return out, nil
}

// Lookup finds a descriptor by code.
func Lookup(all []Descriptor, code string) (Descriptor, bool) {
	for _, d := range all {
		if d.Code == code {
			return d, true
		}
	}
	return Descriptor{}, false
}

func textColumns(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Type: Text}
	}
	return cols
}
