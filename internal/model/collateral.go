package model

// AssetClass is the standardized collateral taxonomy.
type AssetClass string

const (
	AssetCash           AssetClass = "cash"
	AssetGovernmentBond AssetClass = "government_bond"
	AssetAgencyBond     AssetClass = "agency_bond"
	AssetCorporateBond  AssetClass = "corporate_bond"
	AssetEquity         AssetClass = "equity"
	AssetMoneyMarket    AssetClass = "money_market"
	AssetMBS            AssetClass = "mortgage_backed_security"
	AssetABS            AssetClass = "asset_backed_security"
	AssetOther          AssetClass = "other"
)

// MaturityBucket is one maturity band of an eligible-collateral row.
// MaxYears nil means unbounded above. Percentages are decimals in [0,1].
type MaturityBucket struct {
	MinYears      *float64 `json:"min_years,omitempty"`
	MaxYears      *float64 `json:"max_years,omitempty"`
	ValuationPct  float64  `json:"valuation_pct"`
	HaircutPct    float64  `json:"haircut_pct"`
	RawDescriptor string   `json:"raw_descriptor,omitempty"`
}

// Unbounded reports whether the bucket has no upper maturity limit.
func (b MaturityBucket) Unbounded() bool { return b.MaxYears == nil }

// NormalizedCollateral is one typed eligible-collateral item. Rows either
// carry maturity buckets or a single flat valuation/haircut, not both.
type NormalizedCollateral struct {
	AssetClass       AssetClass       `json:"asset_class"`
	Description      string           `json:"description"`
	RawDescription   string           `json:"raw_description"`
	Buckets          []MaturityBucket `json:"buckets,omitempty"`
	FlatValuationPct *float64         `json:"flat_valuation_pct,omitempty"`
	FlatHaircutPct   *float64         `json:"flat_haircut_pct,omitempty"`
	RatingEvents     []string         `json:"rating_events,omitempty"`
	Confidence       float64          `json:"confidence"`
}

// NormalizedCollateralTable is the full normalized eligible-collateral set.
type NormalizedCollateralTable struct {
	Items        []NormalizedCollateral `json:"items"`
	RatingEvents []string               `json:"rating_events,omitempty"`
}
