package model

// CollateralRow is one raw row of the extracted eligible-collateral table,
// as delivered by the document-parsing collaborator.
type CollateralRow struct {
	Description string            `json:"description"`
	Values      map[string]string `json:"values,omitempty"` // keyed by column name
}

// ColumnInfo describes one column of the extracted collateral table.
// Rating-event columns carry the trigger description verbatim.
type ColumnInfo struct {
	Name          string `json:"name"`
	IsRatingEvent bool   `json:"is_rating_event"`
	RatingTrigger string `json:"rating_trigger,omitempty"`
}

// RawExtraction is the document parser's output for one document.
type RawExtraction struct {
	DocumentID      string            `json:"document_id"`
	ExtractionID    string            `json:"extraction_id,omitempty"`
	CollateralTable []CollateralRow   `json:"collateral_table,omitempty"`
	Columns         []ColumnInfo      `json:"columns,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"`
	DocumentText    string            `json:"document_text,omitempty"`
}

// ContractTerms are the mapped CSA terms from the terms-mapping collaborator.
// Monetary fields arrive as raw text and may read "Infinity" or "Not
// Applicable"; normalization happens downstream.
type ContractTerms struct {
	PartyA string `json:"party_a,omitempty"`
	PartyB string `json:"party_b,omitempty"`

	PartyAThreshold string `json:"party_a_threshold,omitempty"`
	PartyBThreshold string `json:"party_b_threshold,omitempty"`

	PartyAMinTransferAmount string `json:"party_a_min_transfer_amount,omitempty"`
	PartyBMinTransferAmount string `json:"party_b_min_transfer_amount,omitempty"`

	Rounding     string `json:"rounding,omitempty"`
	BaseCurrency string `json:"base_currency,omitempty"`

	ValuationTime    string `json:"valuation_time,omitempty"`
	NotificationTime string `json:"notification_time,omitempty"`

	AgreementDate string `json:"agreement_date,omitempty"`
	EffectiveDate string `json:"effective_date,omitempty"`
}
