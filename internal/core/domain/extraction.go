package domain

import "time"

// ExtractedProduct is one raw candidate offer produced by an extraction pass.
type ExtractedProduct struct {
	Name          string   `json:"name"`
	Price         float64  `json:"price"`
	Unit          string   `json:"unit,omitempty"`
	Validity      string   `json:"validity,omitempty"`
	OriginalPrice *float64 `json:"original_price,omitempty"`
}

// ExtractionPass is the outcome of one independent extraction attempt.
// A failed pass carries Err and no products.
type ExtractionPass struct {
	PassIndex int                `json:"pass_index"`
	Products  []ExtractedProduct `json:"products"`
	Err       error              `json:"-"`
}

func (p ExtractionPass) Failed() bool {
	return p.Err != nil
}

type PassFailure struct {
	PassIndex int    `json:"pass_index"`
	Error     string `json:"error"`
}

// ConsensusProduct is one reconciled offer with its cross-pass agreement.
type ConsensusProduct struct {
	Name              string    `json:"name"`
	NormalizedName    string    `json:"normalized_name"`
	Price             float64   `json:"price"`
	OriginalPrice     *float64  `json:"original_price,omitempty"`
	Unit              *string   `json:"unit"`
	Validity          *string   `json:"validity"`
	AgreementCount    int       `json:"agreement_count"`
	Agreement         float64   `json:"agreement"`
	LowAgreement      bool      `json:"low_agreement"`
	SupportingPasses  []int     `json:"supporting_passes"`
	DisagreeingPasses []int     `json:"disagreeing_passes"`
	Prices            []float64 `json:"prices"`
}

type ConsensusResult struct {
	Products         []ConsensusProduct `json:"products"`
	InsufficientData bool               `json:"insufficient_data"`
	TotalPasses      int                `json:"total_passes"`
	SuccessfulPasses int                `json:"successful_passes"`
	FailedPasses     []PassFailure      `json:"failed_passes,omitempty"`
}

type ImportResult struct {
	ID          string          `json:"id"`
	Filename    string          `json:"filename"`
	MimeType    string          `json:"mime_type"`
	StoragePath string          `json:"storage_path"`
	PassCount   int             `json:"pass_count"`
	Consensus   ConsensusResult `json:"consensus"`
	CreatedAt   time.Time       `json:"created_at"`
}
