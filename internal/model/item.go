package model

// Item is a single user-submitted document in a batch.
type Item struct {
	Name     string `json:"name"`      // display name as submitted
	MIMEType string `json:"mime_type"` // declared content type
	Size     int64  `json:"size"`      // declared size in bytes
	Data     []byte `json:"-"`
}

// ItemState tracks where an item is in the scheduler pipeline.
type ItemState string

const (
	StatePending   ItemState = "pending"
	StateAdmitted  ItemState = "admitted"
	StateValidated ItemState = "validated"
	StateSubmitted ItemState = "submitted"
	StateRetrying  ItemState = "retrying"
	StateSucceeded ItemState = "succeeded"
	StateFailed    ItemState = "failed"
	StateGated     ItemState = "gated"
)

// Terminal reports whether the state is one an item never leaves.
func (s ItemState) Terminal() bool {
	return s == StateFailed || s == StateGated
}

// ExtractedRecord is the structured result produced by the extraction
// collaborator for one document. The gate only reads it.
type ExtractedRecord struct {
	Date        string  `json:"date"` // ISO-8601 date (YYYY-MM-DD)
	Amount      float64 `json:"amount"`
	Vendor      string  `json:"vendor"`
	Category    string  `json:"category"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"` // extraction-reported, [0,1]
}
