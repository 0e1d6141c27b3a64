package models

// CreateExtractionRequest is the body of POST /v1/extractions.
type CreateExtractionRequest struct {
	Plans            string   `json:"plans"`
	Network          string   `json:"network"`
	Region           string   `json:"region"`
	Output           string   `json:"output"`
	CRS              string   `json:"crs,omitempty"`
	Mode             string   `json:"mode,omitempty"`
	Workers          int      `json:"workers,omitempty"`
	Landmarks        *int     `json:"landmarks,omitempty"`
	DepartureDefault *float64 `json:"departureDefault,omitempty"`
}

// Extraction is one extraction run.
type Extraction struct {
	ID      string                  `json:"id"`
	Status  string                  `json:"status"`
	Request CreateExtractionRequest `json:"request"`

	Processed     int            `json:"processed"`
	Emitted       int            `json:"emitted"`
	Skipped       map[string]int `json:"skipped"`
	BoundaryLinks int            `json:"boundaryLinks"`
	Error         string         `json:"error,omitempty"`

	CreatedAt  Timestamp  `json:"createdAt"`
	StartedAt  *Timestamp `json:"startedAt,omitempty"`
	FinishedAt *Timestamp `json:"finishedAt,omitempty"`
}

// ExtractionList is the body of GET /v1/extractions.
type ExtractionList struct {
	Items []Extraction      `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}
