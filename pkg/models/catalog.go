package models

// SearchRequest describes an archive catalog search.
type SearchRequest struct {
	AOI          string   `json:"aoi"`
	FromDate     string   `json:"fromDate"`
	ToDate       string   `json:"toDate"`
	OpenData     bool     `json:"openData"`
	ProductTypes []string `json:"productTypes,omitempty"`
	Resolution   string   `json:"resolution,omitempty"`
}

// Archive is a single catalog search result.
type Archive struct {
	ID          string  `json:"archiveId"`
	Provider    string  `json:"provider"`
	ProductType string  `json:"productType"`
	Resolution  string  `json:"resolution"`
	CaptureDate string  `json:"captureTimestamp"`
	Price       float64 `json:"price"`
	OpenData    bool    `json:"openData"`
	CloudCover  float64 `json:"cloudCoveragePercent"`
}

// UserInfo identifies the upstream account a credential belongs to.
type UserInfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}
