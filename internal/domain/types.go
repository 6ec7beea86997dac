package domain

import "time"

type Property struct {
	ID        string
	Bedrooms  int
	Bathrooms int
	UpdatedAt time.Time
}

type InspectionStatus string

const (
	InspectionDraft     InspectionStatus = "draft"
	InspectionFinalized InspectionStatus = "finalized"
)

type Inspection struct {
	ID          int64
	PropertyID  string
	Kind        string
	Status      InspectionStatus
	Extra       map[string]any
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

// Zone is the relational container for one section instance. Fixed sections
// have ordinal 0; dynamic sections number their zones from 1.
type Zone struct {
	ID           int64
	InspectionID int64
	ZoneType     string
	ZoneName     string
	Ordinal      int
	CreatedAt    time.Time
}

// Element is one flattened fact of a zone, unique on (ZoneID, Name).
type Element struct {
	ID          int64
	ZoneID      int64
	Name        string
	Position    int
	Condition   *string
	Notes       *string
	ImageURLs   []string
	VideoURLs   []string
	Quantity    *int
	Exists      *bool
	BadElements []string
	UpdatedAt   time.Time
}
