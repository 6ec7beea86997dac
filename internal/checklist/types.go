// Package checklist holds the in-memory inspection checklist: a document of
// fixed sections, some of which repeat once per bedroom or bathroom. The
// package performs no I/O; persistence lives in mapper and service.
package checklist

import "strings"

type Kind string

const (
	KindInitial Kind = "initial"
	KindFinal   Kind = "final"
)

func (k Kind) Valid() bool {
	return k == KindInitial || k == KindFinal
}

// Status is the assessed condition of a question, item or unit. The zero
// value means the inspector has not answered yet.
type Status string

const (
	StatusUnset            Status = ""
	StatusGood             Status = "good"
	StatusNeedsRepair      Status = "needs-repair"
	StatusNeedsReplacement Status = "needs-replacement"
	StatusNotApplicable    Status = "not-applicable"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUnset, StatusGood, StatusNeedsRepair, StatusNeedsReplacement, StatusNotApplicable:
		return true
	}
	return false
}

type Category string

const (
	CategoryCarpentry     Category = "carpinteria"
	CategoryClimatization Category = "climatizacion"
	CategoryStorage       Category = "almacenamiento"
	CategoryAppliances    Category = "electrodomesticos"
	CategorySecurity      Category = "seguridad"
	CategorySystems       Category = "sistemas"
)

// Document is one checklist, identified by (PropertyID, Kind). InspectionID
// is zero until the backing inspection row exists.
type Document struct {
	PropertyID   string              `json:"propertyId"`
	Kind         Kind                `json:"kind"`
	InspectionID int64               `json:"inspectionId,omitempty"`
	Sections     map[string]*Section `json:"sections"`
}

// Section is either fixed-shape (Contents only) or dynamic (DynamicItems,
// one per physical bedroom or bathroom). The catalog decides which.
type Section struct {
	ID string `json:"id"`
	Contents
	DynamicCount int           `json:"dynamicCount,omitempty"`
	DynamicItems []DynamicItem `json:"dynamicItems,omitempty"`
}

// Contents is the bundle of checklist facts stored in a single zone.
type Contents struct {
	UploadSlots []UploadSlot      `json:"uploadSlots,omitempty"`
	Questions   []Question        `json:"questions,omitempty"`
	Items       []CategorizedItem `json:"items,omitempty"`
	Furniture   *Furniture        `json:"furniture,omitempty"`
}

// DynamicItem is one bedroom or bathroom. Ordinal is 1-based and matches the
// ordinal of the zone the instance is stored in.
type DynamicItem struct {
	Ordinal int `json:"ordinal"`
	Contents
}

type UploadSlot struct {
	ID     string     `json:"id"`
	Photos []MediaRef `json:"photos,omitempty"`
	Videos []MediaRef `json:"videos,omitempty"`
}

type Question struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	BadElements []string   `json:"badElements,omitempty"`
	Photos      []MediaRef `json:"photos,omitempty"`
}

// CategorizedItem is counted equipment. Count 1 uses the item's own fields,
// Count > 1 uses one Unit per physical unit, Count 0 is not persisted.
type CategorizedItem struct {
	ID          string     `json:"id"`
	Category    Category   `json:"category"`
	Count       int        `json:"count"`
	Status      Status     `json:"status,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	BadElements []string   `json:"badElements,omitempty"`
	Photos      []MediaRef `json:"photos,omitempty"`
	Units       []Unit     `json:"units,omitempty"`
}

type Unit struct {
	Status      Status     `json:"status,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	BadElements []string   `json:"badElements,omitempty"`
	Photos      []MediaRef `json:"photos,omitempty"`
}

type Furniture struct {
	Exists bool      `json:"exists"`
	Detail *Question `json:"detail,omitempty"`
}

// MediaRef points at a photo or video. Exactly one of Data (inline bytes
// awaiting upload) or URL (durable location) is meaningful; once URL is set
// the ref is never uploaded again.
type MediaRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

func (m MediaRef) Pending() bool {
	return m.URL == "" && len(m.Data) > 0
}

func (m MediaRef) Durable() bool {
	return m.URL != ""
}

func (m MediaRef) IsImage() bool {
	return strings.HasPrefix(m.MimeType, "image/")
}

// HasContent reports whether the inspector has entered anything at all.
func (d *Document) HasContent() bool {
	if d == nil {
		return false
	}
	for _, s := range d.Sections {
		if s == nil {
			continue
		}
		if s.Contents.hasContent() {
			return true
		}
		for _, di := range s.DynamicItems {
			if di.Contents.hasContent() {
				return true
			}
		}
	}
	return false
}

func (c Contents) hasContent() bool {
	for _, slot := range c.UploadSlots {
		if len(slot.Photos) > 0 || len(slot.Videos) > 0 {
			return true
		}
	}
	for _, q := range c.Questions {
		if q.answered() {
			return true
		}
	}
	for _, it := range c.Items {
		if it.Count > 0 {
			return true
		}
	}
	return c.Furniture != nil
}

func (q Question) answered() bool {
	return q.Status != StatusUnset || q.Notes != "" || len(q.BadElements) > 0 || len(q.Photos) > 0
}
