package checklist

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed catalog.toml
var catalogTOML []byte

// Sizing sources for dynamic sections.
const (
	SizedByBedrooms  = "bedrooms"
	SizedByBathrooms = "bathrooms"
)

// SectionDef describes one of the fixed checklist sections and the zone
// that stores it.
type SectionDef struct {
	ID       string   `toml:"id"`
	ZoneType string   `toml:"zone_type"`
	ZoneName string   `toml:"zone_name"`
	Slots    []string `toml:"slots"`
	SizedBy  string   `toml:"sized_by"`
}

func (d SectionDef) Dynamic() bool {
	return d.SizedBy != ""
}

// ZoneNameFor returns the zone name of a dynamic instance. Ordinals are
// zero-padded so that name order and ordinal order agree.
func (d SectionDef) ZoneNameFor(ordinal int) string {
	if !d.Dynamic() {
		return d.ZoneName
	}
	return fmt.Sprintf("%s %02d", d.ZoneName, ordinal)
}

// Count picks the instance count for a dynamic section.
func (d SectionDef) Count(bedrooms, bathrooms int) int {
	switch d.SizedBy {
	case SizedByBedrooms:
		return bedrooms
	case SizedByBathrooms:
		return bathrooms
	default:
		return 1
	}
}

type catalog struct {
	Categories []Category   `toml:"categories"`
	Sections   []SectionDef `toml:"sections"`
}

var defaultCatalog = mustLoadCatalog(catalogTOML)

func mustLoadCatalog(data []byte) *catalog {
	var c catalog
	if err := toml.Unmarshal(data, &c); err != nil {
		panic(fmt.Sprintf("checklist: invalid embedded catalog: %v", err))
	}
	if len(c.Sections) == 0 || len(c.Categories) == 0 {
		panic("checklist: embedded catalog is empty")
	}
	return &c
}

// Sections returns the section definitions in catalog order.
func Sections() []SectionDef {
	out := make([]SectionDef, len(defaultCatalog.Sections))
	copy(out, defaultCatalog.Sections)
	return out
}

func SectionByID(id string) (SectionDef, bool) {
	for _, d := range defaultCatalog.Sections {
		if d.ID == id {
			return d, true
		}
	}
	return SectionDef{}, false
}

func SectionByZoneType(zoneType string) (SectionDef, bool) {
	for _, d := range defaultCatalog.Sections {
		if d.ZoneType == zoneType {
			return d, true
		}
	}
	return SectionDef{}, false
}

func Categories() []Category {
	out := make([]Category, len(defaultCatalog.Categories))
	copy(out, defaultCatalog.Categories)
	return out
}

func IsCategory(c Category) bool {
	for _, known := range defaultCatalog.Categories {
		if known == c {
			return true
		}
	}
	return false
}

// Element naming shared by the mapper and validation.
const (
	PhotoSlotPrefix        = "fotos-"
	VideoSlotPrefix        = "videos-"
	FurnitureElement       = "mobiliario"
	FurnitureDetailElement = "mobiliario-detalle"
)

// ItemPrefix returns the element-name prefix of a counted item category.
func ItemPrefix(c Category) string {
	return string(c) + "-"
}

// UnitElementName names the element of the unit at index i (0-based) of a
// counted item whose element base name is base.
func UnitElementName(base string, i int) string {
	return fmt.Sprintf("%s-%d", base, i+1)
}

// IsReservedName reports whether a question id would be mistaken for a
// slot, furniture or counted-item element.
func IsReservedName(id string) bool {
	if strings.HasPrefix(id, PhotoSlotPrefix) || strings.HasPrefix(id, VideoSlotPrefix) {
		return true
	}
	if id == FurnitureElement || strings.HasPrefix(id, FurnitureElement+"-") {
		return true
	}
	for _, c := range defaultCatalog.Categories {
		if strings.HasPrefix(id, ItemPrefix(c)) {
			return true
		}
	}
	return false
}

// NewDocument returns an empty document shaped by the catalog: every section
// present, upload slots empty, dynamic sections sized from the room counts.
func NewDocument(propertyID string, kind Kind, bedrooms, bathrooms int) *Document {
	doc := &Document{
		PropertyID: propertyID,
		Kind:       kind,
		Sections:   make(map[string]*Section, len(defaultCatalog.Sections)),
	}
	for _, def := range defaultCatalog.Sections {
		s := &Section{ID: def.ID}
		if def.Dynamic() {
			n := def.Count(bedrooms, bathrooms)
			s.DynamicCount = n
			for i := 1; i <= n; i++ {
				s.DynamicItems = append(s.DynamicItems, def.NewDynamicItem(i))
			}
		} else {
			s.UploadSlots = emptySlots(def.Slots)
		}
		doc.Sections[def.ID] = s
	}
	return doc
}

// NewDynamicItem returns an empty instance of a dynamic section.
func (d SectionDef) NewDynamicItem(ordinal int) DynamicItem {
	return DynamicItem{Ordinal: ordinal, Contents: Contents{UploadSlots: emptySlots(d.Slots)}}
}

// EnsureSlots adds the catalog upload slots missing from any section or
// dynamic instance. Zones that were provisioned but never written hydrate
// without slots.
func (doc *Document) EnsureSlots() {
	for _, def := range defaultCatalog.Sections {
		s := doc.Sections[def.ID]
		if s == nil {
			continue
		}
		if def.Dynamic() {
			for i := range s.DynamicItems {
				addMissingSlots(&s.DynamicItems[i].Contents, def.Slots)
			}
			continue
		}
		addMissingSlots(&s.Contents, def.Slots)
	}
}

func addMissingSlots(c *Contents, ids []string) {
	for _, id := range ids {
		found := false
		for _, slot := range c.UploadSlots {
			if slot.ID == id {
				found = true
				break
			}
		}
		if !found {
			c.UploadSlots = append(c.UploadSlots, UploadSlot{ID: id})
		}
	}
}

func emptySlots(ids []string) []UploadSlot {
	slots := make([]UploadSlot, 0, len(ids))
	for _, id := range ids {
		slots = append(slots, UploadSlot{ID: id})
	}
	return slots
}
