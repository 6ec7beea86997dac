// Package mapper converts between the hierarchical checklist document and
// the flat zone/element rows it is stored as. Both directions are pure and
// safe for concurrent use.
//
// Element naming inside a zone:
//
//	fotos-<slot>, videos-<slot>   upload slot media, always present
//	<category>-<item>             counted item with count 1
//	<category>-<item>-<n>         unit n (1-based) of an item with count > 1
//	mobiliario                    furniture existence flag
//	mobiliario-detalle            furniture condition, only when it exists
//	anything else                 a question, named by its id
package mapper

import (
	"errors"
	"fmt"

	"github.com/vbonduro/checklistsync/internal/checklist"
	"github.com/vbonduro/checklistsync/internal/domain"
)

var (
	ErrMissingZone      = errors.New("no zone assigned")
	ErrElementCollision = errors.New("element name collision")
)

// ZoneAssignment tells FlattenSection where each part of a section lives.
// Fixed sections use Fixed; dynamic sections use Dynamic[i] for
// DynamicItems[i].
type ZoneAssignment struct {
	Fixed   int64
	Dynamic []int64
}

// ZoneIDs lists every zone the assignment touches.
func (z ZoneAssignment) ZoneIDs() []int64 {
	if z.Fixed != 0 {
		return []int64{z.Fixed}
	}
	return append([]int64(nil), z.Dynamic...)
}

// WrittenZoneIDs lists the zones FlattenSection writes for s. Zones of
// dynamic instances that s does not carry are left out.
func (z ZoneAssignment) WrittenZoneIDs(s *checklist.Section) []int64 {
	if z.Fixed != 0 || s == nil {
		return z.ZoneIDs()
	}
	n := min(len(s.DynamicItems), len(z.Dynamic))
	return append([]int64(nil), z.Dynamic[:n]...)
}

// FlattenSection emits the element rows for one section. Only durable media
// URLs are written; pending refs are left out until they have been uploaded.
func FlattenSection(sectionID string, s *checklist.Section, zones ZoneAssignment) ([]domain.Element, error) {
	def, ok := checklist.SectionByID(sectionID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", checklist.ErrUnknownSection, sectionID)
	}
	if s == nil {
		return nil, nil
	}

	if !def.Dynamic() {
		if zones.Fixed == 0 {
			return nil, fmt.Errorf("%w for section %s", ErrMissingZone, sectionID)
		}
		return flattenContents(zones.Fixed, s.Contents)
	}

	var out []domain.Element
	for i, di := range s.DynamicItems {
		if i >= len(zones.Dynamic) || zones.Dynamic[i] == 0 {
			return nil, fmt.Errorf("%w for %s instance %d", ErrMissingZone, sectionID, i+1)
		}
		els, err := flattenContents(zones.Dynamic[i], di.Contents)
		if err != nil {
			return nil, fmt.Errorf("%s instance %d: %w", sectionID, i+1, err)
		}
		out = append(out, els...)
	}
	return out, nil
}

func flattenContents(zoneID int64, c checklist.Contents) ([]domain.Element, error) {
	e := &emitter{zoneID: zoneID, seen: make(map[string]bool)}

	for _, slot := range c.UploadSlots {
		e.emit(domain.Element{Name: checklist.PhotoSlotPrefix + slot.ID, ImageURLs: durableURLs(slot.Photos)})
		e.emit(domain.Element{Name: checklist.VideoSlotPrefix + slot.ID, VideoURLs: durableURLs(slot.Videos)})
	}

	for _, q := range c.Questions {
		e.emit(questionElement(q.ID, q))
	}

	for _, it := range c.Items {
		base := checklist.ItemPrefix(it.Category) + it.ID
		switch {
		case it.Count <= 0:
			continue
		case it.Count == 1:
			el := assessment(base, it.Status, it.Notes, it.BadElements, it.Photos)
			el.Quantity = intPtr(1)
			e.emit(el)
		default:
			for i := 0; i < it.Count; i++ {
				var u checklist.Unit
				if i < len(it.Units) {
					u = it.Units[i]
				}
				el := assessment(checklist.UnitElementName(base, i), u.Status, u.Notes, u.BadElements, u.Photos)
				el.Quantity = intPtr(it.Count)
				e.emit(el)
			}
		}
	}

	if f := c.Furniture; f != nil {
		e.emit(domain.Element{Name: checklist.FurnitureElement, Exists: boolPtr(f.Exists)})
		if f.Exists && f.Detail != nil {
			e.emit(questionElement(checklist.FurnitureDetailElement, *f.Detail))
		}
	}

	if e.err != nil {
		return nil, e.err
	}
	return e.out, nil
}

type emitter struct {
	zoneID int64
	out    []domain.Element
	seen   map[string]bool
	err    error
}

func (e *emitter) emit(el domain.Element) {
	if e.err != nil {
		return
	}
	if e.seen[el.Name] {
		e.err = fmt.Errorf("%w: %q in zone %d", ErrElementCollision, el.Name, e.zoneID)
		return
	}
	e.seen[el.Name] = true
	el.ZoneID = e.zoneID
	el.Position = len(e.out)
	e.out = append(e.out, el)
}

func questionElement(name string, q checklist.Question) domain.Element {
	return assessment(name, q.Status, q.Notes, q.BadElements, q.Photos)
}

func assessment(name string, status checklist.Status, notes string, bad []string, photos []checklist.MediaRef) domain.Element {
	el := domain.Element{Name: name, ImageURLs: durableURLs(photos)}
	if status != checklist.StatusUnset {
		el.Condition = strPtr(string(status))
	}
	if notes != "" {
		el.Notes = strPtr(notes)
	}
	if len(bad) > 0 {
		el.BadElements = append([]string(nil), bad...)
	}
	return el
}

func durableURLs(refs []checklist.MediaRef) []string {
	var urls []string
	for _, r := range refs {
		if r.Durable() {
			urls = append(urls, r.URL)
		}
	}
	return urls
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
func boolPtr(b bool) *bool    { return &b }
