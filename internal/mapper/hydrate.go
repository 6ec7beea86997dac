package mapper

import (
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vbonduro/checklistsync/internal/checklist"
	"github.com/vbonduro/checklistsync/internal/domain"
	"github.com/vbonduro/checklistsync/internal/objectstore"
)

// Hydrate rebuilds a document from stored zones and elements. Every catalog
// section is present in the result. Dynamic zones are matched to
// DynamicItems by (ordinal, name) order, and a dynamic section has
// max(count, zones) instances where count comes from the room counts.
// The caller fills in the document identity.
func Hydrate(zones []domain.Zone, elements []domain.Element, bedrooms, bathrooms int) *checklist.Document {
	byZone := make(map[int64][]domain.Element)
	for _, el := range elements {
		byZone[el.ZoneID] = append(byZone[el.ZoneID], el)
	}
	for id := range byZone {
		els := byZone[id]
		sort.SliceStable(els, func(i, j int) bool {
			if els[i].Position != els[j].Position {
				return els[i].Position < els[j].Position
			}
			return els[i].ID < els[j].ID
		})
	}

	byType := GroupZones(zones)

	doc := &checklist.Document{Sections: make(map[string]*checklist.Section)}
	for _, def := range checklist.Sections() {
		s := &checklist.Section{ID: def.ID}
		typed := byType[def.ZoneType]

		if def.Dynamic() {
			count := def.Count(bedrooms, bathrooms)
			s.DynamicCount = count
			n := max(count, len(typed))
			for i := 0; i < n; i++ {
				di := checklist.DynamicItem{Ordinal: i + 1}
				if i < len(typed) {
					di.Contents = hydrateContents(byZone[typed[i].ID])
				}
				s.DynamicItems = append(s.DynamicItems, di)
			}
		} else if len(typed) > 0 {
			s.Contents = hydrateContents(byZone[typed[0].ID])
		}

		doc.Sections[def.ID] = s
	}
	return doc
}

// GroupZones buckets zones by type, each bucket ordered by ordinal, then
// name, then id. The order is the only link between a dynamic zone and the
// room it stores.
func GroupZones(zones []domain.Zone) map[string][]domain.Zone {
	byType := make(map[string][]domain.Zone)
	for _, z := range zones {
		byType[z.ZoneType] = append(byType[z.ZoneType], z)
	}
	for t := range byType {
		zs := byType[t]
		sort.SliceStable(zs, func(i, j int) bool {
			if zs[i].Ordinal != zs[j].Ordinal {
				return zs[i].Ordinal < zs[j].Ordinal
			}
			if zs[i].ZoneName != zs[j].ZoneName {
				return zs[i].ZoneName < zs[j].ZoneName
			}
			return zs[i].ID < zs[j].ID
		})
	}
	return byType
}

type itemKey struct {
	category checklist.Category
	id       string
}

func hydrateContents(elements []domain.Element) checklist.Contents {
	var c checklist.Contents
	slotIdx := make(map[string]int)
	itemIdx := make(map[itemKey]int)

	slot := func(id string) *checklist.UploadSlot {
		i, ok := slotIdx[id]
		if !ok {
			i = len(c.UploadSlots)
			slotIdx[id] = i
			c.UploadSlots = append(c.UploadSlots, checklist.UploadSlot{ID: id})
		}
		return &c.UploadSlots[i]
	}
	item := func(k itemKey, count int) *checklist.CategorizedItem {
		i, ok := itemIdx[k]
		if !ok {
			i = len(c.Items)
			itemIdx[k] = i
			c.Items = append(c.Items, checklist.CategorizedItem{ID: k.id, Category: k.category})
		}
		it := &c.Items[i]
		it.Count = max(it.Count, count)
		return it
	}
	furniture := func() *checklist.Furniture {
		if c.Furniture == nil {
			c.Furniture = &checklist.Furniture{}
		}
		return c.Furniture
	}

	for _, el := range elements {
		name := el.Name
		switch {
		case strings.HasPrefix(name, checklist.PhotoSlotPrefix):
			slot(strings.TrimPrefix(name, checklist.PhotoSlotPrefix)).Photos = refsFromURLs(el.ImageURLs, false)
		case strings.HasPrefix(name, checklist.VideoSlotPrefix):
			slot(strings.TrimPrefix(name, checklist.VideoSlotPrefix)).Videos = refsFromURLs(el.VideoURLs, true)
		case name == checklist.FurnitureDetailElement:
			q := questionFrom(checklist.FurnitureDetailElement, el)
			furniture().Detail = &q
		case name == checklist.FurnitureElement:
			f := furniture()
			f.Exists = el.Exists != nil && *el.Exists
		default:
			category, rest, ok := ItemElement(name)
			if !ok {
				c.Questions = append(c.Questions, questionFrom(name, el))
				continue
			}
			quantity := 1
			if el.Quantity != nil {
				quantity = *el.Quantity
			}
			q := questionFrom(name, el)
			if quantity > 1 {
				if id, unitNo, ok := splitUnit(rest); ok {
					it := item(itemKey{category, id}, quantity)
					for len(it.Units) < unitNo {
						it.Units = append(it.Units, checklist.Unit{})
					}
					it.Units[unitNo-1] = checklist.Unit{
						Status:      q.Status,
						Notes:       q.Notes,
						BadElements: q.BadElements,
						Photos:      q.Photos,
					}
					continue
				}
			}
			it := item(itemKey{category, rest}, quantity)
			it.Status = q.Status
			it.Notes = q.Notes
			it.BadElements = q.BadElements
			it.Photos = q.Photos
		}
	}

	for i := range c.Items {
		it := &c.Items[i]
		if it.Count > 1 {
			for len(it.Units) < it.Count {
				it.Units = append(it.Units, checklist.Unit{})
			}
		}
	}
	return c
}

// ItemElement reports whether name encodes a counted item and, if so,
// returns its category and the part of the name after the category prefix.
func ItemElement(name string) (checklist.Category, string, bool) {
	for _, c := range checklist.Categories() {
		if rest, ok := strings.CutPrefix(name, checklist.ItemPrefix(c)); ok && rest != "" {
			return c, rest, true
		}
	}
	return "", "", false
}

func splitUnit(rest string) (string, int, bool) {
	idx := strings.LastIndexByte(rest, '-')
	if idx <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(rest[idx+1:])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return rest[:idx], n, true
}

func questionFrom(id string, el domain.Element) checklist.Question {
	q := checklist.Question{ID: id, Photos: refsFromURLs(el.ImageURLs, false)}
	if el.Condition != nil {
		q.Status = checklist.Status(*el.Condition)
	}
	var notes string
	if el.Notes != nil {
		notes = *el.Notes
	}
	if len(el.BadElements) > 0 {
		q.Notes = notes
		q.BadElements = append([]string(nil), el.BadElements...)
	} else {
		q.Notes, q.BadElements = DecodeNotes(notes)
	}
	return q
}

func refsFromURLs(urls []string, video bool) []checklist.MediaRef {
	if len(urls) == 0 {
		return nil
	}
	refs := make([]checklist.MediaRef, 0, len(urls))
	for _, u := range urls {
		ref := RefFromURL(u)
		if video && !strings.HasPrefix(ref.MimeType, "video/") {
			ref.MimeType = "video/mp4"
		}
		refs = append(refs, ref)
	}
	return refs
}

// RefFromURL rebuilds a durable media ref. Uploaded objects are named after
// the ref id, so the identity is recovered from the file name; foreign URLs
// get a stable id derived from the URL itself.
func RefFromURL(rawURL string) checklist.MediaRef {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(p)
	id := strings.TrimSuffix(base, path.Ext(base))
	if !checklist.ValidMediaID(id) {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL)).String()
	}
	return checklist.MediaRef{ID: id, MimeType: objectstore.MimeTypeFor(base), URL: rawURL}
}
