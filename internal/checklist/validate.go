package checklist

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrUnknownSection = errors.New("unknown section")
	ErrInvalidSection = errors.New("invalid section")
)

// MaxItemCount bounds the units of one counted item.
const MaxItemCount = 100

// Media ids become object-storage filenames.
var mediaIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidMediaID reports whether id can identify a media ref.
func ValidMediaID(id string) bool {
	return mediaIDPattern.MatchString(id)
}

// Validate checks a section against the catalog and the element naming
// rules. Every problem is reported, joined into one error wrapping
// ErrInvalidSection.
func (s *Section) Validate() error {
	def, ok := SectionByID(s.ID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSection, s.ID)
	}

	v := &validator{mediaIDs: make(map[string]bool)}
	if def.Dynamic() {
		if len(s.UploadSlots) > 0 || len(s.Questions) > 0 || len(s.Items) > 0 || s.Furniture != nil {
			v.addf("section %s is dynamic and takes its contents in dynamicItems", s.ID)
		}
		if s.DynamicCount < 0 {
			v.addf("dynamicCount must not be negative")
		}
		for i, di := range s.DynamicItems {
			if di.Ordinal != i+1 {
				v.addf("dynamicItems[%d]: ordinal %d, want %d", i, di.Ordinal, i+1)
			}
			v.contents(fmt.Sprintf("dynamicItems[%d]", i), di.Contents)
		}
	} else {
		if len(s.DynamicItems) > 0 || s.DynamicCount != 0 {
			v.addf("section %s is fixed and cannot hold dynamicItems", s.ID)
		}
		v.contents("section", s.Contents)
	}

	if len(v.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %s: %w", ErrInvalidSection, s.ID, errors.Join(v.errs...))
}

type validator struct {
	errs     []error
	mediaIDs map[string]bool
}

func (v *validator) addf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) contents(where string, c Contents) {
	names := make(map[string]bool)
	claim := func(name string) {
		if names[name] {
			v.addf("%s: element %q defined twice", where, name)
		}
		names[name] = true
	}

	for _, slot := range c.UploadSlots {
		if slot.ID == "" {
			v.addf("%s: upload slot without id", where)
		}
		claim(PhotoSlotPrefix + slot.ID)
		v.refs(where, slot.Photos)
		v.refs(where, slot.Videos)
	}
	for _, q := range c.Questions {
		if q.ID == "" {
			v.addf("%s: question without id", where)
		}
		if IsReservedName(q.ID) {
			v.addf("%s: question id %q uses a reserved prefix", where, q.ID)
		}
		if !q.Status.Valid() {
			v.addf("%s: question %s has invalid status %q", where, q.ID, q.Status)
		}
		claim(q.ID)
		v.refs(where, q.Photos)
	}
	for _, it := range c.Items {
		if it.ID == "" {
			v.addf("%s: item without id", where)
		}
		if !IsCategory(it.Category) {
			v.addf("%s: item %s has unknown category %q", where, it.ID, it.Category)
		}
		if it.Count < 0 || it.Count > MaxItemCount {
			v.addf("%s: item %s has count %d outside 0..%d", where, it.ID, it.Count, MaxItemCount)
		}
		if len(it.Units) > it.Count && it.Count > 1 {
			v.addf("%s: item %s has %d units for count %d", where, it.ID, len(it.Units), it.Count)
		}
		if !it.Status.Valid() {
			v.addf("%s: item %s has invalid status %q", where, it.ID, it.Status)
		}
		base := ItemPrefix(it.Category) + it.ID
		claim(base)
		// Every unit up to Count is written, whether or not it was filled in.
		if it.Count > 1 && it.Count <= MaxItemCount {
			for i := 0; i < it.Count; i++ {
				claim(UnitElementName(base, i))
			}
		}
		v.refs(where, it.Photos)
		for _, u := range it.Units {
			if !u.Status.Valid() {
				v.addf("%s: item %s has a unit with invalid status %q", where, it.ID, u.Status)
			}
			v.refs(where, u.Photos)
		}
	}
	if c.Furniture != nil && c.Furniture.Detail != nil {
		if !c.Furniture.Detail.Status.Valid() {
			v.addf("%s: furniture detail has invalid status %q", where, c.Furniture.Detail.Status)
		}
		v.refs(where, c.Furniture.Detail.Photos)
	}
}

func (v *validator) refs(where string, refs []MediaRef) {
	for _, r := range refs {
		if !ValidMediaID(r.ID) {
			v.addf("%s: media id %q is not a valid identifier", where, r.ID)
			continue
		}
		if v.mediaIDs[r.ID] {
			v.addf("%s: media id %q used twice", where, r.ID)
		}
		v.mediaIDs[r.ID] = true
		if !r.Pending() && !r.Durable() {
			v.addf("%s: media %s has neither data nor url", where, r.ID)
		}
		if r.MimeType == "" {
			v.addf("%s: media %s has no mime type", where, r.ID)
		}
	}
}

// Normalize assigns identities to media refs that arrived without one and
// canonicalises furniture detail ids. Call it before Validate.
func (s *Section) Normalize() {
	fix := func(c *Contents) {
		for i := range c.UploadSlots {
			assignIDs(c.UploadSlots[i].Photos)
			assignIDs(c.UploadSlots[i].Videos)
		}
		for i := range c.Questions {
			assignIDs(c.Questions[i].Photos)
		}
		for i := range c.Items {
			c.Items[i].Category = Category(strings.ToLower(string(c.Items[i].Category)))
			assignIDs(c.Items[i].Photos)
			for j := range c.Items[i].Units {
				assignIDs(c.Items[i].Units[j].Photos)
			}
		}
		if c.Furniture != nil && c.Furniture.Detail != nil {
			c.Furniture.Detail.ID = FurnitureDetailElement
			assignIDs(c.Furniture.Detail.Photos)
		}
	}
	fix(&s.Contents)
	for i := range s.DynamicItems {
		fix(&s.DynamicItems[i].Contents)
	}
}

func assignIDs(refs []MediaRef) {
	for i := range refs {
		if refs[i].ID == "" {
			refs[i].ID = uuid.NewString()
		}
	}
}
