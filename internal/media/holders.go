// Package media moves pending photos and videos into object storage and
// rewrites the document so every ref that was uploaded points at its durable
// URL. Refs are matched by id, never by position.
package media

import (
	"fmt"

	"github.com/vbonduro/checklistsync/internal/checklist"
)

// Holder is one media list inside a section. Key names the list by the
// element it is stored in, so the same list has the same key before and
// after a save round trip. Dynamic is the DynamicItems index, or -1.
type Holder struct {
	Key     string
	Dynamic int
	Refs    *[]checklist.MediaRef
}

// Holders enumerates every media list in s in document order.
func Holders(s *checklist.Section) []Holder {
	if s == nil {
		return nil
	}
	var out []Holder
	out = contentHolders(out, "", -1, &s.Contents)
	for i := range s.DynamicItems {
		out = contentHolders(out, fmt.Sprintf("dyn%d/", s.DynamicItems[i].Ordinal), i, &s.DynamicItems[i].Contents)
	}
	return out
}

func contentHolders(out []Holder, prefix string, dyn int, c *checklist.Contents) []Holder {
	add := func(key string, refs *[]checklist.MediaRef) {
		out = append(out, Holder{Key: prefix + key, Dynamic: dyn, Refs: refs})
	}
	for i := range c.UploadSlots {
		slot := &c.UploadSlots[i]
		add(checklist.PhotoSlotPrefix+slot.ID, &slot.Photos)
		add(checklist.VideoSlotPrefix+slot.ID, &slot.Videos)
	}
	for i := range c.Questions {
		add(c.Questions[i].ID, &c.Questions[i].Photos)
	}
	for i := range c.Items {
		it := &c.Items[i]
		base := checklist.ItemPrefix(it.Category) + it.ID
		add(base, &it.Photos)
		for j := range it.Units {
			add(checklist.UnitElementName(base, j), &it.Units[j].Photos)
		}
	}
	if c.Furniture != nil && c.Furniture.Detail != nil {
		add(checklist.FurnitureDetailElement, &c.Furniture.Detail.Photos)
	}
	return out
}

// Pending is a ref awaiting upload together with the dynamic instance that
// holds it, which decides the zone it is filed under.
type Pending struct {
	Ref     checklist.MediaRef
	Dynamic int
}

// CollectPending gathers every pending ref of s into one flat batch. A ref id
// that appears in more than one place is uploaded once.
func CollectPending(s *checklist.Section) []Pending {
	var out []Pending
	seen := make(map[string]bool)
	for _, h := range Holders(s) {
		for _, ref := range *h.Refs {
			if !ref.Pending() || seen[ref.ID] {
				continue
			}
			seen[ref.ID] = true
			out = append(out, Pending{Ref: ref, Dynamic: h.Dynamic})
		}
	}
	return out
}

// Rewrite points every pending ref whose id was uploaded at its durable
// location and drops the inline payload. It returns the number of refs
// rewritten; refs missing from uploaded stay pending.
func Rewrite(s *checklist.Section, uploaded map[string]Uploaded) int {
	n := 0
	for _, h := range Holders(s) {
		refs := *h.Refs
		for i := range refs {
			up, ok := uploaded[refs[i].ID]
			if !ok || !refs[i].Pending() {
				continue
			}
			refs[i].URL = up.URL
			if up.MimeType != "" {
				refs[i].MimeType = up.MimeType
			}
			refs[i].Data = nil
			n++
		}
	}
	return n
}

// CarryPending copies the pending refs of src into the matching lists of
// dst, typically a freshly hydrated copy of the same section. Refs dst
// already knows by id are skipped. It reports false when some pending ref
// has no matching list in dst; dst may then be partially updated and
// should be discarded.
func CarryPending(dst, src *checklist.Section) bool {
	known := make(map[string]bool)
	lists := make(map[string]*[]checklist.MediaRef)
	for _, h := range Holders(dst) {
		lists[h.Key] = h.Refs
		for _, ref := range *h.Refs {
			known[ref.ID] = true
		}
	}

	ok := true
	for _, h := range Holders(src) {
		for _, ref := range *h.Refs {
			if !ref.Pending() || known[ref.ID] {
				continue
			}
			target, found := lists[h.Key]
			if !found {
				ok = false
				continue
			}
			*target = append(*target, ref)
			known[ref.ID] = true
		}
	}
	return ok
}
