package checklist

// Clone returns a deep copy; callers keep mutating their own slices after
// handing a section over, so nothing may be shared.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		PropertyID:   d.PropertyID,
		Kind:         d.Kind,
		InspectionID: d.InspectionID,
		Sections:     make(map[string]*Section, len(d.Sections)),
	}
	for id, s := range d.Sections {
		out.Sections[id] = s.Clone()
	}
	return out
}

func (s *Section) Clone() *Section {
	if s == nil {
		return nil
	}
	out := &Section{
		ID:           s.ID,
		Contents:     s.Contents.clone(),
		DynamicCount: s.DynamicCount,
	}
	if s.DynamicItems != nil {
		out.DynamicItems = make([]DynamicItem, len(s.DynamicItems))
		for i, di := range s.DynamicItems {
			out.DynamicItems[i] = DynamicItem{Ordinal: di.Ordinal, Contents: di.Contents.clone()}
		}
	}
	return out
}

func (c Contents) clone() Contents {
	out := Contents{}
	if c.UploadSlots != nil {
		out.UploadSlots = make([]UploadSlot, len(c.UploadSlots))
		for i, slot := range c.UploadSlots {
			out.UploadSlots[i] = UploadSlot{
				ID:     slot.ID,
				Photos: cloneRefs(slot.Photos),
				Videos: cloneRefs(slot.Videos),
			}
		}
	}
	if c.Questions != nil {
		out.Questions = make([]Question, len(c.Questions))
		for i, q := range c.Questions {
			out.Questions[i] = q.clone()
		}
	}
	if c.Items != nil {
		out.Items = make([]CategorizedItem, len(c.Items))
		for i, it := range c.Items {
			cp := it
			cp.BadElements = cloneStrings(it.BadElements)
			cp.Photos = cloneRefs(it.Photos)
			if it.Units != nil {
				cp.Units = make([]Unit, len(it.Units))
				for j, u := range it.Units {
					cp.Units[j] = Unit{
						Status:      u.Status,
						Notes:       u.Notes,
						BadElements: cloneStrings(u.BadElements),
						Photos:      cloneRefs(u.Photos),
					}
				}
			}
			out.Items[i] = cp
		}
	}
	if c.Furniture != nil {
		f := &Furniture{Exists: c.Furniture.Exists}
		if c.Furniture.Detail != nil {
			q := c.Furniture.Detail.clone()
			f.Detail = &q
		}
		out.Furniture = f
	}
	return out
}

func (q Question) clone() Question {
	q.BadElements = cloneStrings(q.BadElements)
	q.Photos = cloneRefs(q.Photos)
	return q
}

func cloneRefs(refs []MediaRef) []MediaRef {
	if refs == nil {
		return nil
	}
	out := make([]MediaRef, len(refs))
	for i, r := range refs {
		out[i] = r
		if r.Data != nil {
			out[i].Data = append([]byte(nil), r.Data...)
		}
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
