package mapper

import "strings"

// badElementsMarker precedes the defect list in notes written before
// elements had a bad_elements column.
const badElementsMarker = "\nBad elements: "

// EncodeNotes packs a defect list into free text the way legacy rows did.
// Nothing writes this form any more; it exists to build legacy fixtures.
// DecodeNotes reverses it exactly as long as no element name contains ", ".
func EncodeNotes(notes string, bad []string) string {
	if len(bad) == 0 {
		return notes
	}
	return notes + badElementsMarker + strings.Join(bad, ", ")
}

func DecodeNotes(s string) (string, []string) {
	idx := strings.LastIndex(s, badElementsMarker)
	if idx < 0 {
		return s, nil
	}
	list := s[idx+len(badElementsMarker):]
	if list == "" {
		return s[:idx], nil
	}
	return s[:idx], strings.Split(list, ", ")
}
