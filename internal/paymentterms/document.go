package paymentterms

import (
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// Document is the wire form of a term: the structure name plus the flat
// record fields.
type Document struct {
	Structure Structure `json:"paymentStructure"`
	Record
}

// Encode returns the document for t, or nil when there is no term.
func Encode(t Term) *Document {
	if t == nil {
		return nil
	}
	return &Document{Structure: t.Structure(), Record: ToRecord(t)}
}

// Decode validates the document and returns the committed term. Fields of
// other structures are dropped; a disabled recurring term becomes one-time.
func (d Document) Decode(milestoneCount int) (Term, shared.FieldErrors) {
	if errs := ValidateRecord(d.Structure, d.Record, milestoneCount); !errs.Valid() {
		return nil, errs
	}
	s := d.Structure
	if s == "" {
		s = Detect(d.Record)
	}
	term := Build(s, d.Record)
	if r, ok := term.(Recurring); ok && !r.Enabled {
		term = OneTime{}
	}
	return term, nil
}

// MilestoneIDs lists the milestones t refers to.
func MilestoneIDs(t Term) []string {
	switch v := t.(type) {
	case UpfrontBalance:
		return cloneIDs(v.MilestoneIDs)
	case Installments:
		return cloneIDs(v.MilestoneIDs)
	}
	return nil
}

// RemapMilestones returns t with milestone ids replaced through mapping. Ids
// missing from mapping are kept.
func RemapMilestones(t Term, mapping map[string]string) Term {
	remap := func(ids []string) []string {
		out := cloneIDs(ids)
		for i, id := range out {
			if next, ok := mapping[id]; ok {
				out[i] = next
			}
		}
		return out
	}
	switch v := t.(type) {
	case UpfrontBalance:
		v.MilestoneIDs = remap(v.MilestoneIDs)
		return v
	case Installments:
		v.MilestoneIDs = remap(v.MilestoneIDs)
		return v
	}
	return t
}
