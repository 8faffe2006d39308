package ledger

import "sort"

// Shift moves one record's start page.
type Shift struct {
	RecordID int64
	From     int
	To       int
}

// AssignPlan is the outcome of deciding where a new sub-document starts.
type AssignPlan struct {
	Page int
	// Shifts are ordered so applying them one by one never collides.
	Shifts []Shift
	// GapCollapsed is set when a target beyond the last start was pulled back.
	GapCollapsed bool
}

// PlanAssign decides the start page for a new sub-document given the
// records already in a master. Records without a page are ignored.
func PlanAssign(records []PageRecord, target *int) AssignPlan {
	assigned := sortedAssigned(records)
	if len(assigned) == 0 {
		return AssignPlan{Page: 0}
	}
	highest := *assigned[len(assigned)-1].LogicalPage

	if target == nil {
		return AssignPlan{Page: highest + 1}
	}
	if *target > highest {
		return AssignPlan{Page: highest + 1, GapCollapsed: true}
	}

	displaced := make([]PageRecord, 0, len(assigned))
	for _, rec := range assigned {
		if *rec.LogicalPage >= *target {
			displaced = append(displaced, rec)
		}
	}
	if len(displaced) == 0 {
		return AssignPlan{Page: highest + 1}
	}

	// displaced is ascending; the insertion point snaps to its first start so
	// no existing sub-document is split.
	plan := AssignPlan{Page: *displaced[0].LogicalPage}
	plan.Shifts = make([]Shift, 0, len(displaced))
	for i := len(displaced) - 1; i >= 0; i-- {
		from := *displaced[i].LogicalPage
		plan.Shifts = append(plan.Shifts, Shift{RecordID: displaced[i].ID, From: from, To: from + 1})
	}
	return plan
}

// PlanCompact re-derives contiguous starts from stored page counts, keeping
// the current logical order. Only records whose start changes are returned.
func PlanCompact(records []PageRecord) []Shift {
	assigned := sortedAssigned(records)
	var shifts []Shift
	next := 0
	for _, rec := range assigned {
		if *rec.LogicalPage != next {
			shifts = append(shifts, Shift{RecordID: rec.ID, From: *rec.LogicalPage, To: next})
		}
		count := rec.PageCount
		if count < 1 {
			count = 1
		}
		next += count
	}
	return shifts
}

// Resolve computes the inclusive content range of rec. contentEnd is the
// last content page of rec's master. Only siblings in the same master are
// considered as successor.
func Resolve(master Master, rec PageRecord, siblings []PageRecord, contentEnd int) Range {
	start := *rec.LogicalPage
	end := contentEnd
	successor := -1
	for _, s := range siblings {
		if !s.Assigned() || s.ID == rec.ID || *s.MasterID != master.ID {
			continue
		}
		p := *s.LogicalPage
		if p > start && (successor < 0 || p < successor) {
			successor = p
		}
	}
	if successor >= 0 {
		end = successor - 1
	}
	return Range{Master: master, SourceRef: rec.SourceRef, Start: start, End: end}
}

func sortedAssigned(records []PageRecord) []PageRecord {
	out := make([]PageRecord, 0, len(records))
	for _, rec := range records {
		if rec.LogicalPage != nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].LogicalPage < *out[j].LogicalPage })
	return out
}
