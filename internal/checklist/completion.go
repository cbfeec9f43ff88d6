package checklist

// Evaluation is the derived completion state of a case.
type Evaluation struct {
	ItemCompletion map[string]bool
	// SectionComplete is true when every required item of the section has a file.
	SectionComplete map[Section]bool
	CaseStatus      CaseStatus
}

// Evaluate computes completion from the files currently attached. It has no side
// effects. Optional items never block READY; a case without required items is READY.
func Evaluate(c *Case) Evaluation {
	ev := Evaluation{
		ItemCompletion: make(map[string]bool, len(c.Items)),
		SectionComplete: map[Section]bool{
			SectionOperations: true,
			SectionFinance:    true,
		},
		CaseStatus: CaseStatusReady,
	}

	for _, it := range c.Items {
		done := len(it.Files) > 0
		ev.ItemCompletion[it.ID] = done
		if it.IsRequired && !done {
			ev.SectionComplete[it.Section] = false
			ev.CaseStatus = CaseStatusPending
		}
	}
	return ev
}

// Apply writes an evaluation back onto the case's derived fields.
func (c *Case) Apply(ev Evaluation) {
	for _, it := range c.Items {
		it.IsCompleted = ev.ItemCompletion[it.ID]
	}
	c.Status = ev.CaseStatus
}

// Recompute evaluates and applies in one step.
func (c *Case) Recompute() Evaluation {
	ev := Evaluate(c)
	c.Apply(ev)
	return ev
}
