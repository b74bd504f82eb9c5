package chain

import (
	"context"
)

// Verify walks the chain of name and checks its invariants: one head, mutual
// previous/next links, and exactly one active record reachable from the head.
// Records cut off by a write after an undo keep their previous link but are
// never reachable again; they are allowed as long as they are inactive.
func (e *Engine) Verify(ctx context.Context, name string) error {
	recs, err := e.History(ctx, name, 0)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	byID := make(map[string]int, len(recs))
	head := ""
	active := ""
	for i, r := range recs {
		byID[r.ID] = i
		if r.Previous == "" {
			if head != "" {
				return e.corrupt("name %q has two heads %s and %s", name, head, r.ID)
			}
			head = r.ID
		}
		if r.Active {
			if active != "" {
				return e.corrupt("name %q has two active records %s and %s", name, active, r.ID)
			}
			active = r.ID
		}
	}
	if head == "" {
		return e.corrupt("name %q has no head record", name)
	}
	if active == "" {
		return e.corrupt("name %q has no active record", name)
	}

	for _, r := range recs {
		if r.Previous != "" {
			if _, ok := byID[r.Previous]; !ok {
				return e.corrupt("record %s: dangling previous %s", r.ID, r.Previous)
			}
		}
		if r.Next != "" {
			i, ok := byID[r.Next]
			if !ok {
				return e.corrupt("record %s: dangling next %s", r.ID, r.Next)
			}
			if recs[i].Previous != r.ID {
				return e.corrupt("record %s: next %s points back to %q", r.ID, r.Next, recs[i].Previous)
			}
		}
	}

	seen := make(map[string]bool, len(recs))
	for id := head; id != ""; id = recs[byID[id]].Next {
		if seen[id] {
			return e.corrupt("name %q: cycle at %s", name, id)
		}
		seen[id] = true
	}
	if !seen[active] {
		return e.corrupt("name %q: active record %s is off the main chain", name, active)
	}
	return nil
}
