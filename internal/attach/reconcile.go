package attach

import (
	"log"

	"taskline/internal/domain"
)

// Result of reconciling one attachment field.
type Result struct {
	// Persist is kept ∪ incoming, deduplicated, kept order first.
	Persist []string
	// Delete is previous − kept − incoming. Never contains an incoming
	// reference: a file uploaded in this request cannot be deleted by the
	// same request, even when the client forgot to list it as kept.
	Delete []string
}

// Reconcile computes the surviving and deletable reference sets for one
// attachment field. kept is the client-declared subset of previous that
// should survive; incoming holds references added in this request. A nil
// kept means the client declared no survivors.
func Reconcile(previous, kept, incoming []string) Result {
	keep := map[string]bool{}
	var res Result
	for _, ref := range kept {
		if !keep[ref] {
			keep[ref] = true
			res.Persist = append(res.Persist, ref)
		}
	}
	for _, ref := range incoming {
		if !keep[ref] {
			keep[ref] = true
			res.Persist = append(res.Persist, ref)
		}
	}
	seen := map[string]bool{}
	for _, ref := range previous {
		if !keep[ref] && !seen[ref] {
			seen[ref] = true
			res.Delete = append(res.Delete, ref)
		}
	}
	return res
}

// Set splits the surviving references back into a stored attachment set.
func (r Result) Set() domain.AttachmentSet {
	return domain.SplitRefs(r.Persist)
}

// Cleanup requests deletion of every content-store path in refs. URLs are
// owned externally and skipped. Failures are logged and never abort the
// surrounding update.
func Cleanup(store Store, refs []string) {
	for _, ref := range refs {
		if domain.IsURL(ref) {
			continue
		}
		if err := store.Delete(ref); err != nil {
			log.Printf("attach: delete %s failed: %v", ref, err)
		}
	}
}
