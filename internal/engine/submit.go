package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskline/internal/attach"
	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/form"
	"taskline/internal/repo"
)

// SubmitOptions carries one developer submission. The payload is taken as-is
// from a weakly-typed transport and canonicalized by the form package. The
// same output patch and payload apply to every named domain.
type SubmitOptions struct {
	Code    string
	Domains []string
	Payload form.Payload
	Output  AttachmentPatch
	ActorID string
}

// Submit records a deliverable submission against the named domains, or
// against the task itself when the task has no domains. Unknown domain names
// are skipped and returned; valid ones are still processed. Each submitted
// domain gets its output reconciled, its submission snapshot replaced, its
// status set from the payload (default submitted) and its complete date
// stamped. The task flips to submitted only once every domain has.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.Task, []string, error) {
	if e.Config == nil {
		return domain.Task{}, nil, errors.New("config not loaded")
	}
	t, err := e.Repo.GetTask(ctx, opts.Code)
	if err != nil {
		return t, nil, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	sub := form.Submission(opts.Payload, e.Config)

	var toDelete []string
	var unknown []string
	var submitted []string

	if len(t.Domains) == 0 {
		// names on a domain-less task match nothing; report them
		unknown = append(unknown, opts.Domains...)
		var del []string
		t.Output, del = opts.Output.apply(t.Output)
		toDelete = append(toDelete, del...)
		snapshot := sub
		snapshot.Output = t.Output
		t.Submission = &snapshot
		t.Status = sub.Status
		if sub.Status == domain.StatusSubmitted {
			t.CompletedDate = &now
		}
	} else {
		if len(opts.Domains) == 0 {
			return t, nil, errors.New("at least one domain is required")
		}
		for _, name := range opts.Domains {
			d := t.FindDomain(name)
			if d == nil {
				unknown = append(unknown, name)
				continue
			}
			var del []string
			d.Output, del = opts.Output.apply(d.Output)
			toDelete = append(toDelete, del...)
			snapshot := sub
			snapshot.Output = d.Output
			d.Submission = &snapshot
			d.Status = sub.Status
			d.CompleteDate = &now
			submitted = append(submitted, name)
		}
		if t.AllDomainsSubmitted() {
			t.Status = domain.StatusSubmitted
			t.CompletedDate = &now
		} else if len(submitted) > 0 && t.Status == domain.StatusPending {
			t.Status = domain.StatusInProgress
		}
	}

	t.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, unknown, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveTask(ctx, tx, t); err != nil {
		return t, unknown, err
	}
	if len(t.Domains) == 0 {
		if err := e.Events.Append(ctx, tx, "task.submitted", t.Code, "task", t.Code, opts.ActorID, events.EventPayload{
			"status": sub.Status,
		}); err != nil {
			return t, unknown, err
		}
	}
	for _, name := range submitted {
		if err := e.Events.Append(ctx, tx, "domain.submitted", t.Code, "domain", name, opts.ActorID, events.EventPayload{
			"status": sub.Status,
		}); err != nil {
			return t, unknown, err
		}
	}
	if err := tx.Commit(); err != nil {
		return t, unknown, err
	}
	attach.Cleanup(e.Store, toDelete)
	if len(submitted) > 0 {
		e.Notifier.Notify(ctx, fmt.Sprintf("Task %s: %d domain(s) submitted", t.Code, len(submitted)))
	} else if len(t.Domains) == 0 {
		e.Notifier.Notify(ctx, fmt.Sprintf("Task %s submitted", t.Code))
	}
	return t, unknown, nil
}

// OverrideOptions carries a manual status override for one domain.
type OverrideOptions struct {
	Code    string
	Domain  string
	Reason  string
	Upload  *domain.UploadRecord
	ActorID string
}

// OverrideStatus moves one domain to in-R&D with an operator-supplied reason
// and optional evidence file. A submitted domain rejects the override.
func (e Engine) OverrideStatus(ctx context.Context, opts OverrideOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.Code)
	if err != nil {
		return t, err
	}
	d := t.FindDomain(opts.Domain)
	if d == nil {
		return t, fmt.Errorf("domain %s: %w", opts.Domain, repo.ErrNotFound)
	}
	if d.Status == domain.StatusSubmitted {
		return t, ErrOverrideSubmitted
	}
	d.Status = domain.StatusInRnD
	d.Reason = opts.Reason
	if opts.Upload != nil {
		d.Upload = opts.Upload
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "domain.overridden", t.Code, "domain", opts.Domain, opts.ActorID, events.EventPayload{
		"status": domain.StatusInRnD,
		"reason": opts.Reason,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.Notifier.Notify(ctx, fmt.Sprintf("Task %s: domain %s moved to %s (%s)", t.Code, opts.Domain, domain.StatusInRnD, opts.Reason))
	return t, nil
}
