package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskline/internal/attach"
	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/form"
	"taskline/internal/notify"
	"taskline/internal/repo"
)

// Engine owns the domain-scoped workflow: every mutation loads one task
// aggregate, applies the change in memory and persists it as a single save.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Store    attach.Store
	Notifier notify.Notifier
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, store attach.Store, notifier notify.Notifier) Engine {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Store:    store,
		Notifier: notifier,
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ErrOverrideSubmitted guards manual overrides on already-submitted domains.
var ErrOverrideSubmitted = errors.New("domain already submitted; manual override rejected")

// AttachmentPatch carries one attachment field's delta for an update. When
// KeptSet is false the client supplied no kept-set, which the engine treats
// as "no survivors": every previous reference not re-added is deleted.
// Callers that mean "no change" must send the current references as Kept.
type AttachmentPatch struct {
	Kept       []string
	KeptSet    bool
	AddedFiles []string
	AddedURLs  []string
}

// Preserve returns a patch that keeps an existing set untouched.
func Preserve(set domain.AttachmentSet) AttachmentPatch {
	return AttachmentPatch{Kept: set.Refs(), KeptSet: true}
}

func (p AttachmentPatch) apply(prev domain.AttachmentSet) (domain.AttachmentSet, []string) {
	var kept []string
	if p.KeptSet {
		kept = p.Kept
	}
	incoming := append(append([]string{}, p.AddedFiles...), p.AddedURLs...)
	res := attach.Reconcile(prev.Refs(), kept, incoming)
	return res.Set(), res.Delete
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title          string
	Description    string
	AssignedBy     string
	AssignedTo     string
	DeliveryType   string
	PlatformType   string
	SampleRequired bool
	SampleVolume   string
	TargetDate     string
	Domains        []string
	SOW            domain.AttachmentSet
	Input          domain.AttachmentSet
	ClientSchema   domain.AttachmentSet
	ActorID        string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Task{}, errors.New("description is required")
	}
	names, err := domain.ParseNames(opts.Domains)
	if err != nil {
		return domain.Task{}, err
	}
	code, err := e.nextTaskCode(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	target := opts.TargetDate
	if target == "" {
		target = now.AddDate(0, 0, e.Config.Dates.TargetOffsetDays).Format(time.RFC3339)
	} else {
		ts, err := time.Parse(time.RFC3339, target)
		if err != nil {
			return domain.Task{}, fmt.Errorf("invalid target date: %w", err)
		}
		// stored in UTC so the sweep's string comparison orders correctly
		target = ts.UTC().Format(time.RFC3339)
	}
	t := domain.Task{
		Code:           code,
		Title:          strings.TrimSpace(opts.Title),
		Description:    strings.TrimSpace(opts.Description),
		AssignedBy:     opts.AssignedBy,
		AssignedTo:     opts.AssignedTo,
		DeliveryType:   form.MatchEnum(opts.DeliveryType, e.Config.Catalogs.DeliveryTypes, ""),
		PlatformType:   form.MatchEnum(opts.PlatformType, e.Config.Catalogs.PlatformTypes, ""),
		SampleRequired: opts.SampleRequired,
		SampleVolume:   form.MatchEnum(opts.SampleVolume, e.Config.Catalogs.SampleVolumes, ""),
		Status:         domain.StatusPending,
		AssignedDate:   nowStr,
		TargetDate:     target,
		SOW:            opts.SOW,
		Input:          opts.Input,
		ClientSchema:   opts.ClientSchema,
		CreatedAt:      nowStr,
		UpdatedAt:      nowStr,
	}
	for _, name := range names {
		t.Domains = append(t.Domains, domain.Domain{
			Name:       name,
			Status:     domain.StatusPending,
			Developers: []string{},
		})
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.Code, "task", t.Code, opts.ActorID, events.EventPayload{
		"title":   t.Title,
		"domains": names,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.Notifier.Notify(ctx, fmt.Sprintf("Task %s created: %s", t.Code, t.Title))
	return t, nil
}

// nextTaskCode increments the numeric suffix of the most recently created
// task's code. Codes are never reused even after a task disappears, since
// the sequence follows the latest issued value.
func (e Engine) nextTaskCode(ctx context.Context) (string, error) {
	prefix := e.Config.Project.CodePrefix
	last, err := e.Repo.LastTaskCode(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Sprintf("%s-%03d", prefix, 1), nil
		}
		return "", err
	}
	n := 0
	if idx := strings.LastIndex(last, "-"); idx >= 0 {
		if parsed, err := strconv.Atoi(last[idx+1:]); err == nil {
			n = parsed
		}
	}
	return fmt.Sprintf("%s-%03d", prefix, n+1), nil
}

// TaskUpdateOptions encapsulates one atomic update. Nil pointers leave the
// corresponding scalar untouched; attachment patches always run through the
// reconciler (see AttachmentPatch).
type TaskUpdateOptions struct {
	Code           string
	Title          *string
	Description    *string
	AssignedTo     *string
	DeliveryType   *string
	PlatformType   *string
	SampleRequired *bool
	SampleVolume   *string
	TargetDate     *string
	Status         *string
	Domains        *[]string
	Developers     map[string][]string
	SOW            AttachmentPatch
	Input          AttachmentPatch
	ClientSchema   AttachmentPatch
	Output         AttachmentPatch
	ActorID        string
}

// UpdateTask applies a full or partial delta to one task as a single
// in-memory mutation and a single save. It returns the persisted task plus
// the names of referenced domains that do not exist; those are skipped
// without aborting the rest of the update.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, []string, error) {
	if e.Config == nil {
		return domain.Task{}, nil, errors.New("config not loaded")
	}
	t, err := e.Repo.GetTask(ctx, opts.Code)
	if err != nil {
		return t, nil, err
	}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return t, nil, errors.New("title is required")
		}
		t.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.Description != nil {
		if strings.TrimSpace(*opts.Description) == "" {
			return t, nil, errors.New("description is required")
		}
		t.Description = strings.TrimSpace(*opts.Description)
	}
	if opts.AssignedTo != nil {
		t.AssignedTo = *opts.AssignedTo
	}
	if opts.DeliveryType != nil {
		t.DeliveryType = form.MatchEnum(*opts.DeliveryType, e.Config.Catalogs.DeliveryTypes, "")
	}
	if opts.PlatformType != nil {
		t.PlatformType = form.MatchEnum(*opts.PlatformType, e.Config.Catalogs.PlatformTypes, "")
	}
	if opts.SampleRequired != nil {
		t.SampleRequired = *opts.SampleRequired
	}
	if opts.SampleVolume != nil {
		t.SampleVolume = form.MatchEnum(*opts.SampleVolume, e.Config.Catalogs.SampleVolumes, "")
	}
	if opts.TargetDate != nil {
		ts, err := time.Parse(time.RFC3339, *opts.TargetDate)
		if err != nil {
			return t, nil, fmt.Errorf("invalid target date: %w", err)
		}
		t.TargetDate = ts.UTC().Format(time.RFC3339)
	}
	if opts.Status != nil && domain.ValidStatus(*opts.Status) {
		t.Status = *opts.Status
	}

	var toDelete []string
	var del []string
	t.SOW, del = opts.SOW.apply(t.SOW)
	toDelete = append(toDelete, del...)
	t.Input, del = opts.Input.apply(t.Input)
	toDelete = append(toDelete, del...)
	t.ClientSchema, del = opts.ClientSchema.apply(t.ClientSchema)
	toDelete = append(toDelete, del...)
	t.Output, del = opts.Output.apply(t.Output)
	toDelete = append(toDelete, del...)

	if opts.Domains != nil {
		names, err := domain.ParseNames(*opts.Domains)
		if err != nil {
			return t, nil, err
		}
		dropped, err := e.replaceRoster(&t, names)
		if err != nil {
			return t, nil, err
		}
		toDelete = append(toDelete, dropped...)
	}

	var unknown []string
	if len(opts.Developers) > 0 {
		unknown, err = assignDevelopers(&t, opts.Developers)
		if err != nil {
			return t, nil, err
		}
	}

	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, unknown, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveTask(ctx, tx, t); err != nil {
		return t, unknown, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", t.Code, "task", t.Code, opts.ActorID, events.EventPayload{
		"status": t.Status,
	}); err != nil {
		return t, unknown, err
	}
	if err := tx.Commit(); err != nil {
		return t, unknown, err
	}
	// Content-store deletes run after the save and never roll it back.
	attach.Cleanup(e.Store, toDelete)
	return t, unknown, nil
}

// replaceRoster swaps the domain roster. Surviving domains keep their state
// and take the incoming order; new names start pending; domains missing from
// the roster are dropped and their stored output paths are scheduled for
// deletion.
func (e Engine) replaceRoster(t *domain.Task, names []string) ([]string, error) {
	existing := map[string]domain.Domain{}
	for _, d := range t.Domains {
		existing[d.Name] = d
	}
	next := make([]domain.Domain, 0, len(names))
	keep := map[string]bool{}
	for _, name := range names {
		keep[name] = true
		if d, ok := existing[name]; ok {
			next = append(next, d)
			continue
		}
		next = append(next, domain.Domain{
			Name:       name,
			Status:     domain.StatusPending,
			Developers: []string{},
		})
	}
	var dropped []string
	for _, d := range t.Domains {
		if keep[d.Name] {
			continue
		}
		res := attach.Reconcile(d.Output.Refs(), nil, nil)
		dropped = append(dropped, res.Delete...)
		if d.Upload != nil && d.Upload.Path != "" {
			dropped = append(dropped, d.Upload.Path)
		}
	}
	t.Domains = next
	return dropped, nil
}

// assignDevelopers replaces the developer roster of each named domain.
// A developer may appear in at most one domain per task; violations reject
// the whole update. Adding developers to a non-submitted domain forces it to
// in-progress; emptying the roster never reverts the status.
func assignDevelopers(t *domain.Task, assignments map[string][]string) ([]string, error) {
	var unknown []string
	touched := map[string]bool{}
	for name, devs := range assignments {
		d := t.FindDomain(name)
		if d == nil {
			unknown = append(unknown, name)
			continue
		}
		touched[name] = true
		deduped := make([]string, 0, len(devs))
		seen := map[string]bool{}
		for _, dev := range devs {
			dev = strings.TrimSpace(dev)
			if dev == "" || seen[dev] {
				continue
			}
			seen[dev] = true
			deduped = append(deduped, dev)
		}
		d.Developers = deduped
		if len(deduped) > 0 && d.Status != domain.StatusSubmitted {
			d.Status = domain.StatusInProgress
		}
	}
	owner := map[string]string{}
	for _, d := range t.Domains {
		for _, dev := range d.Developers {
			if other, ok := owner[dev]; ok {
				return unknown, fmt.Errorf("developer %s already assigned to domain %s", dev, other)
			}
			owner[dev] = d.Name
		}
	}
	return unknown, nil
}
