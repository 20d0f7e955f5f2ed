package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/form"
	"taskline/internal/migrate"
)

type fakeStore struct {
	saved   []string
	deleted []string
}

func (f *fakeStore) Save(data []byte, originalName string) (string, error) {
	path := "uploads/" + originalName
	f.saved = append(f.saved, path)
	return path, nil
}

func (f *fakeStore) Delete(path string) error {
	f.deleted = append(f.deleted, path)
	return nil
}

type testEnv struct {
	Engine engine.Engine
	Store  *fakeStore
	Ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := &fakeStore{}
	eng := engine.New(conn, config.Default(), store, nil)
	eng.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return &testEnv{Engine: eng, Store: store, Ctx: context.Background()}
}

func (env *testEnv) create(t *testing.T, title string, domains ...string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:       title,
		Description: "scrape and deliver",
		Domains:     domains,
		ActorID:     "lead-1",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestSequentialTaskCodes(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t, "first")
	second := env.create(t, "second")
	if first.Code != "RD-001" || second.Code != "RD-002" {
		t.Fatalf("unexpected codes %s, %s", first.Code, second.Code)
	}
}

func TestCreateRequiredFields(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Description: "d"}); err == nil {
		t.Fatal("expected title error")
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "t", Description: "  "}); err == nil {
		t.Fatal("expected description error")
	}
	// invalid enum values are dropped, not rejected
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "t", Description: "d", DeliveryType: "teleport", PlatformType: "wEb",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.DeliveryType != "" {
		t.Fatalf("bogus delivery type kept: %q", task.DeliveryType)
	}
	if task.PlatformType != "Web" {
		t.Fatalf("platform not canonicalized: %q", task.PlatformType)
	}
}

func TestCreateDefaultTargetDate(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "dates")
	want := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if task.TargetDate != want {
		t.Fatalf("target date %s, want %s", task.TargetDate, want)
	}
}

func TestTargetDateNormalizedToUTC(t *testing.T) {
	env := newTestEnv(t)
	// 05:00+07:00 is 22:00Z the previous day, already past the frozen now
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:       "offset",
		Description: "d",
		TargetDate:  "2025-01-01T05:00:00+07:00",
		Domains:     []string{"web"},
		ActorID:     "lead-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.TargetDate != "2024-12-31T22:00:00Z" {
		t.Fatalf("target date not normalized: %s", task.TargetDate)
	}
	n, err := env.Engine.Sweep(env.Ctx, "system")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d domains, want 1", n)
	}
	task, err = env.Engine.Repo.GetTask(env.Ctx, task.Code)
	if err != nil {
		t.Fatal(err)
	}
	if task.FindDomain("web").Status != domain.StatusDelayed {
		t.Fatalf("web status %s", task.FindDomain("web").Status)
	}

	// updates normalize the same way
	target := "2025-03-01T09:30:00+05:30"
	task, _, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		Code:         task.Code,
		TargetDate:   &target,
		SOW:          engine.Preserve(task.SOW),
		Input:        engine.Preserve(task.Input),
		ClientSchema: engine.Preserve(task.ClientSchema),
		Output:       engine.Preserve(task.Output),
		ActorID:      "lead-1",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.TargetDate != "2025-03-01T04:00:00Z" {
		t.Fatalf("updated target date not normalized: %s", task.TargetDate)
	}
}

func TestSubmitLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "lifecycle", "web", "app")

	payload := form.Payload{
		"countries":  "India,Nepal",
		"complexity": "medium",
		"method":     "API",
	}
	task, unknown, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		Code:    task.Code,
		Domains: []string{"web"},
		Payload: payload,
		Output:  engine.AttachmentPatch{KeptSet: true, AddedFiles: []string{"uploads/web.csv"}},
		ActorID: "dev-1",
	})
	if err != nil || len(unknown) != 0 {
		t.Fatalf("submit web: %v unknown=%v", err, unknown)
	}
	web := task.FindDomain("web")
	if web.Status != domain.StatusSubmitted || web.CompleteDate == nil {
		t.Fatalf("web not submitted: %+v", web)
	}
	if got := web.Submission.Countries; len(got) != 2 || got[0] != "India" || got[1] != "Nepal" {
		t.Fatalf("countries not coerced: %v", got)
	}
	if web.Submission.Complexity != "Medium" {
		t.Fatalf("complexity not canonicalized: %q", web.Submission.Complexity)
	}
	if task.Status != domain.StatusInProgress {
		t.Fatalf("task status %s after first submission", task.Status)
	}
	if task.CompletedDate != nil {
		t.Fatal("task completed before all domains submitted")
	}

	task, _, err = env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		Code:    task.Code,
		Domains: []string{"app"},
		Payload: payload,
		ActorID: "dev-2",
	})
	if err != nil {
		t.Fatalf("submit app: %v", err)
	}
	if task.Status != domain.StatusSubmitted || task.CompletedDate == nil {
		t.Fatalf("task not submitted after all domains: status=%s", task.Status)
	}
}

func TestSubmitUnknownDomainsPartial(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "partial", "web")
	task, unknown, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		Code:    task.Code,
		Domains: []string{"web", "ghost"},
		Payload: form.Payload{},
		ActorID: "dev-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "ghost" {
		t.Fatalf("unknown = %v", unknown)
	}
	if task.FindDomain("web").Status != domain.StatusSubmitted {
		t.Fatal("known domain not processed")
	}
}

func TestSubmitDomainlessTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "no domains")
	task, unknown, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		Code:    task.Code,
		Domains: []string{"web"},
		Payload: form.Payload{"remark": "done"},
		ActorID: "dev-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// a domain-less task matches no names; they come back as unknown
	if len(unknown) != 1 || unknown[0] != "web" {
		t.Fatalf("unknown = %v", unknown)
	}
	if task.Submission == nil || task.Submission.Remark != "done" {
		t.Fatalf("task-level submission not recorded: %+v", task.Submission)
	}
	if task.Status != domain.StatusSubmitted || task.CompletedDate == nil {
		t.Fatalf("task status %s", task.Status)
	}
}

func TestSubmitStatusFromPayload(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "resubmit", "web")
	task, _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		Code:    task.Code,
		Domains: []string{"web"},
		Payload: form.Payload{"status": "IN-r&d", "remark": "blocked on captcha"},
		ActorID: "dev-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.FindDomain("web").Status != domain.StatusInRnD {
		t.Fatalf("payload status ignored: %s", task.FindDomain("web").Status)
	}
	if task.OverallStatus() != domain.StatusInRnD {
		t.Fatalf("overall status %s", task.OverallStatus())
	}
}

func TestAssignDevelopers(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "roster", "web", "app")
	task, unknown, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		Code:       task.Code,
		Developers: map[string][]string{"web": {"dev-1", "dev-1", "dev-2"}},
		ActorID:    "lead-1",
	})
	if err != nil || len(unknown) != 0 {
		t.Fatalf("assign: %v unknown=%v", err, unknown)
	}
	web := task.FindDomain("web")
	if len(web.Developers) != 2 {
		t.Fatalf("developers not deduped: %v", web.Developers)
	}
	if web.Status != domain.StatusInProgress {
		t.Fatalf("assignment did not force in-progress: %s", web.Status)
	}
	if task.FindDomain("app").Status != domain.StatusPending {
		t.Fatal("untouched domain changed status")
	}

	// a developer may only work one domain per task
	_, _, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		Code:       task.Code,
		Developers: map[string][]string{"app": {"dev-1"}},
		ActorID:    "lead-1",
	})
	if err == nil || !strings.Contains(err.Error(), "already assigned") {
		t.Fatalf("expected duplicate developer rejection, got %v", err)
	}

	// moving the developer is fine when both rosters change in one call
	task, _, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		Code:       task.Code,
		Developers: map[string][]string{"web": {"dev-2"}, "app": {"dev-1"}},
		ActorID:    "lead-1",
	})
	if err != nil {
		t.Fatalf("move developer: %v", err)
	}
	if got := task.FindDomain("app").Developers; len(got) != 1 || got[0] != "dev-1" {
		t.Fatalf("app roster %v", got)
	}
}

func TestAssignUnknownDomain(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "unknown", "web")
	task, unknown, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		Code:       task.Code,
		Developers: map[string][]string{"ghost": {"dev-1"}, "web": {"dev-2"}},
		ActorID:    "lead-1",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "ghost" {
		t.Fatalf("unknown = %v", unknown)
	}
	if got := task.FindDomain("web").Developers; len(got) != 1 || got[0] != "dev-2" {
		t.Fatal("valid assignment was not applied")
	}
}

func TestOverrideGuard(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "override", "web", "app")
	task, err := env.Engine.OverrideStatus(env.Ctx, engine.OverrideOptions{
		Code: task.Code, Domain: "web", Reason: "client changed schema", ActorID: "lead-1",
	})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	web := task.FindDomain("web")
	if web.Status != domain.StatusInRnD || web.Reason != "client changed schema" {
		t.Fatalf("override not applied: %+v", web)
	}
	if task.OverallStatus() != domain.StatusInRnD {
		t.Fatalf("overall status %s", task.OverallStatus())
	}

	if _, _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		Code: task.Code, Domains: []string{"app"}, Payload: form.Payload{}, ActorID: "dev-1",
	}); err != nil {
		t.Fatalf("submit app: %v", err)
	}
	_, err = env.Engine.OverrideStatus(env.Ctx, engine.OverrideOptions{
		Code: task.Code, Domain: "app", Reason: "nope", ActorID: "lead-1",
	})
	if !errors.Is(err, engine.ErrOverrideSubmitted) {
		t.Fatalf("expected override guard, got %v", err)
	}
}

func TestDelaySweep(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "sweep", "web", "app")
	if _, _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		Code: task.Code, Domains: []string{"app"}, Payload: form.Payload{}, ActorID: "dev-1",
	}); err != nil {
		t.Fatalf("submit app: %v", err)
	}

	// before the target date nothing is overdue
	n, err := env.Engine.Sweep(env.Ctx, "system")
	if err != nil || n != 0 {
		t.Fatalf("early sweep: n=%d err=%v", n, err)
	}

	env.Engine.Now = func() time.Time { return time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC) }
	n, err = env.Engine.Sweep(env.Ctx, "system")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d domains, want 1", n)
	}
	task, err = env.Engine.Repo.GetTask(env.Ctx, task.Code)
	if err != nil {
		t.Fatal(err)
	}
	if task.FindDomain("web").Status != domain.StatusDelayed {
		t.Fatalf("web status %s", task.FindDomain("web").Status)
	}
	if task.FindDomain("app").Status != domain.StatusSubmitted {
		t.Fatal("sweep touched a submitted domain")
	}
	if task.OverallStatus() != domain.StatusDelayed {
		t.Fatalf("overall status %s", task.OverallStatus())
	}

	// idempotent: a second sweep flips nothing
	n, err = env.Engine.Sweep(env.Ctx, "system")
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}

	// the sweep and its event commit together
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "sweep.completed")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("sweep events = %d, want 1", len(evts))
	}

	// a late submission still completes the task
	task, _, err = env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		Code: task.Code, Domains: []string{"web"}, Payload: form.Payload{}, ActorID: "dev-2",
	})
	if err != nil {
		t.Fatalf("late submit: %v", err)
	}
	if task.Status != domain.StatusSubmitted {
		t.Fatalf("task status %s after late submit", task.Status)
	}
}

func TestRosterReplacementCleansDroppedOutputs(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "drop", "web", "app")
	task, _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		Code:    task.Code,
		Domains: []string{"app"},
		Payload: form.Payload{},
		Output: engine.AttachmentPatch{KeptSet: true, AddedFiles: []string{"uploads/app.csv"},
			AddedURLs: []string{"https://example.com/app"}},
		ActorID: "dev-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	roster := []string{"web", "mobile"}
	task, _, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		Code:    task.Code,
		Domains: &roster,
		ActorID: "lead-1",
	})
	if err != nil {
		t.Fatalf("replace roster: %v", err)
	}
	if task.FindDomain("app") != nil {
		t.Fatal("dropped domain still present")
	}
	if task.FindDomain("mobile").Status != domain.StatusPending {
		t.Fatal("new domain not pending")
	}
	if task.FindDomain("web").Status != domain.StatusPending {
		t.Fatal("surviving domain lost its state")
	}
	if len(env.Store.deleted) != 1 || env.Store.deleted[0] != "uploads/app.csv" {
		t.Fatalf("deleted = %v, want only the dropped domain's stored file", env.Store.deleted)
	}
}

func TestAttachmentKeptSemantics(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:       "attachments",
		Description: "d",
		SOW:         domain.AttachmentSet{Files: []string{"uploads/sow-v1.pdf"}, URLs: []string{"https://docs.example.com/sow"}},
		ActorID:     "lead-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	// an explicit kept set with an addition keeps survivors and deletes nothing
	task, _, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		Code: task.Code,
		SOW: engine.AttachmentPatch{
			Kept:       []string{"uploads/sow-v1.pdf", "https://docs.example.com/sow"},
			KeptSet:    true,
			AddedFiles: []string{"uploads/sow-v2.pdf"},
		},
		Input:        engine.Preserve(task.Input),
		ClientSchema: engine.Preserve(task.ClientSchema),
		Output:       engine.Preserve(task.Output),
		ActorID:      "lead-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(task.SOW.Files) != 2 || len(task.SOW.URLs) != 1 {
		t.Fatalf("sow after keep+add: %+v", task.SOW)
	}
	if len(env.Store.deleted) != 0 {
		t.Fatalf("unexpected deletes %v", env.Store.deleted)
	}

	// no kept set at all means no survivors
	task, _, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		Code:         task.Code,
		Input:        engine.Preserve(task.Input),
		ClientSchema: engine.Preserve(task.ClientSchema),
		Output:       engine.Preserve(task.Output),
		ActorID:      "lead-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !task.SOW.Empty() {
		t.Fatalf("sow survived an empty patch: %+v", task.SOW)
	}
	// only stored paths reach the store; the URL is just dropped
	if len(env.Store.deleted) != 2 {
		t.Fatalf("deleted = %v", env.Store.deleted)
	}
}

func TestStatsAfterSweep(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "stats", "web", "app")
	if _, _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		Code:       task.Code,
		Developers: map[string][]string{"web": {"dev-1"}, "app": {"dev-2"}},
		ActorID:    "lead-1",
	}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		Code: task.Code, Domains: []string{"app"}, Payload: form.Payload{}, ActorID: "dev-2",
	}); err != nil {
		t.Fatal(err)
	}

	env.Engine.Now = func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }
	totals, err := env.Engine.StatusTotals(env.Ctx, "", "system")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals[domain.StatusDelayed] != 1 || totals[domain.StatusSubmitted] != 1 {
		t.Fatalf("totals = %v", totals)
	}

	mine, err := env.Engine.StatusTotals(env.Ctx, "dev-1", "system")
	if err != nil {
		t.Fatal(err)
	}
	if mine[domain.StatusDelayed] != 1 || mine[domain.StatusSubmitted] != 0 {
		t.Fatalf("dev-1 totals = %v", mine)
	}

	summaries, err := env.Engine.DeveloperSummaries(env.Ctx, "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summaries = %+v", summaries)
	}
	for _, s := range summaries {
		if s.Total != 1 {
			t.Fatalf("summary %+v", s)
		}
	}
}
