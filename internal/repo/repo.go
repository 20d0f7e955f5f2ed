package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taskline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const taskColumns = `code,title,description,assigned_by,assigned_to,delivery_type,platform_type,
sample_required,sample_volume,status,assigned_date,target_date,completed_date,
sow_files_json,sow_urls_json,input_files_json,input_urls_json,schema_files_json,schema_urls_json,
output_files_json,output_urls_json,submission_json,created_at,updated_at`

// InsertTask writes a freshly created aggregate inside tx.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.Code, t.Title, t.Description, nullable(t.AssignedBy), nullable(t.AssignedTo),
		nullable(t.DeliveryType), nullable(t.PlatformType), boolInt(t.SampleRequired), nullable(t.SampleVolume),
		t.Status, t.AssignedDate, t.TargetDate, nullableStringPtr(t.CompletedDate),
		jsonArray(t.SOW.Files), jsonArray(t.SOW.URLs),
		jsonArray(t.Input.Files), jsonArray(t.Input.URLs),
		jsonArray(t.ClientSchema.Files), jsonArray(t.ClientSchema.URLs),
		jsonArray(t.Output.Files), jsonArray(t.Output.URLs),
		jsonValue(t.Submission), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return r.writeDomains(ctx, tx, t)
}

// SaveTask persists the whole mutated aggregate as one document-granularity
// write: the task row is updated and the domain rows are rewritten. The last
// save wins; no version counter guards concurrent writers.
func (r Repo) SaveTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, assigned_by=?, assigned_to=?,
delivery_type=?, platform_type=?, sample_required=?, sample_volume=?, status=?,
assigned_date=?, target_date=?, completed_date=?,
sow_files_json=?, sow_urls_json=?, input_files_json=?, input_urls_json=?,
schema_files_json=?, schema_urls_json=?, output_files_json=?, output_urls_json=?,
submission_json=?, updated_at=? WHERE code=?`,
		t.Title, t.Description, nullable(t.AssignedBy), nullable(t.AssignedTo),
		nullable(t.DeliveryType), nullable(t.PlatformType), boolInt(t.SampleRequired), nullable(t.SampleVolume),
		t.Status, t.AssignedDate, t.TargetDate, nullableStringPtr(t.CompletedDate),
		jsonArray(t.SOW.Files), jsonArray(t.SOW.URLs),
		jsonArray(t.Input.Files), jsonArray(t.Input.URLs),
		jsonArray(t.ClientSchema.Files), jsonArray(t.ClientSchema.URLs),
		jsonArray(t.Output.Files), jsonArray(t.Output.URLs),
		jsonValue(t.Submission), t.UpdatedAt, t.Code)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM domain_developers WHERE task_code=?`, t.Code); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_domains WHERE task_code=?`, t.Code); err != nil {
		return err
	}
	return r.writeDomains(ctx, tx, t)
}

func (r Repo) writeDomains(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	for i, d := range t.Domains {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_domains(task_code,name,position,status,reason,complete_date,upload_json,output_files_json,output_urls_json,submission_json)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			t.Code, d.Name, i, d.Status, nullable(d.Reason), nullableStringPtr(d.CompleteDate),
			jsonValue(d.Upload), jsonArray(d.Output.Files), jsonArray(d.Output.URLs), jsonValue(d.Submission)); err != nil {
			return fmt.Errorf("insert domain %s: %w", d.Name, err)
		}
		for _, dev := range d.Developers {
			if _, err := tx.ExecContext(ctx, `INSERT INTO domain_developers(task_code,domain_name,developer_id) VALUES (?,?,?)`,
				t.Code, d.Name, dev); err != nil {
				return fmt.Errorf("insert developer %s: %w", dev, err)
			}
		}
	}
	return nil
}

// GetTask loads the full aggregate.
func (r Repo) GetTask(ctx context.Context, code string) (domain.Task, error) {
	return r.getTask(ctx, r.DB, code)
}

// GetTaskTx loads the aggregate inside an open transaction.
func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, code string) (domain.Task, error) {
	return r.getTask(ctx, tx, code)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r Repo) getTask(ctx context.Context, q querier, code string) (domain.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE code=?`, code)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Domains, err = r.loadDomains(ctx, q, t.Code)
	return t, err
}

func (r Repo) loadDomains(ctx context.Context, q querier, code string) ([]domain.Domain, error) {
	rows, err := q.QueryContext(ctx, `SELECT name,status,reason,complete_date,upload_json,output_files_json,output_urls_json,submission_json
FROM task_domains WHERE task_code=? ORDER BY position`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var domains []domain.Domain
	for rows.Next() {
		var d domain.Domain
		var reason, completeDate, uploadJSON, outFiles, outURLs, subJSON sql.NullString
		if err := rows.Scan(&d.Name, &d.Status, &reason, &completeDate, &uploadJSON, &outFiles, &outURLs, &subJSON); err != nil {
			return nil, err
		}
		d.Reason = reason.String
		if completeDate.Valid {
			d.CompleteDate = &completeDate.String
		}
		d.Upload = decodeUpload(uploadJSON)
		d.Output.Files = decodeArray(outFiles)
		d.Output.URLs = decodeArray(outURLs)
		d.Submission = decodeSubmission(subJSON)
		d.Developers = []string{}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	devRows, err := q.QueryContext(ctx, `SELECT domain_name,developer_id FROM domain_developers WHERE task_code=? ORDER BY developer_id`, code)
	if err != nil {
		return nil, err
	}
	defer devRows.Close()
	byName := map[string]int{}
	for i, d := range domains {
		byName[d.Name] = i
	}
	for devRows.Next() {
		var name, dev string
		if err := devRows.Scan(&name, &dev); err != nil {
			return nil, err
		}
		if i, ok := byName[name]; ok {
			domains[i].Developers = append(domains[i].Developers, dev)
		}
	}
	return domains, devRows.Err()
}

// LastTaskCode returns the most recently created task's code, or ErrNotFound.
func (r Repo) LastTaskCode(ctx context.Context) (string, error) {
	var code string
	err := r.DB.QueryRowContext(ctx, `SELECT code FROM tasks ORDER BY created_at DESC, rowid DESC LIMIT 1`).Scan(&code)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return code, err
}

type TaskFilters struct {
	Status          string
	Developer       string
	Limit           int
	CursorCreatedAt string
	CursorCode      string
}

// ListTasks returns aggregates newest-first with composite cursor paging.
// Status filters on the stored task status; Developer restricts to tasks
// where the developer appears in any domain.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Developer != "" {
		clauses = append(clauses, "code IN (SELECT task_code FROM domain_developers WHERE developer_id=?)")
		args = append(args, f.Developer)
	}
	if f.CursorCreatedAt != "" && f.CursorCode != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND code < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorCode)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, code DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Domains, err = r.loadDomains(ctx, r.DB, res[i].Code)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// SweepDelayed promotes pending/in-progress domains of overdue tasks to
// delayed, inside the caller's tx. Idempotent: already-delayed, submitted and
// in-R&D domains are untouched. Returns the number of promoted domains.
func (r Repo) SweepDelayed(ctx context.Context, tx *sql.Tx, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE task_domains SET status=? WHERE status IN (?,?)
AND task_code IN (SELECT code FROM tasks WHERE target_date < ?)`,
		domain.StatusDelayed, domain.StatusPending, domain.StatusInProgress, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountDomainsByStatus groups the domain population by status, optionally
// restricted to domains a given developer is assigned to.
func (r Repo) CountDomainsByStatus(ctx context.Context, developerID string) (map[string]int, error) {
	query := `SELECT status, count(*) FROM task_domains GROUP BY status`
	var args []any
	if developerID != "" {
		query = `SELECT td.status, count(*) FROM task_domains td
JOIN domain_developers dd ON dd.task_code=td.task_code AND dd.domain_name=td.name
WHERE dd.developer_id=? GROUP BY td.status`
		args = append(args, developerID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// DeveloperSummary is the per-developer workload projection.
type DeveloperSummary struct {
	DeveloperID string         `json:"developer_id"`
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
}

// DeveloperSummaries reports, for every developer with at least one domain,
// their total assigned domains and sub-counts by status.
func (r Repo) DeveloperSummaries(ctx context.Context) ([]DeveloperSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT dd.developer_id, td.status, count(*)
FROM domain_developers dd
JOIN task_domains td ON td.task_code=dd.task_code AND td.name=dd.domain_name
GROUP BY dd.developer_id, td.status
ORDER BY dd.developer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DeveloperSummary
	index := map[string]int{}
	for rows.Next() {
		var dev, status string
		var count int
		if err := rows.Scan(&dev, &status, &count); err != nil {
			return nil, err
		}
		i, ok := index[dev]
		if !ok {
			i = len(res)
			index[dev] = i
			res = append(res, DeveloperSummary{DeveloperID: dev, ByStatus: map[string]int{}})
		}
		res[i].ByStatus[status] += count
		res[i].Total += count
	}
	return res, rows.Err()
}

// LatestEvents returns the event log newest-first.
func (r Repo) LatestEvents(ctx context.Context, limit int, taskCode, evtType string) ([]Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if taskCode != "" {
		clauses = append(clauses, "task_code=?")
		args = append(args, taskCode)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,task_code,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var e Event
		var taskCode, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &taskCode, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.TaskCode = taskCode.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// Event is one event-log row.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TaskCode   string `json:"task_code,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// --- scan/encode helpers ---

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var assignedBy, assignedTo, deliveryType, platformType, sampleVolume, completedDate sql.NullString
	var sowFiles, sowURLs, inFiles, inURLs, schFiles, schURLs, outFiles, outURLs, subJSON sql.NullString
	var sampleRequired int
	err := scan(&t.Code, &t.Title, &t.Description, &assignedBy, &assignedTo, &deliveryType, &platformType,
		&sampleRequired, &sampleVolume, &t.Status, &t.AssignedDate, &t.TargetDate, &completedDate,
		&sowFiles, &sowURLs, &inFiles, &inURLs, &schFiles, &schURLs,
		&outFiles, &outURLs, &subJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.AssignedBy = assignedBy.String
	t.AssignedTo = assignedTo.String
	t.DeliveryType = deliveryType.String
	t.PlatformType = platformType.String
	t.SampleRequired = sampleRequired != 0
	t.SampleVolume = sampleVolume.String
	if completedDate.Valid {
		t.CompletedDate = &completedDate.String
	}
	t.SOW = domain.AttachmentSet{Files: decodeArray(sowFiles), URLs: decodeArray(sowURLs)}
	t.Input = domain.AttachmentSet{Files: decodeArray(inFiles), URLs: decodeArray(inURLs)}
	t.ClientSchema = domain.AttachmentSet{Files: decodeArray(schFiles), URLs: decodeArray(schURLs)}
	t.Output = domain.AttachmentSet{Files: decodeArray(outFiles), URLs: decodeArray(outURLs)}
	t.Submission = decodeSubmission(subJSON)
	return t, nil
}

func jsonArray(in []string) any {
	if len(in) == 0 {
		return nil
	}
	b, _ := json.Marshal(in)
	return string(b)
}

func jsonValue(v any) any {
	switch val := v.(type) {
	case *domain.Submission:
		if val == nil {
			return nil
		}
	case *domain.UploadRecord:
		if val == nil {
			return nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func decodeArray(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var arr []string
	if err := json.Unmarshal([]byte(raw.String), &arr); err != nil {
		return nil
	}
	return arr
}

func decodeSubmission(raw sql.NullString) *domain.Submission {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var s domain.Submission
	if err := json.Unmarshal([]byte(raw.String), &s); err != nil {
		return nil
	}
	return &s
}

func decodeUpload(raw sql.NullString) *domain.UploadRecord {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var u domain.UploadRecord
	if err := json.Unmarshal([]byte(raw.String), &u); err != nil {
		return nil
	}
	return &u
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
