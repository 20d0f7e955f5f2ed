package domain

// Domain and task lifecycle statuses. The two share one value set: a task's
// stored status only ever holds values a domain can hold, and the effective
// task status is derived from the domain population (see OverallStatus).
const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusSubmitted  = "submitted"
	StatusDelayed    = "delayed"
	StatusInRnD      = "in-R&D"
)

// Statuses lists every valid lifecycle status.
var Statuses = []string{StatusPending, StatusInProgress, StatusSubmitted, StatusDelayed, StatusInRnD}

func ValidStatus(s string) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// AttachmentSet holds one attachment field's stored references, split into
// content-store paths and external URLs. Only paths are ever deleted.
type AttachmentSet struct {
	Files []string `json:"files,omitempty"`
	URLs  []string `json:"urls,omitempty"`
}

// Refs returns the combined reference list, files first.
func (s AttachmentSet) Refs() []string {
	out := make([]string, 0, len(s.Files)+len(s.URLs))
	out = append(out, s.Files...)
	out = append(out, s.URLs...)
	return out
}

func (s AttachmentSet) Empty() bool {
	return len(s.Files) == 0 && len(s.URLs) == 0
}

// SplitRefs partitions references into a set by scheme prefix.
func SplitRefs(refs []string) AttachmentSet {
	var s AttachmentSet
	for _, r := range refs {
		if IsURL(r) {
			s.URLs = append(s.URLs, r)
		} else {
			s.Files = append(s.Files, r)
		}
	}
	return s
}

// Task is the aggregate root: one client engagement with an ordered set of
// delivery domains.
type Task struct {
	Code           string        `json:"code"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	AssignedBy     string        `json:"assigned_by,omitempty"`
	AssignedTo     string        `json:"assigned_to,omitempty"`
	DeliveryType   string        `json:"delivery_type,omitempty"`
	PlatformType   string        `json:"platform_type,omitempty"`
	SampleRequired bool          `json:"sample_required"`
	SampleVolume   string        `json:"sample_volume,omitempty"`
	Status         string        `json:"status"`
	AssignedDate   string        `json:"assigned_date" format:"date-time"`
	TargetDate     string        `json:"target_date" format:"date-time"`
	CompletedDate  *string       `json:"completed_date,omitempty" format:"date-time"`
	Domains        []Domain      `json:"domains"`
	SOW            AttachmentSet `json:"sow"`
	Input          AttachmentSet `json:"input"`
	ClientSchema   AttachmentSet `json:"client_schema"`
	Output         AttachmentSet `json:"output"`
	Submission     *Submission   `json:"submission,omitempty"`
	CreatedAt      string        `json:"created_at" format:"date-time"`
	UpdatedAt      string        `json:"updated_at" format:"date-time"`
}

// Domain is one delivery platform inside a task. It is owned by the task and
// persists/loads only as part of the aggregate.
type Domain struct {
	Name         string        `json:"name"`
	Status       string        `json:"status" enum:"pending,in-progress,submitted,delayed,in-R&D"`
	Reason       string        `json:"reason,omitempty"`
	CompleteDate *string       `json:"complete_date,omitempty" format:"date-time"`
	Upload       *UploadRecord `json:"upload,omitempty"`
	Developers   []string      `json:"developers"`
	Output       AttachmentSet `json:"output"`
	Submission   *Submission   `json:"submission,omitempty"`
}

// UploadRecord describes a single ad-hoc file attached on manual override.
type UploadRecord struct {
	FileName     string `json:"file_name"`
	OriginalName string `json:"original_name"`
	Path         string `json:"path"`
	MimeType     string `json:"mime_type,omitempty"`
	Size         int64  `json:"size"`
	UploadedAt   string `json:"uploaded_at" format:"date-time"`
}

// Submission is the canonical deliverable-reporting snapshot for one domain
// (or the task itself when the task has no domains). Each submit overwrites
// the previous snapshot in place.
type Submission struct {
	Countries     []string      `json:"countries,omitempty"`
	Volume        string        `json:"volume,omitempty"`
	DeliveryType  string        `json:"delivery_type,omitempty"`
	PlatformType  string        `json:"platform_type,omitempty"`
	Complexity    string        `json:"complexity,omitempty"`
	Method        string        `json:"method,omitempty"`
	LoginRequired bool          `json:"login_required"`
	Credentials   string        `json:"credentials,omitempty"`
	ProxyUsed     bool          `json:"proxy_used"`
	ProxyName     string        `json:"proxy_name,omitempty"`
	ProxyCredit   string        `json:"proxy_credit,omitempty"`
	ProxyRequests string        `json:"proxy_requests,omitempty"`
	Output        AttachmentSet `json:"output"`
	Remark        string        `json:"remark,omitempty"`
	GithubLink    string        `json:"github_link,omitempty"`
	Status        string        `json:"status"`
}

// FindDomain returns a pointer into t.Domains for the named domain, or nil.
func (t *Task) FindDomain(name string) *Domain {
	for i := range t.Domains {
		if t.Domains[i].Name == name {
			return &t.Domains[i]
		}
	}
	return nil
}

// OverallStatus derives the task's effective status from its domains:
// any in-R&D domain wins, then any delayed domain, otherwise the task's own
// stored status. A task with no domains reports its stored status.
func (t Task) OverallStatus() string {
	for _, d := range t.Domains {
		if d.Status == StatusInRnD {
			return StatusInRnD
		}
	}
	for _, d := range t.Domains {
		if d.Status == StatusDelayed {
			return StatusDelayed
		}
	}
	return t.Status
}

// AllDomainsSubmitted reports whether every domain has been submitted.
// False when the task has no domains.
func (t Task) AllDomainsSubmitted() bool {
	if len(t.Domains) == 0 {
		return false
	}
	for _, d := range t.Domains {
		if d.Status != StatusSubmitted {
			return false
		}
	}
	return true
}
