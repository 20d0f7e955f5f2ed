package server

import (
	"taskline/internal/domain"
	"taskline/internal/engine"
)

// Request payloads

type AttachmentSetRequest struct {
	Files []string `json:"files,omitempty"`
	URLs  []string `json:"urls,omitempty"`
}

func (r *AttachmentSetRequest) set() domain.AttachmentSet {
	if r == nil {
		return domain.AttachmentSet{}
	}
	return domain.AttachmentSet{Files: r.Files, URLs: r.URLs}
}

// AttachmentPatchRequest is one attachment field's delta. Kept lists the
// surviving references; an explicitly empty list clears the field. When the
// whole kept field is omitted the server keeps everything, shielding partial
// updates from the engine's no-survivors reading of a missing kept set.
type AttachmentPatchRequest struct {
	Kept     *[]string `json:"kept,omitempty"`
	AddFiles []string  `json:"add_files,omitempty"`
	AddURLs  []string  `json:"add_urls,omitempty"`
}

func (r *AttachmentPatchRequest) patch(prev domain.AttachmentSet) engine.AttachmentPatch {
	if r == nil {
		return engine.Preserve(prev)
	}
	kept := prev.Refs()
	if r.Kept != nil {
		kept = *r.Kept
	}
	return engine.AttachmentPatch{
		Kept:       kept,
		KeptSet:    true,
		AddedFiles: r.AddFiles,
		AddedURLs:  r.AddURLs,
	}
}

type CreateTaskRequest struct {
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	AssignedTo     string                `json:"assigned_to,omitempty"`
	DeliveryType   string                `json:"delivery_type,omitempty"`
	PlatformType   string                `json:"platform_type,omitempty"`
	SampleRequired bool                  `json:"sample_required,omitempty"`
	SampleVolume   string                `json:"sample_volume,omitempty"`
	TargetDate     string                `json:"target_date,omitempty" format:"date-time"`
	Domains        []string              `json:"domains,omitempty"`
	SOW            *AttachmentSetRequest `json:"sow,omitempty"`
	Input          *AttachmentSetRequest `json:"input,omitempty"`
	ClientSchema   *AttachmentSetRequest `json:"client_schema,omitempty"`
}

type UpdateTaskRequest struct {
	Title          *string                 `json:"title,omitempty"`
	Description    *string                 `json:"description,omitempty"`
	AssignedTo     *string                 `json:"assigned_to,omitempty"`
	DeliveryType   *string                 `json:"delivery_type,omitempty"`
	PlatformType   *string                 `json:"platform_type,omitempty"`
	SampleRequired *bool                   `json:"sample_required,omitempty"`
	SampleVolume   *string                 `json:"sample_volume,omitempty"`
	TargetDate     *string                 `json:"target_date,omitempty" format:"date-time"`
	Status         *string                 `json:"status,omitempty" enum:"pending,in-progress,submitted,delayed,in-R&D"`
	Domains        *[]string               `json:"domains,omitempty"`
	Developers     map[string][]string     `json:"developers,omitempty"`
	SOW            *AttachmentPatchRequest `json:"sow,omitempty"`
	Input          *AttachmentPatchRequest `json:"input,omitempty"`
	ClientSchema   *AttachmentPatchRequest `json:"client_schema,omitempty"`
	Output         *AttachmentPatchRequest `json:"output,omitempty"`
}

type SubmitRequest struct {
	Domains []string                `json:"domains,omitempty"`
	Payload map[string]any          `json:"payload,omitempty"`
	Output  *AttachmentPatchRequest `json:"output,omitempty"`
}

type OverrideRequest struct {
	Reason string               `json:"reason"`
	Upload *domain.UploadRecord `json:"upload,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty" enum:"lead,developer"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type TaskResponse struct {
	Code           string               `json:"code"`
	Title          string               `json:"title"`
	Description    string               `json:"description"`
	AssignedBy     string               `json:"assigned_by,omitempty"`
	AssignedTo     string               `json:"assigned_to,omitempty"`
	DeliveryType   string               `json:"delivery_type,omitempty"`
	PlatformType   string               `json:"platform_type,omitempty"`
	SampleRequired bool                 `json:"sample_required"`
	SampleVolume   string               `json:"sample_volume,omitempty"`
	Status         string               `json:"status" enum:"pending,in-progress,submitted,delayed,in-R&D"`
	AssignedDate   string               `json:"assigned_date" format:"date-time"`
	TargetDate     string               `json:"target_date" format:"date-time"`
	CompletedDate  *string              `json:"completed_date,omitempty" format:"date-time"`
	Domains        []domain.Domain      `json:"domains"`
	SOW            domain.AttachmentSet `json:"sow"`
	Input          domain.AttachmentSet `json:"input"`
	ClientSchema   domain.AttachmentSet `json:"client_schema"`
	Output         domain.AttachmentSet `json:"output"`
	Submission     *domain.Submission   `json:"submission,omitempty"`
	CreatedAt      string               `json:"created_at" format:"date-time"`
	UpdatedAt      string               `json:"updated_at" format:"date-time"`
}

// UpdateTaskResponse carries the task plus the domain names the request
// referenced that do not exist on it.
type UpdateTaskResponse struct {
	Task           TaskResponse `json:"task"`
	UnknownDomains []string     `json:"unknown_domains,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	TaskCode   string         `json:"task_code,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type StatusTotalsResponse struct {
	Totals      map[string]int `json:"totals"`
	DeveloperID string         `json:"developer_id,omitempty"`
}

type UploadResponse struct {
	Path         string `json:"path"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type,omitempty"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Conversion helpers

// taskResponse reports the derived overall status: an in-R&D domain wins,
// then a delayed one, otherwise the task's stored status.
func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		Code:           t.Code,
		Title:          t.Title,
		Description:    t.Description,
		AssignedBy:     t.AssignedBy,
		AssignedTo:     t.AssignedTo,
		DeliveryType:   t.DeliveryType,
		PlatformType:   t.PlatformType,
		SampleRequired: t.SampleRequired,
		SampleVolume:   t.SampleVolume,
		Status:         t.OverallStatus(),
		AssignedDate:   t.AssignedDate,
		TargetDate:     t.TargetDate,
		CompletedDate:  t.CompletedDate,
		Domains:        nonNilDomains(t.Domains),
		SOW:            t.SOW,
		Input:          t.Input,
		ClientSchema:   t.ClientSchema,
		Output:         t.Output,
		Submission:     t.Submission,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func nonNilDomains(in []domain.Domain) []domain.Domain {
	if in == nil {
		return []domain.Domain{}
	}
	return in
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
