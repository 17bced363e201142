package models

import (
	"time"

	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
)

// RecordPatch is a partial update. Nil fields are left untouched, metadata
// keys are merged, new tags are added, and task refs and history entries
// are appended.
type RecordPatch struct {
	Title         *string
	Status        *lifecycle.State
	ClientName    *string
	ClientContact *string
	ReceivedDate  *string
	DueDate       *string
	Industry      *string
	Size          *string
	Tags          []string
	Metadata      map[string]interface{}
	AppendTasks   []TaskRef
	AppendHistory []Event
}

// Empty reports whether applying p would change nothing.
func (p RecordPatch) Empty() bool {
	return p.Title == nil && p.Status == nil && p.ClientName == nil &&
		p.ClientContact == nil && p.ReceivedDate == nil && p.DueDate == nil &&
		p.Industry == nil && p.Size == nil && p.Tags == nil &&
		len(p.Metadata) == 0 && len(p.AppendTasks) == 0 && len(p.AppendHistory) == 0
}

// Apply mutates r in place.
func (p RecordPatch) Apply(r *Record, now time.Time) {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ClientName != nil {
		r.Client.Name = *p.ClientName
	}
	if p.ClientContact != nil {
		r.Client.Contact = *p.ClientContact
	}
	if p.ReceivedDate != nil {
		r.Timeline.ReceivedDate = *p.ReceivedDate
	}
	if p.DueDate != nil {
		r.Timeline.DueDate = *p.DueDate
	}
	if p.Industry != nil {
		r.Metadata.Industry = *p.Industry
	}
	if p.Size != nil {
		r.Metadata.Size = *p.Size
	}
	for _, tag := range p.Tags {
		if !containsString(r.Metadata.Tags, tag) {
			r.Metadata.Tags = append(r.Metadata.Tags, tag)
		}
	}
	if len(p.Metadata) > 0 {
		if r.Metadata.Extra == nil {
			r.Metadata.Extra = make(map[string]interface{}, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			r.Metadata.Extra[k] = cloneValue(v)
		}
	}
	for _, ref := range p.AppendTasks {
		r.Tasks = append(r.Tasks, ref)
	}
	for _, ev := range p.AppendHistory {
		r.History = append(r.History, ev.Clone())
	}
	r.UpdatedAt = now
}

// WorkItemPatch is a partial update of a work item. Metadata keys are merged.
type WorkItemPatch struct {
	Status       *WorkItemStatus
	AssignedTeam *string
	Title        *string
	Description  *string
	Metadata     map[string]interface{}
	Embedding    []float32
}

// Apply mutates w in place.
func (p WorkItemPatch) Apply(w *WorkItem, now time.Time) {
	if p.Status != nil {
		w.Status = *p.Status
	}
	if p.AssignedTeam != nil {
		w.AssignedTeam = *p.AssignedTeam
	}
	if p.Title != nil {
		w.Title = *p.Title
	}
	if p.Description != nil {
		w.Description = *p.Description
	}
	if len(p.Metadata) > 0 {
		if w.Metadata == nil {
			w.Metadata = make(map[string]interface{}, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			w.Metadata[k] = cloneValue(v)
		}
	}
	if p.Embedding != nil {
		w.Embedding = append([]float32(nil), p.Embedding...)
	}
	w.UpdatedAt = now
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
