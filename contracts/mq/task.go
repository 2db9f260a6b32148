package mq

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"

	"projectsync/pkg/errs"
)

const (
	// RoutingKeyTaskCreated is published by task-service after a task is persisted.
	RoutingKeyTaskCreated = "task.created"
	// QueueTaskCreated is the durable queue project-service consumes task events from.
	QueueTaskCreated = "task-queue"
)

// TaskCreatedPayload is the wire shape of a created task. Field names are part of the
// contract between task-service and project-service and must round-trip exactly.
type TaskCreatedPayload struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Observation     *string   `json:"observation"`
	HourlyRate      float64   `json:"hourlyRate"`
	Budget          float64   `json:"budget"`
	EstimatedHours  int       `json:"estimatedHours"`
	Active          bool      `json:"active"`
	OriginProjectID int64     `json:"originProjectID"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	TraceID         string    `json:"-"`
}

// taskCreatedWire mirrors TaskCreatedPayload with pointers so that absent fields are detectable.
type taskCreatedWire struct {
	ID              *int64     `json:"id"`
	Name            *string    `json:"name"`
	Description     *string    `json:"description"`
	Observation     *string    `json:"observation"`
	HourlyRate      *float64   `json:"hourlyRate"`
	Budget          *float64   `json:"budget"`
	EstimatedHours  *int       `json:"estimatedHours"`
	Active          *bool      `json:"active"`
	OriginProjectID *int64     `json:"originProjectID"`
	CreatedAt       *time.Time `json:"createdAt"`
	UpdatedAt       *time.Time `json:"updatedAt"`
}

// DecodeTaskCreated strictly decodes a task.created body. Unknown fields, trailing data and
// missing required fields all yield an *errs.MalformedEventError.
func DecodeTaskCreated(raw []byte) (TaskCreatedPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var w taskCreatedWire
	if err := dec.Decode(&w); err != nil {
		return TaskCreatedPayload{}, &errs.MalformedEventError{Reason: "decode", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return TaskCreatedPayload{}, &errs.MalformedEventError{Reason: "trailing data after payload"}
	}

	missing := func(field string) error {
		return &errs.MalformedEventError{Reason: "missing required field " + field}
	}
	switch {
	case w.ID == nil:
		return TaskCreatedPayload{}, missing("id")
	case w.Name == nil:
		return TaskCreatedPayload{}, missing("name")
	case w.HourlyRate == nil:
		return TaskCreatedPayload{}, missing("hourlyRate")
	case w.Budget == nil:
		return TaskCreatedPayload{}, missing("budget")
	case w.EstimatedHours == nil:
		return TaskCreatedPayload{}, missing("estimatedHours")
	case w.Active == nil:
		return TaskCreatedPayload{}, missing("active")
	case w.OriginProjectID == nil:
		return TaskCreatedPayload{}, missing("originProjectID")
	}

	p := TaskCreatedPayload{
		ID:              *w.ID,
		Name:            *w.Name,
		Observation:     w.Observation,
		HourlyRate:      *w.HourlyRate,
		Budget:          *w.Budget,
		EstimatedHours:  *w.EstimatedHours,
		Active:          *w.Active,
		OriginProjectID: *w.OriginProjectID,
	}
	if w.Description != nil {
		p.Description = *w.Description
	}
	if w.CreatedAt != nil {
		p.CreatedAt = *w.CreatedAt
	}
	if w.UpdatedAt != nil {
		p.UpdatedAt = *w.UpdatedAt
	}
	return p, nil
}
