package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/corkboard-dev/corkboard/pkg/model"
)

// ErrorClass partitions durable-store failures into the classes the
// reconciliation rules distinguish.
type ErrorClass string

// Durable-store error classes.
const (
	ClassNotFound  ErrorClass = "not_found"
	ClassForbidden ErrorClass = "forbidden"
	ClassConflict  ErrorClass = "conflict"
	ClassTransient ErrorClass = "transient"
)

// StoreError is a classified durable-store failure.
type StoreError struct {
	Class   ErrorClass
	Op      string // Operation that failed, e.g. "update_element"
	Status  int    // HTTP status when applicable, 0 otherwise
	Message string
}

// Error returns the error message with classification.
func (e *StoreError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("board: %s: %s (status %d): %s", e.Op, e.Class, e.Status, e.Message)
	}
	return fmt.Sprintf("board: %s: %s: %s", e.Op, e.Class, e.Message)
}

// IsNotFound reports whether err is a NotFound store error.
func IsNotFound(err error) bool { return hasClass(err, ClassNotFound) }

// IsForbidden reports whether err is a Forbidden store error.
func IsForbidden(err error) bool { return hasClass(err, ClassForbidden) }

// IsConflict reports whether err is a Conflict store error.
func IsConflict(err error) bool { return hasClass(err, ClassConflict) }

// IsTransient reports whether err is a Transient store error.
func IsTransient(err error) bool { return hasClass(err, ClassTransient) }

func hasClass(err error, class ErrorClass) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Class == class
}

// ElementDraft is the payload for a durable create.
type ElementDraft struct {
	ProjectID string            `json:"projectId"`
	Type      model.ElementType `json:"type"`
	Position  model.Position    `json:"position"`
	Size      model.Size        `json:"size"`
	Content   string            `json:"content"`
	Style     model.Style       `json:"style,omitempty"`
	GroupRef  string            `json:"groupRef,omitempty"`
}

// ElementDelta is a sparse field patch for a durable update. Nil fields
// are untouched.
type ElementDelta struct {
	Position *model.Position `json:"position,omitempty"`
	Size     *model.Size     `json:"size,omitempty"`
	Content  *string         `json:"content,omitempty"`
	Style    model.Style     `json:"style,omitempty"`
	GroupRef *string         `json:"groupRef,omitempty"`
}

// Empty reports whether the delta touches no fields.
func (d *ElementDelta) Empty() bool {
	return d.Position == nil && d.Size == nil && d.Content == nil &&
		d.Style == nil && d.GroupRef == nil
}

// DurableStore is the external CRUD store the engine confirms mutations
// against. It is consumed, never reimplemented: implementations reach a
// remote service over request/response calls and classify failures into
// StoreError classes.
type DurableStore interface {
	CreateElement(ctx context.Context, draft ElementDraft) (*model.Element, error)
	UpdateElement(ctx context.Context, id string, delta ElementDelta) (*model.Element, error)
	DeleteElement(ctx context.Context, id string) error
	AddVote(ctx context.Context, elementID string) (*model.Vote, error)
	RemoveVote(ctx context.Context, elementID string) error
	ListElements(ctx context.Context, projectID string) ([]model.Element, error)
}
