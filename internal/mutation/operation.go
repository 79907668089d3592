// Package mutation applies externally proposed edits to collections. Every
// operation is validated without touching storage, held until a human
// approves or rejects it, then applied with retry, propagated to derived
// collections, flushed and verified.
package mutation

import (
	"errors"
	"fmt"

	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/alexanderramin/dayplan/internal/repository"
	"github.com/alexanderramin/dayplan/internal/schema"
)

// OpType is the kind of edit an operation requests.
type OpType string

const (
	OpAdd    OpType = "add"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Operation is the wire form of one proposed edit.
type Operation struct {
	Type       OpType         `json:"type"`
	Collection string         `json:"collection"`
	ID         string         `json:"id,omitempty"`
	Query      map[string]any `json:"query,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func (op Operation) locator() repository.Locator {
	return repository.Locator{ID: op.ID, Query: op.Query}
}

// ErrorCode classifies why an operation did not apply.
type ErrorCode string

const (
	CodeInvalidShape      ErrorCode = "INVALID_OPERATION"
	CodeUnknownCollection ErrorCode = "UNKNOWN_COLLECTION"
	CodeInvalidContent    ErrorCode = "INVALID_CONTENT"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeDuplicateID       ErrorCode = "DUPLICATE_ID"
	CodeApplyFailed       ErrorCode = "APPLY_FAILED"
	CodeRejected          ErrorCode = "REJECTED"
	CodeInvalidOutput     ErrorCode = "INVALID_OUTPUT_FORMAT"
)

// OperationError is the caller-facing failure of one operation.
type OperationError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *OperationError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func opErrorf(code ErrorCode, format string, args ...any) *OperationError {
	return &OperationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// checkShape verifies the operation carries the fields its type needs.
func checkShape(op Operation) *OperationError {
	switch op.Type {
	case OpAdd, OpUpdate, OpDelete:
	case "":
		return opErrorf(CodeInvalidShape, "operation type is missing")
	default:
		return opErrorf(CodeInvalidShape, "unknown operation type %q", op.Type)
	}
	if op.Collection == "" {
		return opErrorf(CodeInvalidShape, "%s operation has no collection", op.Type)
	}
	if op.Type != OpDelete && op.Data == nil {
		return opErrorf(CodeInvalidShape, "%s operation requires data", op.Type)
	}
	if op.Type == OpUpdate && len(op.Data) == 0 {
		return opErrorf(CodeInvalidShape, "update operation has no fields to change")
	}
	if op.Type != OpAdd && op.ID == "" && len(op.Query) == 0 {
		return opErrorf(CodeInvalidShape, "%s operation requires an id or a query", op.Type)
	}
	return nil
}

// prepare runs structural and content validation. It is pure: nothing is
// read from or written to storage.
func prepare(op Operation) (domain.Target, domain.Record, *OperationError) {
	if err := checkShape(op); err != nil {
		return domain.Target{}, nil, err
	}
	t, err := domain.ResolveTarget(op.Collection)
	if err != nil {
		return domain.Target{}, nil, opErrorf(CodeUnknownCollection, "%v", err)
	}
	if op.Type == OpDelete {
		return t, nil, nil
	}

	mode := schema.ModeInsert
	if op.Type == OpUpdate {
		mode = schema.ModeUpdate
	}
	data, err := schema.Validate(t, domain.Record(op.Data), mode)
	if err == nil {
		err = schema.CheckContent(t, data)
	}
	if err != nil {
		return domain.Target{}, nil, contentError(err)
	}
	if op.Type == OpUpdate {
		// The located record keeps its id.
		delete(data, "id")
	}
	return t, data, nil
}

func contentError(err error) *OperationError {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return opErrorf(CodeInvalidContent, "%s", verr.Error())
	}
	return opErrorf(CodeInvalidContent, "%v", err)
}

// classify maps repository failures to operation errors. Deterministic
// failures come back as *OperationError; anything else is returned as is
// and treated as transient.
func classify(err error) error {
	var (
		opErr *OperationError
		verr  *schema.ValidationError
	)
	switch {
	case errors.As(err, &opErr):
		return opErr
	case errors.Is(err, repository.ErrDuplicateID):
		return opErrorf(CodeDuplicateID, "%v", err)
	case errors.Is(err, repository.ErrNotFound):
		return opErrorf(CodeNotFound, "%v", err)
	case errors.Is(err, repository.ErrUnknownCollection):
		return opErrorf(CodeUnknownCollection, "%v", err)
	case errors.As(err, &verr):
		return contentError(verr)
	}
	return err
}
