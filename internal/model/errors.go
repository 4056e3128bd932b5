package model

import (
	"errors"
	"fmt"
)

var (
	ErrSchemaViolation        = errors.New("schema violation")
	ErrDuplicateExtensionName = errors.New("duplicate extension name")
	ErrPositionOutOfRange     = errors.New("position out of range")
)

// SchemaViolation reports a node that breaks a content or mark constraint.
type SchemaViolation struct {
	Path     string
	NodeType string
	Reason   string
}

func (e *SchemaViolation) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("schema violation: %s: %s", e.NodeType, e.Reason)
	}
	return fmt.Sprintf("schema violation at %s: %s", e.Path, e.Reason)
}

func (e *SchemaViolation) Is(target error) bool { return target == ErrSchemaViolation }

// DuplicateNameError reports two types registered under one name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate extension name %q", e.Name)
}

func (e *DuplicateNameError) Is(target error) bool { return target == ErrDuplicateExtensionName }

func outOfRange(pos, size int) error {
	return fmt.Errorf("%w: %d not in [0,%d]", ErrPositionOutOfRange, pos, size)
}
