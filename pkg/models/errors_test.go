package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatchError_ErrorAndUnwrap(t *testing.T) {
	base := errors.New("boom")
	e := &DispatchError{DispatchID: "d-1", Operation: "run", Err: base}

	assert.Equal(t, "dispatch d-1 run: boom", e.Error())
	assert.ErrorIs(t, e, base)
}

func TestNodeError_ErrorAndUnwrap(t *testing.T) {
	base := errors.New("kaboom")
	e := &NodeError{DispatchID: "d-1", NodeID: "3", Err: base}

	assert.Equal(t, "dispatch d-1 node 3: kaboom", e.Error())
	assert.ErrorIs(t, e, base)
}

func TestNodeError_NoNodeID(t *testing.T) {
	e := &NodeError{DispatchID: "d-1", Err: errors.New("x")}
	assert.Equal(t, "dispatch d-1: x", e.Error())
}

func TestValidationError_Error(t *testing.T) {
	e := &ValidationError{Field: "name", Message: "is required"}
	assert.Equal(t, "name: is required", e.Error())
}

func TestValidationErrors_Error(t *testing.T) {
	var empty ValidationErrors
	assert.Equal(t, "validation failed", empty.Error())

	errs := ValidationErrors{{Field: "a", Message: "bad"}, {Field: "b", Message: "worse"}}
	assert.Equal(t, "a: bad", errs.Error())
}
