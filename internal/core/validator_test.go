package core

import (
	"errors"
	"testing"

	"fitpass/internal/types"
)

type changePlanForm struct {
	Plan   string `validate:"required,min=1,max=64"`
	Reason string `validate:"omitempty,max=500"`
}

func TestValidateStruct_Success(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(changePlanForm{Plan: "premium"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateStruct_Failure_ReturnsAppErrorWithFieldDetails(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(changePlanForm{Plan: ""})
	if err == nil {
		t.Fatal("expected validation error")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeValidationMissingField {
		t.Errorf("expected %s, got %s", types.ErrCodeValidationMissingField, appErr.Code)
	}
	if appErr.Details["Plan"] != "required" {
		t.Errorf("expected Plan->required detail, got %v", appErr.Details)
	}
}

func TestValidateStruct_MaxLength(t *testing.T) {
	v := NewValidator(nil)

	long := make([]byte, 501)
	for i := range long {
		long[i] = 'x'
	}

	err := v.ValidateStruct(changePlanForm{Plan: "basic", Reason: string(long)})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Details["Reason"] != "max" {
		t.Errorf("expected Reason->max detail, got %v", appErr.Details)
	}
}
