package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Currency string `json:"currency" validate:"required,len=3"`
	Items    []struct {
		Description string `json:"description" validate:"required"`
	} `json:"items" validate:"dive"`
}

func TestFieldErrorsFirstMessageWins(t *testing.T) {
	errs := FieldErrors{}
	errs.Add("taxRate", "first")
	errs.Add("taxRate", "second")
	assert.Equal(t, "first", errs["taxRate"])

	errs.Merge("items[0]", FieldErrors{"rate": "Cannot be negative"})
	assert.Equal(t, "Cannot be negative", errs["items[0].rate"])
	assert.False(t, errs.Valid())
	assert.Equal(t, "validation failed: items[0].rate: Cannot be negative; taxRate: first", errs.Error())
}

func TestAsFieldErrorsUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("create: %w", FieldErrors{"a": "b"})
	fe, ok := AsFieldErrors(wrapped)
	require.True(t, ok)
	assert.Equal(t, "b", fe["a"])

	_, ok = AsFieldErrors(errors.New("plain"))
	assert.False(t, ok)
}

func TestFromValidatorUsesJSONNames(t *testing.T) {
	req := sampleRequest{Currency: "EURO"}
	req.Items = append(req.Items, struct {
		Description string `json:"description" validate:"required"`
	}{})
	errs := FromValidator(NewValidator().Struct(req))
	assert.Equal(t, "Must be exactly 3 characters", errs["currency"])
	assert.Equal(t, "This field is required", errs["items[0].description"])
}
