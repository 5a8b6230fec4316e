package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mossy-p/telecare-signaling/internal/apperr"
	"github.com/samber/lo"
)

var validate = validator.New()

// Validate checks the struct tags of a request body and reports failures
// as a ValidationError naming each offending field.
func Validate(data any) error {
	err := validate.Struct(data)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Wrap(apperr.ValidationError, err, "invalid request")
	}

	problems := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	})
	return apperr.New(apperr.ValidationError, "invalid request: "+strings.Join(problems, ", "))
}
