package validator

import (
	"fmt"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"github.com/jwalitptl/election-api/pkg/errors"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
	ValidateField(field string, value interface{}, rules ...string) error
}

type validator struct {
	v *playground.Validate
}

func New() Validator {
	return &validator{v: playground.New()}
}

// Validate checks struct tags and folds every violation into one BadRequest.
func (v *validator) Validate(obj interface{}) error {
	if err := v.v.Struct(obj); err != nil {
		return errors.BadRequest(describe(err), err)
	}
	return nil
}

func (v *validator) ValidateField(field string, value interface{}, rules ...string) error {
	if err := v.v.Var(value, strings.Join(rules, ",")); err != nil {
		return errors.BadRequest(fmt.Sprintf("%s: %s", field, describe(err)), err)
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(playground.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if name == "" {
			name = "value"
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", name))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", name, fe.Param()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email", name))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", name, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must not exceed %s", name, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", name, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
