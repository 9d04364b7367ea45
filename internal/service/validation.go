package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
)

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var validate = newValidator()

// validateStruct runs the struct tags and converts failures into a ValidationError.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &appErrors.ValidationError{Fields: map[string]string{}}
	for _, fe := range verrs {
		out.Fields[fieldPath(fe.Namespace())] = validationMessage(fe)
	}
	return out
}

// fieldPath drops the root struct name: "CreateCampaignInput.targeting.mode" -> "targeting.mode".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " item(s)"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "failed " + fe.Tag() + " validation"
}

func addField(err *appErrors.ValidationError, field, msg string) *appErrors.ValidationError {
	if err == nil {
		err = &appErrors.ValidationError{Fields: map[string]string{}}
	}
	err.Fields[field] = msg
	return err
}
