package services

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	// phone: E.164 digits, the leading plus optional.
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return v.Var("+"+strings.TrimPrefix(fl.Field().String(), "+"), "e164") == nil
	})
	// mailbox: a bare address whose domain has at least one dot.
	_ = v.RegisterValidation("mailbox", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if v.Var(s, "email") != nil {
			return false
		}
		return strings.Contains(s[strings.LastIndex(s, "@")+1:], ".")
	})
	return v
}

var tagReasons = map[string]string{
	"required": "is required",
	"max":      "is too long",
	"min":      "is too short",
	"gte":      "must not be negative",
	"lte":      "is too large",
	"phone":    "must contain 7 to 15 digits",
	"mailbox":  "is not a valid address",
}

// ValidateStruct checks v against its validate tags. The first failing field
// comes back as a ConstraintError named after its json tag.
func ValidateStruct(v any) error {
	return constraintFrom(validate.Struct(v), "")
}

func validateVar(field string, value any, tag string) error {
	return constraintFrom(validate.Var(value, tag), field)
}

func constraintFrom(err error, field string) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if field == "" {
		field = fe.Field()
	}
	reason, ok := tagReasons[fe.Tag()]
	if !ok {
		reason = "failed " + fe.Tag() + " check"
	}
	return &ConstraintError{Field: field, Reason: reason}
}
