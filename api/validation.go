package api

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// CreateTodoRequest is the normalized payload of a create request.
type CreateTodoRequest struct {
	Title    string `json:"title" validate:"required,min=1,max=50"`
	Content  string `json:"content" validate:"required,min=1,max=50"`
	Author   string `json:"author" validate:"required,min=1,max=50"`
	Password string `json:"password" validate:"required,min=1,max=50"`
}

// createTodoFields lists the schema keys in the order they are checked.
var createTodoFields = []struct {
	key   string
	field string
}{
	{"title", "Title"},
	{"content", "Content"},
	{"author", "Author"},
	{"password", "Password"},
}

// ValidationError reports the first constraint a payload violated.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var (
	validate = validator.New()
	trans    ut.Translator
)

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	locale := en.New()
	trans, _ = ut.New(locale, locale).GetTranslator(locale.Locale())
	for tag, msg := range map[string]string{
		"required": `"{0}" is not allowed to be empty`,
		"min":      `"{0}" length must be at least {1} characters long`,
		"max":      `"{0}" length must be less than or equal to {1} characters long`,
	} {
		if err := registerTranslation(tag, msg); err != nil {
			panic(err)
		}
	}
}

func registerTranslation(tag, msg string) error {
	return validate.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, msg, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, err := ut.T(fe.Tag(), fe.Field(), fe.Param())
			if err != nil {
				return fe.Error()
			}
			return t
		},
	)
}

// ValidateCreateTodo checks the raw body of a create request. Keys are
// checked in schema order and the first violation is returned; unknown
// keys are rejected after the known ones pass.
func ValidateCreateTodo(body map[string]any) (CreateTodoRequest, error) {
	var req CreateTodoRequest
	target := reflect.ValueOf(&req).Elem()

	shapeErrs := make(map[string]*ValidationError, len(createTodoFields))
	for _, f := range createTodoFields {
		raw, ok := body[f.key]
		if !ok {
			shapeErrs[f.key] = &ValidationError{Field: f.key, Rule: "required", Message: fmt.Sprintf(`"%s" is required`, f.key)}
			continue
		}
		s, ok := raw.(string)
		if !ok {
			shapeErrs[f.key] = &ValidationError{Field: f.key, Rule: "string", Message: fmt.Sprintf(`"%s" must be a string`, f.key)}
			continue
		}
		target.FieldByName(f.field).SetString(s)
	}

	ruleErrs := map[string]validator.FieldError{}
	if err := validate.Struct(req); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return CreateTodoRequest{}, err
		}
		for _, fe := range errs {
			ruleErrs[fe.StructField()] = fe
		}
	}

	for _, f := range createTodoFields {
		if verr, ok := shapeErrs[f.key]; ok {
			return CreateTodoRequest{}, verr
		}
		if fe, ok := ruleErrs[f.field]; ok {
			return CreateTodoRequest{}, &ValidationError{Field: f.key, Rule: fe.Tag(), Message: fe.Translate(trans)}
		}
	}

	var unknown []string
	for key := range body {
		if !isCreateTodoField(key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return CreateTodoRequest{}, &ValidationError{Field: unknown[0], Rule: "unknown", Message: fmt.Sprintf(`"%s" is not allowed`, unknown[0])}
	}
	return req, nil
}

func isCreateTodoField(key string) bool {
	for _, f := range createTodoFields {
		if f.key == key {
			return true
		}
	}
	return false
}
