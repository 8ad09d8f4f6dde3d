/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package crpt

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	var ok bool
	if translator, ok = ut.New(en.New(), en.New()).GetTranslator("en"); !ok {
		panic("crpt: failed to get 'en' translator")
	}
	if err := entranslations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegisterValidation("inn", isINN, "{0} must be a 10 or 12 digit INN")
	mustRegisterValidation("tnved", isTNVED, "{0} must be a 10 digit TNVED code")
}

func mustRegisterValidation(tag string, fn validator.Func, message string) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
	if err := validate.RegisterTranslation(tag, translator,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, err := ut.T(tag, fe.Field())
			if err != nil {
				return fe.Error()
			}
			return t
		},
	); err != nil {
		panic(err)
	}
}

func isINN(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return (len(s) == 10 || len(s) == 12) && isDigits(s)
}

func isTNVED(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return len(s) == 10 && isDigits(s)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ValidateDocument checks the document fields and returns *ValidationError if any of them is invalid.
func ValidateDocument(doc *Document) error {
	if fields := documentFieldErrors(doc); len(fields) != 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validateSubmission(doc *Document, signature string) error {
	fields := documentFieldErrors(doc)
	if signature == "" {
		fields = append(fields, FieldError{Field: "signature", Err: "signature is a required field"})
	}
	if len(fields) != 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func documentFieldErrors(doc *Document) []FieldError {
	if doc == nil {
		return []FieldError{{Field: "document", Err: "document is a required field"}}
	}
	err := validate.Struct(doc)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "document", Err: err.Error()}}
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, verr := range verrs {
		fields = append(fields, FieldError{Field: fieldPath(verr.Namespace()), Err: verr.Translate(translator)})
	}
	return fields
}

// fieldPath strips the root struct name from the validator namespace ("Document.products[0].tnved_code").
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
