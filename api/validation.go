package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/municipal-wallet/wallet"
)

const maxBodyBytes = 1 << 20

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON names, not Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := v.RegisterValidation("positive_amount", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		d, err := decimal.NewFromString(s)
		return err == nil && d.IsPositive()
	}); err != nil {
		return nil, fmt.Errorf("register positive_amount: %w", err)
	}

	if err := v.RegisterValidation("nonnegative_amount", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		d, err := decimal.NewFromString(s)
		return err == nil && !d.IsNegative()
	}); err != nil {
		return nil, fmt.Errorf("register nonnegative_amount: %w", err)
	}
	return v, nil
}

func getValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidator()
	})
	return validate, errValidate
}

// validateStruct runs the tags on payload and reports the first failure as
// a wallet.ValidationError.
func validateStruct(payload any) error {
	v, err := getValidator()
	if err != nil {
		return err
	}
	if err := v.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fieldError(fieldErrs[0])
		}
		return err
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	field := fe.Field()
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "required"
	case "oneof":
		msg = "must be one of [" + fe.Param() + "]"
	case "max":
		msg = "must be at most " + fe.Param() + " characters"
	case "min":
		msg = "must be at least " + fe.Param()
	case "len":
		msg = "must be exactly " + fe.Param() + " characters"
	case "email":
		msg = "must be a valid email address"
	case "positive_amount":
		msg = "must be a positive decimal amount"
	case "nonnegative_amount":
		msg = "must be a non-negative decimal amount"
	default:
		msg = "failed " + fe.Tag() + " check"
	}
	return &wallet.ValidationError{Field: field, Message: msg}
}

// decodeAndValidate reads a JSON body into dst and validates it.
func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	// An empty body decodes as an empty object.
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &wallet.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return validateStruct(dst)
}
