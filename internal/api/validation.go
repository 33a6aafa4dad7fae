package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"parkledger/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) Error() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

type FieldErrors []FieldError

func (v FieldErrors) Error() string {
	messages := make([]string, 0, len(v))
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

func (v FieldErrors) Unwrap() error {
	return domain.ErrValidation
}

type createBookingRequest struct {
	LotID      int64     `json:"lot_id" validate:"required,gt=0"`
	VehicleRef string    `json:"vehicle_ref" validate:"required,max=32"`
	EntryTime  time.Time `json:"entry_time" validate:"required"`
	ExitTime   time.Time `json:"exit_time" validate:"required,gtfield=EntryTime"`
}

type createLotRequest struct {
	ID           int64           `json:"id" validate:"required,gt=0"`
	Name         string          `json:"name" validate:"required,max=128"`
	Address      string          `json:"address" validate:"max=256"`
	Pincode      string          `json:"pincode" validate:"omitempty,numeric,max=10"`
	PricePerHour decimal.Decimal `json:"price_per_hour" validate:"gte=0"`
	Capacity     int             `json:"capacity" validate:"gte=0,max=10000"`
	Spots        []int           `json:"spots" validate:"omitempty,unique,dive,gt=0"`
}

type updateRateRequest struct {
	PricePerHour *decimal.Decimal `json:"price_per_hour" validate:"required,gte=0"`
}

// requestValidator reports struct tag failures by JSON field name.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Rates are compared as numbers; the decimal itself is what gets stored.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return &requestValidator{validate: v}
}

func (r *requestValidator) Struct(s any) error {
	err := r.validate.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return translateValidationErrors(validationErrs)
	}
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}

func translateValidationErrors(errs validator.ValidationErrors) FieldErrors {
	out := make(FieldErrors, 0, len(errs))
	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "gt":
			message = fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
		case "gte":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "gtfield":
			message = fmt.Sprintf("%s must be after %s", err.Field(), err.Param())
		case "unique":
			message = fmt.Sprintf("%s must not contain duplicates", err.Field())
		case "numeric":
			message = fmt.Sprintf("%s must be numeric", err.Field())
		}

		out = append(out, FieldError{Field: err.Field(), Message: message})
	}
	return out
}
