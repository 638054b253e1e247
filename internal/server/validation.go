package server

import (
	"errors"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"carbonledger/internal/api"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Decimals are validated through their string form.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		switch d := field.Interface().(type) {
		case decimal.Decimal:
			return d.String()
		case decimal.NullDecimal:
			if !d.Valid {
				return ""
			}
			return d.Decimal.String()
		}
		return nil
	}, decimal.Decimal{}, decimal.NullDecimal{})

	_ = v.RegisterValidation("decimal_positive", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive()
	})
	_ = v.RegisterValidation("decimal_nonnegative", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && !d.IsNegative()
	})

	return v
}

// ValidateStruct validates a struct and returns formatted errors
func ValidateStruct(s interface{}) []api.ValidationError {
	var out []api.ValidationError

	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []api.ValidationError{{Field: "", Tag: "invalid", Message: err.Error()}}
	}
	for _, fe := range fieldErrs {
		out = append(out, api.ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: getErrorMessage(fe),
		})
	}
	return out
}

func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "max":
		return err.Field() + " must be at most " + err.Param() + " characters"
	case "len":
		return err.Field() + " must be exactly " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "decimal_positive":
		return err.Field() + " must be a positive number"
	case "decimal_nonnegative":
		return err.Field() + " must not be negative"
	default:
		return err.Field() + " is invalid"
	}
}

func RespondWithValidationErrors(c *gin.Context, errs []api.ValidationError) {
	c.JSON(http.StatusBadRequest, api.ValidationErrorResponse{
		Error:   "validation failed",
		Details: errs,
	})
}

// bindJSON decodes and validates the body into dst. On failure the response
// has been written and false is returned.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
		return false
	}
	if errs := ValidateStruct(dst); len(errs) > 0 {
		RespondWithValidationErrors(c, errs)
		return false
	}
	return true
}
