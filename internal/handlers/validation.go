package handlers

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/smarttransit/seat-booking-core/internal/models"
	phone "github.com/smarttransit/seat-booking-core/pkg/validator"
)

// RegisterValidators adds the booking tags (seatnumber, gender, lkphone) to
// gin's binding engine. Call once before serving.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding engine %T", binding.Validator.Engine())
	}

	rules := map[string]validator.Func{
		"seatnumber": func(fl validator.FieldLevel) bool {
			return models.IsValidSeatNumber(strings.ToUpper(strings.TrimSpace(fl.Field().String())))
		},
		"gender": func(fl validator.FieldLevel) bool {
			_, err := models.ParseGender(fl.Field().String())
			return err == nil
		},
		"lkphone": func(fl validator.FieldLevel) bool {
			_, err := phone.NormalizePhone(fl.Field().String())
			return err == nil
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}
