package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	playground "github.com/go-playground/validator/v10"
)

// ScheduleDateLayout is the accepted tour date format
const ScheduleDateLayout = "2006-01-02"

// emailRegex is deliberately loose: something@something.tld
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// BookingForm is the customer-facing booking form
type BookingForm struct {
	Name         string `json:"name" validate:"required,max=100"`
	Email        string `json:"email" validate:"required,bookingemail"`
	Phone        string `json:"phone" validate:"required,idphone"`
	Address      string `json:"address" validate:"required,max=500"`
	PackageID    string `json:"packageId" validate:"required"`
	Participants int    `json:"jumlahPeserta" validate:"gte=1"`
	StartDate    string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate      string `json:"endDate" validate:"required,datetime=2006-01-02"`
}

// FormErrors maps a form field to a human-readable message
type FormErrors map[string]string

// Error implements error
func (e FormErrors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e[field]))
	}
	return "invalid booking form: " + strings.Join(parts, "; ")
}

// IsFormErrors extracts FormErrors from err
func IsFormErrors(err error) (FormErrors, bool) {
	var fe FormErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// BookingFormValidator validates booking forms before anything is sent to the backend
type BookingFormValidator struct {
	validate *playground.Validate
	phone    *PhoneValidator
}

// NewBookingFormValidator creates a validator with the booking-specific rules registered
func NewBookingFormValidator() *BookingFormValidator {
	v := &BookingFormValidator{
		validate: playground.New(),
		phone:    NewPhoneValidator(),
	}

	v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Registration only fails on programmer error (empty tag / nil func)
	_ = v.validate.RegisterValidation("idphone", func(fl playground.FieldLevel) bool {
		return v.phone.IsValid(fl.Field().String())
	})
	_ = v.validate.RegisterValidation("bookingemail", func(fl playground.FieldLevel) bool {
		return emailRegex.MatchString(strings.TrimSpace(fl.Field().String()))
	})

	v.validate.RegisterStructValidation(validateScheduleOrder, BookingForm{})

	return v
}

// validateScheduleOrder rejects a schedule that ends before it starts
func validateScheduleOrder(sl playground.StructLevel) {
	form := sl.Current().Interface().(BookingForm)

	start, errStart := time.Parse(ScheduleDateLayout, form.StartDate)
	end, errEnd := time.Parse(ScheduleDateLayout, form.EndDate)
	if errStart != nil || errEnd != nil {
		return
	}
	if end.Before(start) {
		sl.ReportError(form.EndDate, "endDate", "EndDate", "afterstart", "")
	}
}

// Validate checks the form and returns FormErrors when any field is invalid
func (v *BookingFormValidator) Validate(form BookingForm) error {
	form.Name = strings.TrimSpace(form.Name)
	form.Address = strings.TrimSpace(form.Address)
	form.PackageID = strings.TrimSpace(form.PackageID)

	err := v.validate.Struct(form)
	if err == nil {
		return nil
	}

	var validationErrs playground.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("failed to validate booking form: %w", err)
	}

	formErrs := make(FormErrors, len(validationErrs))
	for _, fe := range validationErrs {
		if _, exists := formErrs[fe.Field()]; exists {
			continue
		}
		formErrs[fe.Field()] = messageFor(fe)
	}
	return formErrs
}

// NormalizePhone returns a valid phone number in +62 form
func (v *BookingFormValidator) NormalizePhone(phone string) (string, error) {
	return v.phone.Normalize(phone)
}

func messageFor(fe playground.FieldError) string {
	switch fe.Field() {
	case "name":
		if fe.Tag() == "max" {
			return "Name is too long"
		}
		return "Name is required"
	case "email":
		if fe.Tag() == "required" {
			return "Email is required"
		}
		return "Email format is invalid"
	case "phone":
		if fe.Tag() == "required" {
			return "Phone number is required"
		}
		return "Phone number must start with +62, 62 or 0 followed by 9-12 digits"
	case "address":
		if fe.Tag() == "max" {
			return "Address is too long"
		}
		return "Address is required"
	case "packageId":
		return "Please choose a tour package"
	case "jumlahPeserta":
		return "At least one participant is required"
	case "startDate", "endDate":
		switch fe.Tag() {
		case "required":
			return "Please choose a schedule"
		case "afterstart":
			return "End date cannot be before start date"
		default:
			return "Date must use the YYYY-MM-DD format"
		}
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
