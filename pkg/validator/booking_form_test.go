package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validForm() BookingForm {
	return BookingForm{
		Name:         "Budi Santoso",
		Email:        "budi@example.com",
		Phone:        "081234567890",
		Address:      "Jl. Merdeka No. 1, Jakarta",
		PackageID:    "pkg-1",
		Participants: 2,
		StartDate:    "2024-06-01",
		EndDate:      "2024-06-03",
	}
}

func TestBookingFormValidator_Valid(t *testing.T) {
	v := NewBookingFormValidator()
	assert.NoError(t, v.Validate(validForm()))

	sameDay := validForm()
	sameDay.EndDate = sameDay.StartDate
	assert.NoError(t, v.Validate(sameDay))
}

func TestBookingFormValidator_FieldErrors(t *testing.T) {
	v := NewBookingFormValidator()

	tests := []struct {
		name    string
		mutate  func(f *BookingForm)
		field   string
		message string
	}{
		{"missing name", func(f *BookingForm) { f.Name = "  " }, "name", "Name is required"},
		{"missing email", func(f *BookingForm) { f.Email = "" }, "email", "Email is required"},
		{"bad email", func(f *BookingForm) { f.Email = "budi@example" }, "email", "Email format is invalid"},
		{"bad phone", func(f *BookingForm) { f.Phone = "12345" }, "phone", "Phone number must start with +62, 62 or 0 followed by 9-12 digits"},
		{"missing address", func(f *BookingForm) { f.Address = "" }, "address", "Address is required"},
		{"missing package", func(f *BookingForm) { f.PackageID = "" }, "packageId", "Please choose a tour package"},
		{"zero participants", func(f *BookingForm) { f.Participants = 0 }, "jumlahPeserta", "At least one participant is required"},
		{"missing schedule", func(f *BookingForm) { f.StartDate = "" }, "startDate", "Please choose a schedule"},
		{"bad date", func(f *BookingForm) { f.EndDate = "03/06/2024" }, "endDate", "Date must use the YYYY-MM-DD format"},
		{"end before start", func(f *BookingForm) { f.EndDate = "2024-05-30" }, "endDate", "End date cannot be before start date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validForm()
			tt.mutate(&form)

			err := v.Validate(form)
			require.Error(t, err)

			formErrs, ok := IsFormErrors(err)
			require.True(t, ok, "error should be FormErrors")
			assert.Equal(t, tt.message, formErrs[tt.field])
			assert.Len(t, formErrs, 1)
		})
	}
}

func TestBookingFormValidator_MultipleErrors(t *testing.T) {
	v := NewBookingFormValidator()

	err := v.Validate(BookingForm{})
	formErrs, ok := IsFormErrors(err)
	require.True(t, ok)

	for _, field := range []string{"name", "email", "phone", "address", "packageId", "jumlahPeserta", "startDate", "endDate"} {
		assert.Contains(t, formErrs, field)
	}
	assert.Contains(t, err.Error(), "invalid booking form")
}

func TestBookingFormValidator_NormalizePhone(t *testing.T) {
	v := NewBookingFormValidator()

	phone, err := v.NormalizePhone("0812-3456-7890")
	require.NoError(t, err)
	assert.Equal(t, "+6281234567890", phone)

	_, err = v.NormalizePhone("12345")
	assert.ErrorIs(t, err, ErrInvalidPrefix)
}
