package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// AppointmentStatus is the lifecycle state of a booking
type AppointmentStatus string

// Appointment statuses
const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// ScheduleRequest asks for a service appointment covering findings
type ScheduleRequest struct {
	PreferredDate string    `json:"preferred_date" validate:"required"`
	UserEmail     string    `json:"user_email" validate:"required,email"`
	Findings      []Finding `json:"findings" validate:"required,min=1"`
	VIN           string    `json:"vin,omitempty"`
}

// Validate validates the ScheduleRequest using the validator.
func (r *ScheduleRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Appointment is a booked service slot
type Appointment struct {
	ID              uuid.UUID         `json:"id"`
	UserID          string            `json:"user_id"`
	Date            time.Time         `json:"appointment_date"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          AppointmentStatus `json:"status"`
	VIN             string            `json:"vin,omitempty"`
	Findings        []Finding         `json:"findings"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Booking is the result of a successful scheduling call
type Booking struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Date          time.Time `json:"appointment_date"`
	Message       string    `json:"message"`
}
