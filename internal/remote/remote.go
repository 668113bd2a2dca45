// Package remote describes records as the backing service stores them.
// Field names and status vocabularies evolved independently of package model.
package remote

import "time"

// Card statuses as stored remotely.
const (
	CardActivated   = "activated"
	CardUnactivated = "unactivated"
)

// Card is a row of the cards table.
type Card struct {
	ID               string
	ControlNumber    string
	PatientName      string
	PatientEmail     *string
	PatientPhone     *string
	AssignedClinicID *string
	Status           string
	ExpiryDate       *time.Time
	CreatedAt        time.Time
}

// Clinic subscription statuses as stored remotely.
const (
	ClinicSubscribed   = "subscribed"
	ClinicUnsubscribed = "unsubscribed"
	ClinicSuspended    = "suspended"
)

// Clinic is a row of the clinics table. Password columns never leave the remote layer.
type Clinic struct {
	ID                 string
	ClinicName         string
	ClinicCode         string
	Region             *string
	Address            *string
	ContactNumber      *string
	Email              *string
	SubscriptionStatus string
	PasswordHash       []byte
	PasswordSalt       []byte
	CreatedAt          time.Time
}

// Appointment statuses as stored remotely.
const (
	AppointmentWaitingForApproval = "waiting_for_approval"
	AppointmentApproved           = "approved"
	AppointmentPendingReschedule  = "pending_reschedule"
	AppointmentApprovedReschedule = "approved_reschedule"
	AppointmentCancelled          = "cancelled"
	AppointmentCompleted          = "completed"
)

// Appointment is a row of the appointments table.
type Appointment struct {
	ID                string
	CardControlNumber string
	ClinicID          string
	PatientName       string
	AppointmentDate   time.Time
	RescheduleDate    *time.Time
	ServiceType       string
	Notes             *string
	Status            string
	CreatedAt         time.Time
}

// Perk types as stored remotely.
const (
	PerkConsultation = "consultation"
	PerkCleaning     = "cleaning"
	PerkXray         = "xray"
	PerkDiscount     = "discount"
	PerkService      = "service"
)

// Perk is a row of the perks table.
type Perk struct {
	ID          string
	PerkName    string
	Description *string
	Type        string
	PerkValue   float64
	ValidUntil  *time.Time
	IsActive    bool
	CreatedAt   time.Time
}

// Redemption statuses as stored remotely.
const (
	RedemptionPending = "pending"
	RedemptionClaimed = "claimed"
	RedemptionVoid    = "void"
)

// PerkRedemption is a row of the perk_redemptions table.
type PerkRedemption struct {
	ID                string
	CardControlNumber string
	PerkID            string
	PerkName          string
	ClinicID          string
	ClaimedAt         time.Time
	Notes             *string
	Status            string
}
