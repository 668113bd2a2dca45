// Package model defines the canonical domain entities the application programs against.
package model

import "time"

// CardStatus is the canonical loyalty-card status.
type CardStatus string

const (
	CardActive   CardStatus = "active"
	CardInactive CardStatus = "inactive"
)

// Card is an issued loyalty card.
type Card struct {
	ID            string
	ControlNumber string
	PatientName   string
	PatientEmail  string
	PatientPhone  string
	ClinicID      string // empty when unassigned
	Status        CardStatus
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// ClinicStatus is the canonical clinic subscription status.
type ClinicStatus string

const (
	ClinicActive    ClinicStatus = "active"
	ClinicInactive  ClinicStatus = "inactive"
	ClinicSuspended ClinicStatus = "suspended"
)

// Clinic is a partner clinic with portal access.
type Clinic struct {
	ID            string
	Name          string
	Code          string
	Region        string
	Address       string
	ContactNumber string
	Email         string
	Status        ClinicStatus
	CreatedAt     time.Time
}

// AppointmentStatus is the canonical appointment status.
type AppointmentStatus string

const (
	AppointmentPending     AppointmentStatus = "pending"
	AppointmentAccepted    AppointmentStatus = "accepted"
	AppointmentDeclined    AppointmentStatus = "declined"
	AppointmentRescheduled AppointmentStatus = "rescheduled"
	AppointmentCompleted   AppointmentStatus = "completed"
	AppointmentCancelled   AppointmentStatus = "cancelled"
)

// Appointment is a booking made with a card at a clinic.
type Appointment struct {
	ID                string
	CardControlNumber string
	ClinicID          string
	PatientName       string
	ScheduledAt       time.Time
	RescheduledAt     time.Time // zero unless a reschedule was proposed
	ServiceType       string
	Notes             string
	Status            AppointmentStatus
	CreatedAt         time.Time
}

// PerkType is the coarse perk category.
type PerkType string

const (
	PerkConsultation PerkType = "consultation"
	PerkCleaning     PerkType = "cleaning"
	PerkXray         PerkType = "xray"
	PerkDiscount     PerkType = "discount"
	PerkService      PerkType = "service"
)

// Perk is a benefit a card holder can redeem.
type Perk struct {
	ID          string
	Name        string
	Description string
	Type        PerkType
	Value       float64
	ValidUntil  time.Time
	Active      bool
	CreatedAt   time.Time
}

// RedemptionStatus is the canonical perk-redemption status.
type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionRedeemed  RedemptionStatus = "redeemed"
	RedemptionCancelled RedemptionStatus = "cancelled"
)

// PerkRedemption records a perk claimed with a card at a clinic.
type PerkRedemption struct {
	ID                string
	CardControlNumber string
	PerkID            string
	PerkName          string
	ClinicID          string
	RedeemedAt        time.Time
	Notes             string
	Status            RedemptionStatus
}
