package convert

import (
	"time"

	"github.com/and161185/carecard/internal/model"
	"github.com/and161185/carecard/internal/remote"
)

// --- helpers ---

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fromOptString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromOptTime(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}

// --- Card ---

// CardToRemote converts a canonical card to a cards row. An empty ClinicID becomes NULL.
func CardToRemote(c model.Card) remote.Card {
	return remote.Card{
		ID:               c.ID,
		ControlNumber:    c.ControlNumber,
		PatientName:      c.PatientName,
		PatientEmail:     optString(c.PatientEmail),
		PatientPhone:     optString(c.PatientPhone),
		AssignedClinicID: optString(c.ClinicID),
		Status:           CardStatusToRemote(c.Status),
		ExpiryDate:       optTime(c.ExpiresAt),
		CreatedAt:        c.CreatedAt,
	}
}

// CardFromRemote converts a cards row to the canonical card.
func CardFromRemote(r remote.Card) model.Card {
	return model.Card{
		ID:            r.ID,
		ControlNumber: r.ControlNumber,
		PatientName:   r.PatientName,
		PatientEmail:  fromOptString(r.PatientEmail),
		PatientPhone:  fromOptString(r.PatientPhone),
		ClinicID:      fromOptString(r.AssignedClinicID),
		Status:        CardStatusFromRemote(r.Status),
		ExpiresAt:     fromOptTime(r.ExpiryDate),
		CreatedAt:     r.CreatedAt,
	}
}

// --- Clinic ---

// ClinicToRemote converts a canonical clinic. Credential columns are left empty;
// they are only written by the credential provisioning path.
func ClinicToRemote(c model.Clinic) remote.Clinic {
	return remote.Clinic{
		ID:                 c.ID,
		ClinicName:         c.Name,
		ClinicCode:         c.Code,
		Region:             optString(c.Region),
		Address:            optString(c.Address),
		ContactNumber:      optString(c.ContactNumber),
		Email:              optString(c.Email),
		SubscriptionStatus: ClinicStatusToRemote(c.Status),
		CreatedAt:          c.CreatedAt,
	}
}

// ClinicFromRemote converts a clinics row, dropping credential columns.
func ClinicFromRemote(r remote.Clinic) model.Clinic {
	return model.Clinic{
		ID:            r.ID,
		Name:          r.ClinicName,
		Code:          r.ClinicCode,
		Region:        fromOptString(r.Region),
		Address:       fromOptString(r.Address),
		ContactNumber: fromOptString(r.ContactNumber),
		Email:         fromOptString(r.Email),
		Status:        ClinicStatusFromRemote(r.SubscriptionStatus),
		CreatedAt:     r.CreatedAt,
	}
}

// --- Appointment ---

// AppointmentToRemote converts a canonical appointment.
func AppointmentToRemote(a model.Appointment) remote.Appointment {
	return remote.Appointment{
		ID:                a.ID,
		CardControlNumber: a.CardControlNumber,
		ClinicID:          a.ClinicID,
		PatientName:       a.PatientName,
		AppointmentDate:   a.ScheduledAt,
		RescheduleDate:    optTime(a.RescheduledAt),
		ServiceType:       a.ServiceType,
		Notes:             optString(a.Notes),
		Status:            AppointmentStatusToRemote(a.Status),
		CreatedAt:         a.CreatedAt,
	}
}

// AppointmentFromRemote converts an appointments row.
func AppointmentFromRemote(r remote.Appointment) model.Appointment {
	return model.Appointment{
		ID:                r.ID,
		CardControlNumber: r.CardControlNumber,
		ClinicID:          r.ClinicID,
		PatientName:       r.PatientName,
		ScheduledAt:       r.AppointmentDate,
		RescheduledAt:     fromOptTime(r.RescheduleDate),
		ServiceType:       r.ServiceType,
		Notes:             fromOptString(r.Notes),
		Status:            AppointmentStatusFromRemote(r.Status),
		CreatedAt:         r.CreatedAt,
	}
}

// --- Perk ---

// PerkToRemote converts a canonical perk.
func PerkToRemote(p model.Perk) remote.Perk {
	return remote.Perk{
		ID:          p.ID,
		PerkName:    p.Name,
		Description: optString(p.Description),
		Type:        PerkTypeToRemote(p.Type),
		PerkValue:   p.Value,
		ValidUntil:  optTime(p.ValidUntil),
		IsActive:    p.Active,
		CreatedAt:   p.CreatedAt,
	}
}

// PerkFromRemote converts a perks row.
func PerkFromRemote(r remote.Perk) model.Perk {
	return model.Perk{
		ID:          r.ID,
		Name:        r.PerkName,
		Description: fromOptString(r.Description),
		Type:        PerkTypeFromRemote(r.Type),
		Value:       r.PerkValue,
		ValidUntil:  fromOptTime(r.ValidUntil),
		Active:      r.IsActive,
		CreatedAt:   r.CreatedAt,
	}
}

// --- PerkRedemption ---

// RedemptionToRemote converts a canonical redemption.
func RedemptionToRemote(p model.PerkRedemption) remote.PerkRedemption {
	return remote.PerkRedemption{
		ID:                p.ID,
		CardControlNumber: p.CardControlNumber,
		PerkID:            p.PerkID,
		PerkName:          p.PerkName,
		ClinicID:          p.ClinicID,
		ClaimedAt:         p.RedeemedAt,
		Notes:             optString(p.Notes),
		Status:            RedemptionStatusToRemote(p.Status),
	}
}

// RedemptionFromRemote converts a perk_redemptions row.
func RedemptionFromRemote(r remote.PerkRedemption) model.PerkRedemption {
	return model.PerkRedemption{
		ID:                r.ID,
		CardControlNumber: r.CardControlNumber,
		PerkID:            r.PerkID,
		PerkName:          r.PerkName,
		ClinicID:          r.ClinicID,
		RedeemedAt:        r.ClaimedAt,
		Notes:             fromOptString(r.Notes),
		Status:            RedemptionStatusFromRemote(r.Status),
	}
}

// --- slices ---

// FromRemoteAll maps a slice of remote rows with fn.
func FromRemoteAll[R, C any](rows []R, fn func(R) C) []C {
	out := make([]C, 0, len(rows))
	for _, r := range rows {
		out = append(out, fn(r))
	}
	return out
}
