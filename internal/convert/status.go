// Package convert translates between canonical model entities and remote records.
//
// Reads never fail: a remote value with no mapping falls back to the most
// conservative canonical value for that field so one bad row cannot break a
// whole collection.
package convert

import (
	"github.com/and161185/carecard/internal/model"
	"github.com/and161185/carecard/internal/remote"
)

// --- Card ---

// CardStatusToRemote maps active/inactive to activated/unactivated.
func CardStatusToRemote(s model.CardStatus) string {
	if s == model.CardActive {
		return remote.CardActivated
	}
	return remote.CardUnactivated
}

// CardStatusFromRemote maps the remote card status; unknown values read as inactive.
func CardStatusFromRemote(s string) model.CardStatus {
	if s == remote.CardActivated {
		return model.CardActive
	}
	return model.CardInactive
}

// --- Clinic ---

// ClinicStatusToRemote maps the canonical clinic status to the subscription vocabulary.
func ClinicStatusToRemote(s model.ClinicStatus) string {
	switch s {
	case model.ClinicActive:
		return remote.ClinicSubscribed
	case model.ClinicSuspended:
		return remote.ClinicSuspended
	default:
		return remote.ClinicUnsubscribed
	}
}

// ClinicStatusFromRemote maps a subscription status; unknown values read as inactive.
func ClinicStatusFromRemote(s string) model.ClinicStatus {
	switch s {
	case remote.ClinicSubscribed:
		return model.ClinicActive
	case remote.ClinicSuspended:
		return model.ClinicSuspended
	default:
		return model.ClinicInactive
	}
}

// --- Appointment ---

var appointmentToRemote = map[model.AppointmentStatus]string{
	model.AppointmentPending:     remote.AppointmentWaitingForApproval,
	model.AppointmentAccepted:    remote.AppointmentApproved,
	model.AppointmentDeclined:    remote.AppointmentCancelled,
	model.AppointmentRescheduled: remote.AppointmentPendingReschedule,
	model.AppointmentCompleted:   remote.AppointmentCompleted,
	model.AppointmentCancelled:   remote.AppointmentCancelled,
}

// The read side is intentionally lossy and must stay that way: approved and
// approved_reschedule both become accepted, and cancelled cannot be told apart
// from a declined request. Callers needing the distinction inspect RescheduledAt.
var appointmentFromRemote = map[string]model.AppointmentStatus{
	remote.AppointmentWaitingForApproval: model.AppointmentPending,
	remote.AppointmentApproved:           model.AppointmentAccepted,
	remote.AppointmentApprovedReschedule: model.AppointmentAccepted,
	remote.AppointmentPendingReschedule:  model.AppointmentRescheduled,
	remote.AppointmentCompleted:          model.AppointmentCompleted,
	remote.AppointmentCancelled:          model.AppointmentCancelled,
}

// AppointmentStatusToRemote returns the single remote value used when writing.
// Unknown canonical values are written as waiting_for_approval.
func AppointmentStatusToRemote(s model.AppointmentStatus) string {
	if v, ok := appointmentToRemote[s]; ok {
		return v
	}
	return remote.AppointmentWaitingForApproval
}

// AppointmentStatusFromRemote maps a remote appointment status; unknown values read as pending.
func AppointmentStatusFromRemote(s string) model.AppointmentStatus {
	if v, ok := appointmentFromRemote[s]; ok {
		return v
	}
	return model.AppointmentPending
}

// --- Perk ---

// PerkTypeFromRemote maps a remote perk type; unknown values read as consultation.
func PerkTypeFromRemote(s string) model.PerkType {
	switch t := model.PerkType(s); t {
	case model.PerkConsultation, model.PerkCleaning, model.PerkXray, model.PerkDiscount, model.PerkService:
		return t
	default:
		return model.PerkConsultation
	}
}

// PerkTypeToRemote writes the canonical type verbatim; unknown values become consultation.
func PerkTypeToRemote(t model.PerkType) string {
	return string(PerkTypeFromRemote(string(t)))
}

// --- PerkRedemption ---

// RedemptionStatusToRemote maps the canonical redemption status.
func RedemptionStatusToRemote(s model.RedemptionStatus) string {
	switch s {
	case model.RedemptionRedeemed:
		return remote.RedemptionClaimed
	case model.RedemptionCancelled:
		return remote.RedemptionVoid
	default:
		return remote.RedemptionPending
	}
}

// RedemptionStatusFromRemote maps a remote redemption status; unknown values read as pending.
func RedemptionStatusFromRemote(s string) model.RedemptionStatus {
	switch s {
	case remote.RedemptionClaimed:
		return model.RedemptionRedeemed
	case remote.RedemptionVoid:
		return model.RedemptionCancelled
	default:
		return model.RedemptionPending
	}
}
