package service

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/carecard/internal/convert"
	"github.com/and161185/carecard/internal/errs"
	"github.com/and161185/carecard/internal/model"
	"github.com/and161185/carecard/internal/remote"
	"github.com/and161185/carecard/internal/repository"
)

// Tables bundles the remote tables the services run on.
type Tables struct {
	Cards        repository.Table[remote.Card]
	Clinics      repository.Table[remote.Clinic]
	Appointments repository.Table[remote.Appointment]
	Perks        repository.Table[remote.Perk]
	Redemptions  repository.Table[remote.PerkRedemption]
}

// Cards manages loyalty cards.
type Cards struct{ *Collection[model.Card, remote.Card] }

// Clinics manages clinic records.
type Clinics struct{ *Collection[model.Clinic, remote.Clinic] }

// Appointments manages appointment requests.
type Appointments struct {
	*Collection[model.Appointment, remote.Appointment]
}

// Perks manages the perk catalog.
type Perks struct{ *Collection[model.Perk, remote.Perk] }

// Redemptions manages claimed perks.
type Redemptions struct {
	*Collection[model.PerkRedemption, remote.PerkRedemption]
}

// Service groups the per-collection services.
type Service struct {
	Cards        Cards
	Clinics      Clinics
	Appointments Appointments
	Perks        Perks
	Redemptions  Redemptions
}

// New wires every collection service to its table and the sync tracker.
func New(t Tables, sync Tracker) *Service {
	return &Service{
		Cards: Cards{newCollection(model.CollectionCards, t.Cards, sync,
			convert.CardToRemote, convert.CardFromRemote)},
		Clinics: Clinics{newCollection(model.CollectionClinics, t.Clinics, sync,
			convert.ClinicToRemote, convert.ClinicFromRemote)},
		Appointments: Appointments{newCollection(model.CollectionAppointments, t.Appointments, sync,
			convert.AppointmentToRemote, convert.AppointmentFromRemote)},
		Perks: Perks{newCollection(model.CollectionPerks, t.Perks, sync,
			convert.PerkToRemote, convert.PerkFromRemote)},
		Redemptions: Redemptions{newCollection(model.CollectionPerkRedemptions, t.Redemptions, sync,
			convert.RedemptionToRemote, convert.RedemptionFromRemote)},
	}
}

// Touch reads every tracked collection and discards the results. It is the
// full read behind a forced resync and does not report into the tracker itself.
func (s *Service) Touch(ctx context.Context) error {
	steps := []func(context.Context) error{
		s.Cards.touch,
		s.Clinics.touch,
		s.Appointments.touch,
		s.Perks.touch,
		s.Redemptions.touch,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// List returns the named collection in canonical form.
func (s *Service) List(ctx context.Context, coll model.Collection, f repository.Filter) (any, error) {
	switch coll {
	case model.CollectionCards:
		return s.Cards.List(ctx, f)
	case model.CollectionClinics:
		return s.Clinics.List(ctx, f)
	case model.CollectionAppointments:
		return s.Appointments.List(ctx, f)
	case model.CollectionPerks:
		return s.Perks.List(ctx, f)
	case model.CollectionPerkRedemptions:
		return s.Redemptions.List(ctx, f)
	default:
		return nil, fmt.Errorf("%q: %w", coll, errs.ErrUnknownCollection)
	}
}

// ByControlNumber returns the card with the given control number.
func (c Cards) ByControlNumber(ctx context.Context, controlNumber string) (model.Card, error) {
	rows, err := c.List(ctx, repository.Filter{"control_number": controlNumber})
	if err != nil {
		return model.Card{}, err
	}
	if len(rows) == 0 {
		return model.Card{}, fmt.Errorf("card %s: %w", controlNumber, errs.ErrNotFound)
	}
	return rows[0], nil
}

// ForClinic returns the cards assigned to clinicID.
func (c Cards) ForClinic(ctx context.Context, clinicID string) ([]model.Card, error) {
	return c.List(ctx, repository.Filter{"assigned_clinic_id": clinicID})
}

// AssignClinic sets the card's clinic; an empty clinicID unassigns it.
func (c Cards) AssignClinic(ctx context.Context, id, clinicID string) error {
	var v *string
	if clinicID != "" {
		v = &clinicID
	}
	return c.Update(ctx, id, map[string]any{"assigned_clinic_id": v})
}

// SetStatus activates or deactivates a card.
func (c Cards) SetStatus(ctx context.Context, id string, st model.CardStatus) error {
	return c.Update(ctx, id, map[string]any{"status": convert.CardStatusToRemote(st)})
}

// SetStatus changes a clinic's subscription status.
func (c Clinics) SetStatus(ctx context.Context, id string, st model.ClinicStatus) error {
	return c.Update(ctx, id, map[string]any{"subscription_status": convert.ClinicStatusToRemote(st)})
}

// ForClinic returns the appointments booked at clinicID.
func (a Appointments) ForClinic(ctx context.Context, clinicID string) ([]model.Appointment, error) {
	return a.List(ctx, repository.Filter{"clinic_id": clinicID})
}

// SetStatus writes st in the remote vocabulary. Declined is stored as cancelled.
func (a Appointments) SetStatus(ctx context.Context, id string, st model.AppointmentStatus) error {
	return a.Update(ctx, id, map[string]any{"status": convert.AppointmentStatusToRemote(st)})
}

// Reschedule proposes a new date and moves the appointment to rescheduled.
func (a Appointments) Reschedule(ctx context.Context, id string, when time.Time) error {
	if when.IsZero() {
		return fmt.Errorf("reschedule %s: zero date: %w", id, errs.ErrInvalidArgument)
	}
	return a.Update(ctx, id, map[string]any{
		"reschedule_date": when,
		"status":          convert.AppointmentStatusToRemote(model.AppointmentRescheduled),
	})
}

// Active returns the perks currently offered.
func (p Perks) Active(ctx context.Context) ([]model.Perk, error) {
	return p.List(ctx, repository.Filter{"is_active": true})
}

// ForCard returns the redemptions made with a card.
func (r Redemptions) ForCard(ctx context.Context, controlNumber string) ([]model.PerkRedemption, error) {
	return r.List(ctx, repository.Filter{"card_control_number": controlNumber})
}

// SetStatus changes a redemption's status.
func (r Redemptions) SetStatus(ctx context.Context, id string, st model.RedemptionStatus) error {
	return r.Update(ctx, id, map[string]any{"status": convert.RedemptionStatusToRemote(st)})
}
