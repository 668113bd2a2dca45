package postgres

import (
	"github.com/jackc/pgx/v5"

	"github.com/and161185/carecard/internal/remote"
)

func set(cols ...string) map[string]bool {
	m := make(map[string]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return m
}

var createdAt = set("created_at")

// NewCards returns the cards table.
func NewCards(db *DB) *Table[remote.Card] {
	return newTable(db, schema[remote.Card]{
		table: "cards",
		columns: []string{
			"id", "control_number", "patient_name", "patient_email", "patient_phone",
			"assigned_clinic_id", "status", "expiry_date", "created_at",
		},
		generated: createdAt,
		writable: set("control_number", "patient_name", "patient_email", "patient_phone",
			"assigned_clinic_id", "status", "expiry_date"),
		order: "created_at",
		scan: func(row pgx.Row) (remote.Card, error) {
			var c remote.Card
			err := row.Scan(&c.ID, &c.ControlNumber, &c.PatientName, &c.PatientEmail, &c.PatientPhone,
				&c.AssignedClinicID, &c.Status, &c.ExpiryDate, &c.CreatedAt)
			return c, err
		},
		values: func(c remote.Card) []any {
			return []any{c.ID, c.ControlNumber, c.PatientName, c.PatientEmail, c.PatientPhone,
				c.AssignedClinicID, c.Status, c.ExpiryDate, c.CreatedAt}
		},
		id: func(c *remote.Card) *string { return &c.ID },
	})
}

// NewClinics returns the clinics table. Password columns are readable for
// credential checks but can be neither filtered on nor updated.
func NewClinics(db *DB) *Table[remote.Clinic] {
	return newTable(db, schema[remote.Clinic]{
		table: "clinics",
		columns: []string{
			"id", "clinic_name", "clinic_code", "region", "address", "contact_number", "email",
			"subscription_status", "password_hash", "password_salt", "created_at",
		},
		generated: createdAt,
		writable: set("clinic_name", "clinic_code", "region", "address", "contact_number", "email",
			"subscription_status"),
		hidden: set("password_hash", "password_salt"),
		order:  "created_at",
		scan: func(row pgx.Row) (remote.Clinic, error) {
			var c remote.Clinic
			err := row.Scan(&c.ID, &c.ClinicName, &c.ClinicCode, &c.Region, &c.Address, &c.ContactNumber,
				&c.Email, &c.SubscriptionStatus, &c.PasswordHash, &c.PasswordSalt, &c.CreatedAt)
			return c, err
		},
		values: func(c remote.Clinic) []any {
			return []any{c.ID, c.ClinicName, c.ClinicCode, c.Region, c.Address, c.ContactNumber,
				c.Email, c.SubscriptionStatus, c.PasswordHash, c.PasswordSalt, c.CreatedAt}
		},
		id: func(c *remote.Clinic) *string { return &c.ID },
	})
}

// NewAppointments returns the appointments table.
func NewAppointments(db *DB) *Table[remote.Appointment] {
	return newTable(db, schema[remote.Appointment]{
		table: "appointments",
		columns: []string{
			"id", "card_control_number", "clinic_id", "patient_name", "appointment_date",
			"reschedule_date", "service_type", "notes", "status", "created_at",
		},
		generated: createdAt,
		writable: set("clinic_id", "patient_name", "appointment_date", "reschedule_date",
			"service_type", "notes", "status"),
		order: "appointment_date",
		scan: func(row pgx.Row) (remote.Appointment, error) {
			var a remote.Appointment
			err := row.Scan(&a.ID, &a.CardControlNumber, &a.ClinicID, &a.PatientName, &a.AppointmentDate,
				&a.RescheduleDate, &a.ServiceType, &a.Notes, &a.Status, &a.CreatedAt)
			return a, err
		},
		values: func(a remote.Appointment) []any {
			return []any{a.ID, a.CardControlNumber, a.ClinicID, a.PatientName, a.AppointmentDate,
				a.RescheduleDate, a.ServiceType, a.Notes, a.Status, a.CreatedAt}
		},
		id: func(a *remote.Appointment) *string { return &a.ID },
	})
}

// NewPerks returns the perks table.
func NewPerks(db *DB) *Table[remote.Perk] {
	return newTable(db, schema[remote.Perk]{
		table: "perks",
		columns: []string{
			"id", "perk_name", "description", "type", "perk_value", "valid_until", "is_active", "created_at",
		},
		generated: createdAt,
		writable:  set("perk_name", "description", "type", "perk_value", "valid_until", "is_active"),
		order:     "created_at",
		scan: func(row pgx.Row) (remote.Perk, error) {
			var p remote.Perk
			err := row.Scan(&p.ID, &p.PerkName, &p.Description, &p.Type, &p.PerkValue, &p.ValidUntil,
				&p.IsActive, &p.CreatedAt)
			return p, err
		},
		values: func(p remote.Perk) []any {
			return []any{p.ID, p.PerkName, p.Description, p.Type, p.PerkValue, p.ValidUntil,
				p.IsActive, p.CreatedAt}
		},
		id: func(p *remote.Perk) *string { return &p.ID },
	})
}

// NewRedemptions returns the perk_redemptions table.
func NewRedemptions(db *DB) *Table[remote.PerkRedemption] {
	return newTable(db, schema[remote.PerkRedemption]{
		table: "perk_redemptions",
		columns: []string{
			"id", "card_control_number", "perk_id", "perk_name", "clinic_id", "claimed_at", "notes", "status",
		},
		writable: set("notes", "status"),
		order:    "claimed_at",
		scan: func(row pgx.Row) (remote.PerkRedemption, error) {
			var r remote.PerkRedemption
			err := row.Scan(&r.ID, &r.CardControlNumber, &r.PerkID, &r.PerkName, &r.ClinicID, &r.ClaimedAt,
				&r.Notes, &r.Status)
			return r, err
		},
		values: func(r remote.PerkRedemption) []any {
			return []any{r.ID, r.CardControlNumber, r.PerkID, r.PerkName, r.ClinicID, r.ClaimedAt,
				r.Notes, r.Status}
		},
		id: func(r *remote.PerkRedemption) *string { return &r.ID },
	})
}
