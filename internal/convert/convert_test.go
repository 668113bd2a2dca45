package convert

import (
	"testing"
	"time"

	"github.com/and161185/carecard/internal/model"
	"github.com/and161185/carecard/internal/remote"
)

func TestCardStatus_Bijective(t *testing.T) {
	t.Parallel()

	for _, s := range []model.CardStatus{model.CardActive, model.CardInactive} {
		if got := CardStatusFromRemote(CardStatusToRemote(s)); got != s {
			t.Fatalf("roundtrip %q -> %q", s, got)
		}
	}
	if CardStatusToRemote(model.CardActive) != remote.CardActivated {
		t.Fatalf("active must write as activated")
	}
	if CardStatusFromRemote("bogus") != model.CardInactive {
		t.Fatalf("unknown card status must read as inactive")
	}
}

func TestCard_ClinicIDEmptyIsNull(t *testing.T) {
	t.Parallel()

	r := CardToRemote(model.Card{ID: "c1", ControlNumber: "CN-1", Status: model.CardActive})
	if r.AssignedClinicID != nil {
		t.Fatalf("empty clinic id must map to NULL, got %q", *r.AssignedClinicID)
	}
	if r.ExpiryDate != nil || r.PatientEmail != nil {
		t.Fatalf("zero optional fields must map to NULL")
	}

	clinic := "clinic-7"
	back := CardFromRemote(remote.Card{ID: "c1", AssignedClinicID: &clinic, Status: remote.CardActivated})
	if back.ClinicID != clinic || back.Status != model.CardActive {
		t.Fatalf("unexpected card: %+v", back)
	}
	if CardFromRemote(remote.Card{}).ClinicID != "" {
		t.Fatalf("NULL clinic must map to empty string")
	}
}

func TestCard_Roundtrip(t *testing.T) {
	t.Parallel()

	exp := time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)
	in := model.Card{
		ID:            "card-1",
		ControlNumber: "CC-0001",
		PatientName:   "Ana Cruz",
		PatientEmail:  "ana@example.com",
		ClinicID:      "cl-1",
		Status:        model.CardActive,
		ExpiresAt:     exp,
	}
	if got := CardFromRemote(CardToRemote(in)); got != in {
		t.Fatalf("roundtrip mismatch:\n got %+v\nwant %+v", got, in)
	}
}

func TestClinic_StatusAndCredentials(t *testing.T) {
	t.Parallel()

	r := ClinicToRemote(model.Clinic{ID: "cl", Name: "North", Code: "NORTH-01", Status: model.ClinicSuspended})
	if r.SubscriptionStatus != remote.ClinicSuspended {
		t.Fatalf("status=%q", r.SubscriptionStatus)
	}
	if r.PasswordHash != nil || r.PasswordSalt != nil {
		t.Fatalf("canonical clinic must not carry credentials")
	}

	back := ClinicFromRemote(remote.Clinic{
		ClinicName:         "North",
		SubscriptionStatus: "trial",
		PasswordHash:       []byte("secret"),
	})
	if back.Status != model.ClinicInactive {
		t.Fatalf("unknown subscription must read as inactive, got %q", back.Status)
	}
	if back.Name != "North" {
		t.Fatalf("name mismatch")
	}
	for _, s := range []model.ClinicStatus{model.ClinicActive, model.ClinicInactive, model.ClinicSuspended} {
		if got := ClinicStatusFromRemote(ClinicStatusToRemote(s)); got != s {
			t.Fatalf("roundtrip %q -> %q", s, got)
		}
	}
}

func TestAppointmentStatus_WriteVocabulary(t *testing.T) {
	t.Parallel()

	want := map[model.AppointmentStatus]string{
		model.AppointmentPending:     "waiting_for_approval",
		model.AppointmentAccepted:    "approved",
		model.AppointmentDeclined:    "cancelled",
		model.AppointmentRescheduled: "pending_reschedule",
		model.AppointmentCompleted:   "completed",
		model.AppointmentCancelled:   "cancelled",
	}
	for in, out := range want {
		if got := AppointmentStatusToRemote(in); got != out {
			t.Fatalf("%q -> %q, want %q", in, got, out)
		}
	}
}

func TestAppointmentStatus_RescheduledRoundtrips(t *testing.T) {
	t.Parallel()

	in := model.Appointment{Status: model.AppointmentRescheduled}
	out := AppointmentFromRemote(AppointmentToRemote(in))
	if out.Status != model.AppointmentRescheduled {
		t.Fatalf("rescheduled must roundtrip, got %q", out.Status)
	}
}

func TestAppointmentStatus_ApprovedCollapse(t *testing.T) {
	t.Parallel()

	a := AppointmentStatusFromRemote(remote.AppointmentApproved)
	b := AppointmentStatusFromRemote(remote.AppointmentApprovedReschedule)
	if a != model.AppointmentAccepted || b != model.AppointmentAccepted {
		t.Fatalf("approved=%q approved_reschedule=%q, both must be accepted", a, b)
	}

	// accepted writes back as plain approved: the reschedule origin is lost.
	if AppointmentStatusToRemote(b) != remote.AppointmentApproved {
		t.Fatalf("accepted must write as approved")
	}
}

func TestAppointmentStatus_CancelledOverload(t *testing.T) {
	t.Parallel()

	if AppointmentStatusToRemote(model.AppointmentDeclined) != AppointmentStatusToRemote(model.AppointmentCancelled) {
		t.Fatalf("declined and cancelled must share the remote value")
	}
	got := AppointmentFromRemote(AppointmentToRemote(model.Appointment{Status: model.AppointmentDeclined}))
	if got.Status != model.AppointmentCancelled {
		t.Fatalf("declined reads back as cancelled, got %q", got.Status)
	}
}

func TestAppointmentStatus_UnknownReadsPending(t *testing.T) {
	t.Parallel()

	if s := AppointmentStatusFromRemote("no_show"); s != model.AppointmentPending {
		t.Fatalf("unknown -> %q, want pending", s)
	}
	if s := AppointmentStatusToRemote("weird"); s != remote.AppointmentWaitingForApproval {
		t.Fatalf("unknown canonical writes %q", s)
	}
}

func TestAppointment_RescheduleDateSurvives(t *testing.T) {
	t.Parallel()

	when := time.Date(2026, 11, 2, 9, 30, 0, 0, time.UTC)
	r := remote.Appointment{
		ID:              "a1",
		AppointmentDate: when.Add(-48 * time.Hour),
		RescheduleDate:  &when,
		Status:          remote.AppointmentApprovedReschedule,
	}
	got := AppointmentFromRemote(r)
	if got.Status != model.AppointmentAccepted || !got.RescheduledAt.Equal(when) {
		t.Fatalf("unexpected appointment: %+v", got)
	}
	if AppointmentToRemote(model.Appointment{}).RescheduleDate != nil {
		t.Fatalf("zero reschedule time must be NULL")
	}
}

func TestPerkType_UnknownDefaultsToConsultation(t *testing.T) {
	t.Parallel()

	p := PerkFromRemote(remote.Perk{Type: "unknown_xyz"})
	if p.Type != model.PerkConsultation {
		t.Fatalf("type=%q, want consultation", p.Type)
	}
	for _, typ := range []string{"consultation", "cleaning", "xray", "discount", "service"} {
		if got := PerkTypeFromRemote(typ); string(got) != typ {
			t.Fatalf("%q -> %q", typ, got)
		}
	}
	if PerkTypeToRemote("") != remote.PerkConsultation {
		t.Fatalf("empty type must write as consultation")
	}
}

func TestPerk_Roundtrip(t *testing.T) {
	t.Parallel()

	in := model.Perk{ID: "p1", Name: "Free cleaning", Type: model.PerkCleaning, Value: 500, Active: true}
	if got := PerkFromRemote(PerkToRemote(in)); got != in {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestRedemption_Status(t *testing.T) {
	t.Parallel()

	for _, s := range []model.RedemptionStatus{model.RedemptionPending, model.RedemptionRedeemed, model.RedemptionCancelled} {
		if got := RedemptionStatusFromRemote(RedemptionStatusToRemote(s)); got != s {
			t.Fatalf("roundtrip %q -> %q", s, got)
		}
	}
	r := RedemptionFromRemote(remote.PerkRedemption{ID: "r1", Status: "expired"})
	if r.Status != model.RedemptionPending {
		t.Fatalf("unknown redemption status -> %q", r.Status)
	}
}

func TestFromRemoteAll(t *testing.T) {
	t.Parallel()

	rows := []remote.Perk{{Type: "xray"}, {Type: "??"}}
	out := FromRemoteAll(rows, PerkFromRemote)
	if len(out) != 2 || out[0].Type != model.PerkXray || out[1].Type != model.PerkConsultation {
		t.Fatalf("unexpected: %+v", out)
	}
	if got := FromRemoteAll[remote.Perk, model.Perk](nil, PerkFromRemote); got == nil || len(got) != 0 {
		t.Fatalf("nil input must give empty slice")
	}
}
