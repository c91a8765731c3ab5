package visits

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/clinic-gateway/internal/forms"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func insertPatient(t *testing.T, store Store, id string) {
	t.Helper()
	err := store.CreatePatient(context.Background(), &Patient{
		ID:        id,
		DoctorID:  "doc-1",
		FirstName: "Ada",
		LastName:  "Lovelace",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestStoreCreateVisitNumbering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertPatient(t, store, "p1")
	insertPatient(t, store, "p2")

	for i := 1; i <= 3; i++ {
		v := &Visit{ID: "v" + string(rune('0'+i)), PatientID: "p1", Status: StatusActive, Forms: emptySlots()}
		require.NoError(t, store.CreateVisit(ctx, v))
		assert.Equal(t, i, v.VisitNumber)
	}

	other := &Visit{ID: "other", PatientID: "p2", Status: StatusActive, Forms: emptySlots()}
	require.NoError(t, store.CreateVisit(ctx, other))
	assert.Equal(t, 1, other.VisitNumber)
}

func TestStoreVisitRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertPatient(t, store, "p1")

	now := time.Now().UTC().Truncate(time.Millisecond)
	v := &Visit{
		ID:             "v1",
		PatientID:      "p1",
		ChiefComplaint: "cough",
		Status:         StatusActive,
		VisitDate:      now,
		Forms:          emptySlots(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateVisit(ctx, v))

	got, err := store.GetVisit(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "cough", got.ChiefComplaint)
	assert.True(t, now.Equal(got.VisitDate))
	assert.Nil(t, got.DischargeDate)
	require.Len(t, got.Forms, 4)
	for _, slot := range forms.Slots() {
		assert.Equal(t, NotStarted, got.Forms[slot].Status)
		assert.Nil(t, got.Forms[slot].Data)
		assert.Nil(t, got.Forms[slot].LastUpdated)
	}

	got.Forms[forms.SlotDiagnosisTreatment] = FormSlot{
		Status:      Completed,
		Data:        map[string]any{"primaryDiagnosis": "asthma"},
		LastUpdated: &now,
	}
	got.Status = StatusDischarged
	got.DischargeDate = &now
	require.NoError(t, store.UpdateVisit(ctx, got))

	again, err := store.GetVisit(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, StatusDischarged, again.Status)
	require.NotNil(t, again.DischargeDate)
	assert.Equal(t, "asthma", again.Forms[forms.SlotDiagnosisTreatment].Data["primaryDiagnosis"])
}

func TestStoreNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetVisit(ctx, "missing")
	assert.ErrorIs(t, err, ErrVisitNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetPatient(ctx, "missing")
	assert.ErrorIs(t, err, ErrPatientNotFound)

	assert.ErrorIs(t, store.DeletePatient(ctx, "missing"), ErrPatientNotFound)
	assert.ErrorIs(t, store.UpdateVisit(ctx, &Visit{ID: "missing"}), ErrVisitNotFound)
}

func TestStoreDeletePatientCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertPatient(t, store, "p1")

	require.NoError(t, store.CreateVisit(ctx, &Visit{ID: "v1", PatientID: "p1", Status: StatusActive, Forms: emptySlots()}))
	require.NoError(t, store.DeletePatient(ctx, "p1"))

	_, err := store.GetVisit(ctx, "v1")
	assert.ErrorIs(t, err, ErrVisitNotFound)
}

func TestStoreVisitRequiresPatient(t *testing.T) {
	store := newTestStore(t)
	err := store.CreateVisit(context.Background(), &Visit{ID: "v1", PatientID: "ghost", Status: StatusActive, Forms: emptySlots()})
	assert.Error(t, err)
}

func TestNormalizeSlotsFillsMissing(t *testing.T) {
	slots := normalizeSlots(map[forms.Slot]FormSlot{
		forms.SlotMedicalHistory: {Status: Completed},
	})
	require.Len(t, slots, 4)
	assert.Equal(t, Completed, slots[forms.SlotMedicalHistory].Status)
	assert.Equal(t, NotStarted, slots[forms.SlotDischarge].Status)
}
