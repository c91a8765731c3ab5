package visits

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/clinic-gateway/internal/forms"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(newTestStore(t), zerolog.Nop())
}

func createTestPatient(t *testing.T, svc *Service) *Patient {
	t.Helper()
	p, err := svc.CreatePatient(context.Background(), Patient{DoctorID: "doc-1", FirstName: "Grace", LastName: "Hopper"})
	require.NoError(t, err)
	return p
}

func TestCreatePatientMedicalID(t *testing.T) {
	svc := newTestService(t)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	first := createTestPatient(t, svc)
	second := createTestPatient(t, svc)

	assert.Equal(t, "2026000001", first.MedicalID)
	assert.Equal(t, "2026000002", second.MedicalID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreatePatientAfterDelete(t *testing.T) {
	svc := newTestService(t)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	first := createTestPatient(t, svc)
	second := createTestPatient(t, svc)
	require.NoError(t, svc.DeletePatient(ctx, first.ID))

	third, err := svc.CreatePatient(ctx, Patient{DoctorID: "doc-1", FirstName: "Alan", LastName: "Turing"})
	require.NoError(t, err)
	assert.Equal(t, "2026000002", second.MedicalID)
	assert.Equal(t, "2026000003", third.MedicalID)
}

func TestCreatePatientSequencePerYear(t *testing.T) {
	svc := newTestService(t)
	svc.now = func() time.Time { return time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC) }
	createTestPatient(t, svc)
	createTestPatient(t, svc)

	svc.now = func() time.Time { return time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC) }
	p := createTestPatient(t, svc)
	assert.Equal(t, "2026000001", p.MedicalID)
}

func TestCreatePatientRequiresName(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreatePatient(context.Background(), Patient{FirstName: "  ", LastName: "Hopper"})
	assert.ErrorIs(t, err, ErrPatientIncomplete)
}

func TestCreateVisitSequential(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPatient(t, svc)

	for i := 1; i <= 3; i++ {
		v, err := svc.CreateVisit(ctx, p.ID, "")
		require.NoError(t, err)
		assert.Equal(t, i, v.VisitNumber)
		assert.Equal(t, DefaultChiefComplaint, v.ChiefComplaint)
		assert.Equal(t, StatusActive, v.Status)
		assert.Len(t, v.Forms, 4)
	}
}

func TestCreateVisitConcurrent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPatient(t, svc)

	const n = 10
	numbers := make([]int, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			v, err := svc.CreateVisit(ctx, p.ID, fmt.Sprintf("complaint %d", i))
			if err != nil {
				return err
			}
			numbers[i] = v.VisitNumber
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Ints(numbers)
	for i, num := range numbers {
		assert.Equal(t, i+1, num)
	}
}

func TestCreateVisitUnknownPatient(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateVisit(context.Background(), "ghost", "")
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestResolveCurrentVisitPrefersActive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPatient(t, svc)

	active, err := svc.CreateVisit(ctx, p.ID, "first")
	require.NoError(t, err)
	later, err := svc.CreateVisit(ctx, p.ID, "second")
	require.NoError(t, err)
	_, err = svc.Discharge(ctx, later.ID)
	require.NoError(t, err)

	current, err := svc.ResolveCurrentVisit(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, active.ID, current.ID)
}

func TestResolveCurrentVisitFallsBackToLatest(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPatient(t, svc)

	first, err := svc.CreateVisit(ctx, p.ID, "")
	require.NoError(t, err)
	second, err := svc.CreateVisit(ctx, p.ID, "")
	require.NoError(t, err)
	_, err = svc.Discharge(ctx, first.ID)
	require.NoError(t, err)
	_, err = svc.Discharge(ctx, second.ID)
	require.NoError(t, err)

	current, err := svc.ResolveCurrentVisit(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestResolveCurrentVisitNone(t *testing.T) {
	svc := newTestService(t)
	p := createTestPatient(t, svc)

	_, err := svc.ResolveCurrentVisit(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrVisitNotFound)
}

func TestCurrentOrCreate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPatient(t, svc)

	created, err := svc.CurrentOrCreate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, created.VisitNumber)

	again, err := svc.CurrentOrCreate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
}

func TestSaveForm(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPatient(t, svc)
	v, err := svc.CreateVisit(ctx, p.ID, "")
	require.NoError(t, err)

	saved, err := svc.SaveForm(ctx, v.ID, "medicalHistory", map[string]any{"chiefComplaint": "fever"})
	require.NoError(t, err)

	slot := saved.Forms[forms.SlotMedicalHistory]
	assert.Equal(t, Completed, slot.Status)
	assert.Equal(t, "fever", slot.Data["chiefComplaint"])
	require.NotNil(t, slot.LastUpdated)
	assert.Equal(t, NotStarted, saved.Forms[forms.SlotDischarge].Status)

	// Last write wins.
	_, err = svc.SaveForm(ctx, v.ID, "medicalHistory", map[string]any{"chiefComplaint": "cough"})
	require.NoError(t, err)
	got, err := svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "cough", got.Forms[forms.SlotMedicalHistory].Data["chiefComplaint"])
}

func TestSaveFormErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPatient(t, svc)
	v, err := svc.CreateVisit(ctx, p.ID, "")
	require.NoError(t, err)

	_, err = svc.SaveForm(ctx, v.ID, "labResults", map[string]any{})
	assert.ErrorIs(t, err, ErrInvalidFormType)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.SaveForm(ctx, "missing", "medicalHistory", map[string]any{})
	assert.ErrorIs(t, err, ErrVisitNotFound)
}

func TestListForPatientNewestFirst(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPatient(t, svc)

	empty, err := svc.ListForPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)

	for i := 0; i < 3; i++ {
		_, err := svc.CreateVisit(ctx, p.ID, "")
		require.NoError(t, err)
	}

	list, err := svc.ListForPatient(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{list[0].VisitNumber, list[1].VisitNumber, list[2].VisitNumber})

	_, err = svc.ListForPatient(ctx, "ghost")
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestDeletePatientRemovesVisits(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPatient(t, svc)
	v, err := svc.CreateVisit(ctx, p.ID, "")
	require.NoError(t, err)

	require.NoError(t, svc.DeletePatient(ctx, p.ID))

	_, err = svc.Get(ctx, v.ID)
	assert.ErrorIs(t, err, ErrVisitNotFound)
}

func TestDischargeSummary(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p := createTestPatient(t, svc)
	v, err := svc.CreateVisit(ctx, p.ID, "chest pain")
	require.NoError(t, err)
	_, err = svc.SaveForm(ctx, v.ID, "dischargeForm", map[string]any{"diagnosisAtDischarge": "angina"})
	require.NoError(t, err)
	_, err = svc.Discharge(ctx, v.ID)
	require.NoError(t, err)

	sum, err := svc.DischargeSummary(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", sum.Patient.Name)
	assert.Equal(t, p.MedicalID, sum.Patient.MedicalID)
	assert.Equal(t, "chest pain", sum.Visit.ChiefComplaint)
	assert.Equal(t, StatusDischarged, sum.Visit.Status)
	assert.NotNil(t, sum.Visit.DischargeDate)
	assert.Equal(t, "angina", sum.Forms[forms.SlotDischarge].Data["diagnosisAtDischarge"])
	assert.False(t, sum.GeneratedAt.IsZero())
}

func TestDisplayStatus(t *testing.T) {
	assert.Equal(t, Completed, DisplayStatus(FormSlot{Status: Completed}, nil))
	assert.Equal(t, NotStarted, DisplayStatus(FormSlot{Status: NotStarted}, map[string]any{"a": ""}))
	assert.Equal(t, InProgress, DisplayStatus(FormSlot{Status: NotStarted}, map[string]any{"a": map[string]any{"b": "x"}}))
}

func TestSelectCurrent(t *testing.T) {
	_, err := SelectCurrent(nil)
	assert.ErrorIs(t, err, ErrVisitNotFound)

	v, err := SelectCurrent([]Visit{{ID: "3", Status: StatusDischarged}, {ID: "2", Status: StatusActive}, {ID: "1", Status: StatusActive}})
	require.NoError(t, err)
	assert.Equal(t, "2", v.ID)
}
