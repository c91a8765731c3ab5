package visits

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lexiqai/clinic-gateway/internal/forms"
)

// Store persists patients and visits.
type Store interface {
	// CreatePatient assigns p.MedicalID as one more than the highest sequence
	// number already issued in the year of p.CreatedAt.
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id string) (*Patient, error)
	DeletePatient(ctx context.Context, id string) error

	// CreateVisit assigns v.VisitNumber as one more than the patient's highest.
	CreateVisit(ctx context.Context, v *Visit) error
	GetVisit(ctx context.Context, id string) (*Visit, error)
	// ListVisits returns a patient's visits, most recently created first.
	ListVisits(ctx context.Context, patientID string) ([]Visit, error)
	UpdateVisit(ctx context.Context, v *Visit) error

	Ping(ctx context.Context) error
	Close() error
}

const schema = `
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		medicalId TEXT NOT NULL UNIQUE,
		doctorId TEXT NOT NULL,
		firstName TEXT NOT NULL,
		lastName TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		dateOfBirth TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		createdAt INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS visits (
		id TEXT PRIMARY KEY,
		patientId TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
		visitNumber INTEGER NOT NULL,
		chiefComplaint TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Active',
		visitDate INTEGER NOT NULL,
		dischargeDate INTEGER,
		forms TEXT NOT NULL,
		createdAt INTEGER NOT NULL,
		updatedAt INTEGER NOT NULL,
		UNIQUE(patientId, visitNumber)
	);

	CREATE INDEX IF NOT EXISTS idx_visits_patient ON visits(patientId, visitNumber DESC);
`

// SQLiteStore is the Store backed by a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" gives
// a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite has a single writer, and an in-memory database
	// exists per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreatePatient(ctx context.Context, p *Patient) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	year := p.CreatedAt.Year()
	prefix := fmt.Sprintf("%d", year)
	var last int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(substr(medicalId, ?) AS INTEGER)), 0)
		FROM patients
		WHERE substr(medicalId, 1, ?) = ? AND length(medicalId) = ?
	`, len(prefix)+1, len(prefix), prefix, len(prefix)+medicalIDDigits).Scan(&last); err != nil {
		return fmt.Errorf("next medical id: %w", err)
	}
	p.MedicalID = MedicalID(year, last+1)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO patients (id, medicalId, doctorId, firstName, lastName, email, phone, dateOfBirth, gender, address, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.MedicalID, p.DoctorID, p.FirstName, p.LastName, p.Email, p.Phone,
		p.DateOfBirth, p.Gender, p.Address, p.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetPatient(ctx context.Context, id string) (*Patient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, medicalId, doctorId, firstName, lastName, email, phone, dateOfBirth, gender, address, createdAt
		FROM patients
		WHERE id = ?
	`, id)

	var p Patient
	var createdAt int64
	if err := row.Scan(&p.ID, &p.MedicalID, &p.DoctorID, &p.FirstName, &p.LastName,
		&p.Email, &p.Phone, &p.DateOfBirth, &p.Gender, &p.Address, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &p, nil
}

func (s *SQLiteStore) DeletePatient(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM patients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateVisit(ctx context.Context, v *Visit) error {
	formsJSON, err := json.Marshal(v.Forms)
	if err != nil {
		return fmt.Errorf("encode forms: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var last int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(visitNumber), 0) FROM visits WHERE patientId = ?`, v.PatientID).Scan(&last); err != nil {
		return fmt.Errorf("next visit number: %w", err)
	}
	v.VisitNumber = last + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO visits (id, patientId, visitNumber, chiefComplaint, status, visitDate, dischargeDate, forms, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.PatientID, v.VisitNumber, v.ChiefComplaint, string(v.Status),
		v.VisitDate.UnixMilli(), nullableMillis(v.DischargeDate), string(formsJSON),
		v.CreatedAt.UnixMilli(), v.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}

	return tx.Commit()
}

const visitColumns = `id, patientId, visitNumber, chiefComplaint, status, visitDate, dischargeDate, forms, createdAt, updatedAt`

func (s *SQLiteStore) GetVisit(ctx context.Context, id string) (*Visit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = ?`, id)
	v, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVisitNotFound
		}
		return nil, err
	}
	return v, nil
}

func (s *SQLiteStore) ListVisits(ctx context.Context, patientID string) ([]Visit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE patientId = ?
		ORDER BY visitNumber DESC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	defer rows.Close()

	var visits []Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, *v)
	}
	return visits, rows.Err()
}

func (s *SQLiteStore) UpdateVisit(ctx context.Context, v *Visit) error {
	formsJSON, err := json.Marshal(v.Forms)
	if err != nil {
		return fmt.Errorf("encode forms: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE visits
		SET chiefComplaint = ?, status = ?, dischargeDate = ?, forms = ?, updatedAt = ?
		WHERE id = ?
	`, v.ChiefComplaint, string(v.Status), nullableMillis(v.DischargeDate),
		string(formsJSON), v.UpdatedAt.UnixMilli(), v.ID)
	if err != nil {
		return fmt.Errorf("update visit: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrVisitNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVisit(row scanner) (*Visit, error) {
	var v Visit
	var status, formsJSON string
	var visitDate, createdAt, updatedAt int64
	var dischargeDate sql.NullInt64

	if err := row.Scan(&v.ID, &v.PatientID, &v.VisitNumber, &v.ChiefComplaint, &status,
		&visitDate, &dischargeDate, &formsJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan visit: %w", err)
	}

	v.Status = VisitStatus(status)
	v.VisitDate = time.UnixMilli(visitDate).UTC()
	v.CreatedAt = time.UnixMilli(createdAt).UTC()
	v.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if dischargeDate.Valid {
		t := time.UnixMilli(dischargeDate.Int64).UTC()
		v.DischargeDate = &t
	}

	var slots map[forms.Slot]FormSlot
	if err := json.Unmarshal([]byte(formsJSON), &slots); err != nil {
		return nil, fmt.Errorf("decode forms of visit %s: %w", v.ID, err)
	}
	v.Forms = normalizeSlots(slots)
	return &v, nil
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
