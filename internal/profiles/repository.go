package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository stores profiles on the dentists row and reads the patient
// register.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("profiles: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	return &Repository{db: q}
}

const profileColumns = `id, name, COALESCE(phone, ''), COALESCE(experience_years, 0), COALESCE(specialization, ''), profile_updated_at`

func scanProfile(row pgx.Row) (*DentistProfile, error) {
	var p DentistProfile
	if err := row.Scan(&p.DentistID, &p.Name, &p.Phone, &p.ExperienceYears, &p.Specialization, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetDentistProfile returns ErrNotFound until the dentist has created a
// profile.
func (r *Repository) GetDentistProfile(ctx context.Context, dentistID string) (*DentistProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM dentists WHERE id = $1 AND profile_updated_at IS NOT NULL`
	p, err := scanProfile(r.db.QueryRow(ctx, query, dentistID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("profiles: get dentist profile: %w", err)
	}
	return p, nil
}

// CreateDentistProfile fills in the profile once.
func (r *Repository) CreateDentistProfile(ctx context.Context, dentistID string, req ProfileRequest) (*DentistProfile, error) {
	query := `
		UPDATE dentists
		SET name = $2, phone = $3, experience_years = $4, specialization = $5, profile_updated_at = now()
		WHERE id = $1 AND profile_updated_at IS NULL
		RETURNING ` + profileColumns
	p, err := scanProfile(r.db.QueryRow(ctx, query, dentistID, req.Name, req.Phone, *req.ExperienceYears, req.Specialization))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profiles: create dentist profile: %w", err)
	}

	var hasProfile bool
	err = r.db.QueryRow(ctx, `SELECT profile_updated_at IS NOT NULL FROM dentists WHERE id = $1`, dentistID).Scan(&hasProfile)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("profiles: check dentist profile: %w", err)
	case hasProfile:
		return nil, ErrAlreadyExists
	default:
		return nil, fmt.Errorf("profiles: dentist %s profile changed concurrently", dentistID)
	}
}

// UpdateDentistProfile replaces an existing profile.
func (r *Repository) UpdateDentistProfile(ctx context.Context, dentistID string, req ProfileRequest) (*DentistProfile, error) {
	query := `
		UPDATE dentists
		SET name = $2, phone = $3, experience_years = $4, specialization = $5, profile_updated_at = now()
		WHERE id = $1 AND profile_updated_at IS NOT NULL
		RETURNING ` + profileColumns
	p, err := scanProfile(r.db.QueryRow(ctx, query, dentistID, req.Name, req.Phone, *req.ExperienceYears, req.Specialization))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("profiles: update dentist profile: %w", err)
	}
	return p, nil
}

var sortColumns = map[SortKey]string{
	SortByName: "lower(name)",
	SortByID:   "id",
	SortByAge:  "age",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListPatients returns one page of the register and the total match
// count.
func (r *Repository) ListPatients(ctx context.Context, q PatientQuery) (*PatientPage, error) {
	q = q.Normalize()
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT id, name, COALESCE(age, 0), COALESCE(gender, ''), COALESCE(phone, ''), COALESCE(address, ''),
		       count(*) OVER ()
		FROM patients
		WHERE $1 = '' OR name ILIKE '%%' || $1 || '%%' OR id ILIKE '%%' || $1 || '%%'
		ORDER BY %s %s, id
		LIMIT $2 OFFSET $3
	`, sortColumns[q.Sort], dir)

	rows, err := r.db.Query(ctx, query, likeEscaper.Replace(q.Search), q.PerPage, q.Offset())
	if err != nil {
		return nil, fmt.Errorf("profiles: list patients: %w", err)
	}
	defer rows.Close()

	page := &PatientPage{Patients: []PatientRecord{}, Page: q.Page, PerPage: q.PerPage}
	for rows.Next() {
		var p PatientRecord
		if err := rows.Scan(&p.ID, &p.Name, &p.Age, &p.Gender, &p.Phone, &p.Address, &page.Total); err != nil {
			return nil, fmt.Errorf("profiles: scan patient: %w", err)
		}
		page.Patients = append(page.Patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profiles: list patients rows: %w", err)
	}
	// Past the last page the window count is unavailable; report the
	// empty page without a total.
	page.TotalPages = (page.Total + q.PerPage - 1) / q.PerPage
	return page, nil
}
