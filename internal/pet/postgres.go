package pet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// defaultCandidateLimit caps a fetch when Filters.Limit is unset.
const defaultCandidateLimit = 100

// PostgresStore reads pets from the pets table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save inserts or updates a pet. Used for seeding and by the owning profile
// service; the engine itself only reads.
func (s *PostgresStore) Save(ctx context.Context, p Pet) error {
	traits, err := json.Marshal(p.Traits)
	if err != nil {
		return fmt.Errorf("pet: marshal traits: %w", err)
	}
	if p.Traits == nil {
		traits = []byte("{}")
	}
	photos := p.Photos
	if photos == nil {
		photos = []string{}
	}

	const query = `
		INSERT INTO pets (id, owner_id, name, species, photos, traits)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
		    name     = EXCLUDED.name,
		    species  = EXCLUDED.species,
		    photos   = EXCLUDED.photos,
		    traits   = EXCLUDED.traits`

	_, err = s.db.ExecContext(ctx, query, p.ID, p.OwnerID, p.Name, p.Species, pq.Array(photos), traits)
	if err != nil {
		return fmt.Errorf("pet: save %s: %w", p.ID, err)
	}
	return nil
}

const selectPet = `SELECT id, owner_id, name, species, photos, traits, created_at FROM pets`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPet(row rowScanner) (Pet, error) {
	var (
		p      Pet
		traits []byte
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Species, pq.Array(&p.Photos), &traits, &p.CreatedAt); err != nil {
		return Pet{}, err
	}
	if len(traits) > 0 {
		if err := json.Unmarshal(traits, &p.Traits); err != nil {
			return Pet{}, fmt.Errorf("pet: unmarshal traits for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func (s *PostgresStore) GetPet(ctx context.Context, petID string) (*Pet, error) {
	p, err := scanPet(s.db.QueryRowContext(ctx, selectPet+` WHERE id = $1`, petID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pet: get %s: %w", petID, err)
	}
	return &p, nil
}

func (s *PostgresStore) GetOwnerID(ctx context.Context, petID string) (string, error) {
	var ownerID string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM pets WHERE id = $1`, petID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("pet: get owner of %s: %w", petID, err)
	}
	return ownerID, nil
}

// FetchCandidates returns pets of other owners ordered by creation time.
// An unknown swiping pet yields ErrNotFound.
func (s *PostgresStore) FetchCandidates(ctx context.Context, swipingPetID string, filters Filters) ([]Pet, error) {
	ownerID, err := s.GetOwnerID(ctx, swipingPetID)
	if err != nil {
		return nil, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultCandidateLimit
	}

	query := selectPet + ` WHERE id <> $1 AND owner_id <> $2`
	args := []any{swipingPetID, ownerID}
	if len(filters.Species) > 0 {
		query += ` AND species = ANY($3)`
		args = append(args, pq.Array(filters.Species))
	}
	query += fmt.Sprintf(` ORDER BY created_at, id LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pet: fetch candidates for %s: %w", swipingPetID, err)
	}
	defer rows.Close()

	var out []Pet
	for rows.Next() {
		p, err := scanPet(rows)
		if err != nil {
			return nil, fmt.Errorf("pet: scan candidate: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pet: fetch candidates for %s: %w", swipingPetID, err)
	}
	return out, nil
}
