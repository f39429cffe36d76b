package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/repository"
	appErrors "github.com/aularis/lms-api/pkg/errors"
	"github.com/aularis/lms-api/pkg/similarity"
)

type institutionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Institution, error)
	FindByNormalizedName(ctx context.Context, normalized string) (*models.Institution, error)
	ListAll(ctx context.Context) ([]models.Institution, error)
	List(ctx context.Context, filter models.InstitutionFilter) ([]models.Institution, int, error)
	Create(ctx context.Context, inst *models.Institution) error
	Update(ctx context.Context, inst *models.Institution) error
	CountStudents(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
}

// InstitutionService manages the institution registry. Every create and
// rename passes the duplicate guard: an exact normalized match against
// names or aliases rejects outright, and a near-match within edit distance
// rejects with the conflicting name. The scan is linear over all rows,
// which is fine at registry scale.
type InstitutionService struct {
	repo      institutionRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewInstitutionService constructs an InstitutionService.
func NewInstitutionService(repo institutionRepository, validate *validator.Validate, logger *zap.Logger) *InstitutionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &InstitutionService{repo: repo, validator: validate, logger: logger}
}

// Get returns an institution by id.
func (s *InstitutionService) Get(ctx context.Context, id string) (*models.Institution, error) {
	inst, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "institution not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load institution")
	}
	return inst, nil
}

// List returns institutions matching the filter.
func (s *InstitutionService) List(ctx context.Context, filter models.InstitutionFilter) ([]models.Institution, int, error) {
	institutions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list institutions")
	}
	return institutions, total, nil
}

// Create registers a new institution after the duplicate guard passes.
func (s *InstitutionService) Create(ctx context.Context, req models.CreateInstitutionRequest) (*models.Institution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid institution payload")
	}

	normalized := similarity.Normalize(req.Name)
	if normalized == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "name has no comparable characters")
	}

	if err := s.guardName(ctx, normalized, ""); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inst := &models.Institution{
		ID:             uuid.NewString(),
		Name:           req.Name,
		NormalizedName: normalized,
		Aliases:        req.Aliases,
		Website:        req.Website,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, inst); err != nil {
		if errors.Is(err, repository.ErrDuplicateInstitution) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "institution name already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create institution")
	}
	return inst, nil
}

// Update changes institution fields. A rename re-runs the duplicate guard
// against every other institution.
func (s *InstitutionService) Update(ctx context.Context, id string, req models.UpdateInstitutionRequest) (*models.Institution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid institution payload")
	}

	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil && *req.Name != inst.Name {
		normalized := similarity.Normalize(*req.Name)
		if normalized == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "name has no comparable characters")
		}
		if normalized != inst.NormalizedName {
			if err := s.guardName(ctx, normalized, inst.ID); err != nil {
				return nil, err
			}
		}
		inst.Name = *req.Name
		inst.NormalizedName = normalized
	}
	if req.Aliases != nil {
		inst.Aliases = req.Aliases
	}
	if req.Website != nil {
		inst.Website = req.Website
	}

	if err := s.repo.Update(ctx, inst); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateInstitution):
			return nil, appErrors.Clone(appErrors.ErrConflict, "institution name already registered")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "institution not found")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update institution")
		}
	}
	return inst, nil
}

// Delete removes an institution with no students attached to it.
func (s *InstitutionService) Delete(ctx context.Context, id string) error {
	count, err := s.repo.CountStudents(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count institution students")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("institution still has %d students", count))
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "institution not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete institution")
	}
	return nil
}

// guardName rejects names colliding with an existing institution. excludeID
// skips the institution being renamed. Aliases take part in the exact
// check but not the fuzzy one: an alias is an already-known spelling, not
// a nearby typo.
func (s *InstitutionService) guardName(ctx context.Context, normalized, excludeID string) error {
	existing, err := s.repo.FindByNormalizedName(ctx, normalized)
	if err == nil && existing.ID != excludeID {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("institution name already registered as %q", existing.Name))
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check institution name")
	}

	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to scan institutions")
	}

	for _, other := range all {
		if other.ID == excludeID {
			continue
		}
		for _, alias := range other.Aliases {
			if similarity.Normalize(alias) == normalized {
				return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("name is a registered alias of %q", other.Name))
			}
		}
		if similarity.TooSimilar(normalized, other.NormalizedName) {
			return appErrors.Clone(appErrors.ErrSimilarName, fmt.Sprintf("name is too similar to existing institution %q", other.Name))
		}
	}
	return nil
}
