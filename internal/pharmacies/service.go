// Package pharmacies registers pharmacy businesses and lists them for review.
// Verification itself is a moderation action.
package pharmacies

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

// RegisterInput is the business data of a new pharmacy.
type RegisterInput struct {
	Name         string `json:"name" validate:"required,max=200"`
	Address      string `json:"address" validate:"required,max=500"`
	ContactEmail string `json:"contact_email" validate:"required,email"`
	PhoneNumber  string `json:"phone_number" validate:"required,max=40"`
}

type PharmacyDTO struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Address      string     `json:"address"`
	ContactEmail string     `json:"contact_email"`
	PhoneNumber  string     `json:"phone_number"`
	IsVerified   bool       `json:"is_verified"`
	OwnerUserID  *uuid.UUID `json:"owner_user_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func FromModel(p models.Pharmacy) PharmacyDTO {
	return PharmacyDTO{
		ID:           p.ID,
		Name:         p.Name,
		Address:      p.Address,
		ContactEmail: p.ContactEmail,
		PhoneNumber:  p.PhoneNumber,
		IsVerified:   p.IsVerified,
		OwnerUserID:  p.OwnerUserID,
		CreatedAt:    p.CreatedAt,
	}
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("pharmacy repository is required")
	}
	return &Service{repo: repo, logg: logg}, nil
}

// RegisterPharmacy creates an unverified pharmacy. A pharmacy-role caller
// becomes its owner; an admin registers it without one.
func (s *Service) RegisterPharmacy(ctx context.Context, p identity.Principal, in RegisterInput) (*PharmacyDTO, error) {
	if err := identity.Require(p, identity.OpRegisterPharmacy); err != nil {
		return nil, err
	}
	row := models.Pharmacy{
		Name:         strings.TrimSpace(in.Name),
		Address:      strings.TrimSpace(in.Address),
		ContactEmail: strings.ToLower(strings.TrimSpace(in.ContactEmail)),
		PhoneNumber:  strings.TrimSpace(in.PhoneNumber),
	}
	if row.Name == "" || row.Address == "" || row.ContactEmail == "" || row.PhoneNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name, address, contact_email and phone_number are required")
	}
	if p.Is(enums.UserRolePharmacy) {
		owner := p.ID
		row.OwnerUserID = &owner
	}
	stamp(&row)
	if err := s.repo.Create(ctx, &row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "register pharmacy")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "pharmacy_id", row.ID.String()), "pharmacy.registered")
	}
	dto := FromModel(row)
	return &dto, nil
}

func (s *Service) ListPharmacies(ctx context.Context, p identity.Principal, params pagination.Params) (pagination.Page[PharmacyDTO], error) {
	if err := identity.Require(p, identity.OpListPharmacies); err != nil {
		return pagination.Page[PharmacyDTO]{}, err
	}
	rows, err := s.repo.List(ctx, params)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return pagination.Page[PharmacyDTO]{}, err
		}
		return pagination.Page[PharmacyDTO]{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pharmacies")
	}
	page := pagination.BuildPage(rows, params.Limit, CursorOf)
	out := pagination.Page[PharmacyDTO]{Items: make([]PharmacyDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
	for _, row := range page.Items {
		out.Items = append(out.Items, FromModel(row))
	}
	return out, nil
}
