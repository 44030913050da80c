package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mini-oms/internal/domain"
	"mini-oms/internal/repo"
)

type ProductInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	ImageURL    string `json:"image_url"`
}

type ProductService interface {
	List(ctx context.Context) ([]domain.Product, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	Create(ctx context.Context, actor domain.Actor, in ProductInput) (*domain.Product, error)
	Update(ctx context.Context, actor domain.Actor, id uuid.UUID, in ProductInput) (*domain.Product, error)
	Delete(ctx context.Context, actor domain.Actor, id uuid.UUID) error
}

type productService struct {
	products repo.ProductRepo
	now      func() time.Time
}

func NewProductService(products repo.ProductRepo) ProductService {
	return &productService{products: products, now: time.Now}
}

func requireAdmin(actor domain.Actor) error {
	if actor.IsAnonymous() {
		return domain.ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}

func (s *productService) List(ctx context.Context) ([]domain.Product, error) {
	return s.products.List(ctx)
}

func (s *productService) Get(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.products.FindById(ctx, id)
}

func (s *productService) Create(ctx context.Context, actor domain.Actor, in ProductInput) (*domain.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	now := s.now()
	p := &domain.Product{
		ID:          uuid.New(),
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		ImageURL:    in.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.products.Create(ctx, nil, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update overwrites the catalog fields. Existing order lines keep the name
// and price they were placed with.
func (s *productService) Update(ctx context.Context, actor domain.Actor, id uuid.UUID, in ProductInput) (*domain.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	p, err := s.products.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Name = in.Name
	p.Description = in.Description
	p.Price = in.Price
	p.Stock = in.Stock
	p.ImageURL = in.ImageURL
	p.UpdatedAt = s.now()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.products.Update(ctx, nil, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *productService) Delete(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	return s.products.Delete(ctx, nil, id)
}
