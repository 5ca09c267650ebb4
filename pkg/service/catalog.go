package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// ProductSearcher is the full text index products are mirrored into.
type ProductSearcher interface {
	Search(ctx context.Context, collection, query string, limit int64) ([]bson.M, error)
}

const productCollection = "products"

type CategoryInput struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
}

type CategoryPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type TagInput struct {
	Name string `json:"name" binding:"required"`
}

type NameFilter struct {
	Name string `form:"name"`
	Pagination
}

// CatalogService manages categories, tags, products and their variants.
type CatalogService struct {
	Deps
	index  ProductSearcher
	logger *zap.Logger
}

// NewCatalogService creates the catalog service. index may be nil, search then
// falls back to the database.
func NewCatalogService(deps Deps, index ProductSearcher) *CatalogService {
	return &CatalogService{Deps: deps, index: index, logger: deps.named("catalog-service")}
}

func (s *CatalogService) CreateCategory(ctx context.Context, in CategoryInput) (*models.Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name is required", "name")
	}

	c := &models.Category{ID: uuid.NewString(), Name: name, Description: in.Description}
	if err := s.DB.WithContext(ctx).Create(c).Error; err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, conflictf("category %q already exists", name)
		}
		return nil, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (s *CatalogService) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	var c models.Category
	if err := s.DB.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err, "category")
	}
	return &c, nil
}

func (s *CatalogService) ListCategories(ctx context.Context, filter NameFilter) ([]models.Category, error) {
	q := s.DB.WithContext(ctx).Model(&models.Category{})
	if filter.Name != "" {
		q = q.Where("name LIKE ?", like(filter.Name))
	}

	var categories []models.Category
	if err := filter.Pagination.apply(q).Order("name").Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (s *CatalogService) UpdateCategory(ctx context.Context, id string, patch CategoryPatch) (*models.Category, error) {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, invalid("name must not be empty", "name")
		}
		updates["name"] = name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}

	if len(updates) > 0 {
		res := s.DB.WithContext(ctx).Model(&models.Category{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			if repository.IsDuplicateKey(res.Error) {
				return nil, conflictf("category %q already exists", updates["name"])
			}
			return nil, fmt.Errorf("update category: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, notFound("category")
		}
	}
	return s.GetCategory(ctx, id)
}

// DeleteCategory detaches the category from its products before removing it.
func (s *CatalogService) DeleteCategory(ctx context.Context, id string) error {
	db := s.DB.WithContext(ctx)
	if err := db.Model(&models.Product{}).Where("category_id = ?", id).Update("category_id", nil).Error; err != nil {
		return fmt.Errorf("detach category: %w", err)
	}

	res := db.Delete(&models.Category{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete category: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("category")
	}
	return nil
}

func (s *CatalogService) CreateTag(ctx context.Context, in TagInput) (*models.Tag, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name is required", "name")
	}

	t := &models.Tag{ID: uuid.NewString(), Name: name}
	if err := s.DB.WithContext(ctx).Create(t).Error; err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, conflictf("tag %q already exists", name)
		}
		return nil, fmt.Errorf("insert tag: %w", err)
	}
	return t, nil
}

func (s *CatalogService) GetTag(ctx context.Context, id string) (*models.Tag, error) {
	var t models.Tag
	if err := s.DB.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, translate(err, "tag")
	}
	return &t, nil
}

func (s *CatalogService) ListTags(ctx context.Context, filter NameFilter) ([]models.Tag, error) {
	q := s.DB.WithContext(ctx).Model(&models.Tag{})
	if filter.Name != "" {
		q = q.Where("name LIKE ?", like(filter.Name))
	}

	var tags []models.Tag
	if err := filter.Pagination.apply(q).Order("name").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

func (s *CatalogService) UpdateTag(ctx context.Context, id string, in TagInput) (*models.Tag, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name is required", "name")
	}

	res := s.DB.WithContext(ctx).Model(&models.Tag{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		if repository.IsDuplicateKey(res.Error) {
			return nil, conflictf("tag %q already exists", name)
		}
		return nil, fmt.Errorf("update tag: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, notFound("tag")
	}
	return s.GetTag(ctx, id)
}

func (s *CatalogService) DeleteTag(ctx context.Context, id string) error {
	db := s.DB.WithContext(ctx)
	if err := db.Exec("DELETE FROM product_tags WHERE tag_id = ?", id).Error; err != nil {
		return fmt.Errorf("detach tag: %w", err)
	}

	res := db.Delete(&models.Tag{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete tag: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("tag")
	}
	return nil
}
