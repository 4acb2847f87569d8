package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/schaermu/posyncd/internal/language"
	"github.com/schaermu/posyncd/internal/model"
)

// UpsertProject creates the project or updates its metadata, keyed by slug
func (s *Store) UpsertProject(ctx context.Context, p model.Project) (*model.Project, error) {
	var existing model.Project
	err := s.db.WithContext(ctx).Where("slug = ?", p.Slug).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p.Components = nil
		if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&p).Error; err != nil {
			return nil, fmt.Errorf("failed to create project %s: %w", p.Slug, err)
		}
		return &p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", p.Slug, err)
	}

	if existing.Name == p.Name && existing.Web == p.Web && existing.Mail == p.Mail && existing.Instructions == p.Instructions {
		return &existing, nil
	}
	existing.Name = p.Name
	existing.Web = p.Web
	existing.Mail = p.Mail
	existing.Instructions = p.Instructions
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to update project %s: %w", p.Slug, err)
	}
	return &existing, nil
}

// UpsertComponent creates the component or updates its settings, keyed by
// project and slug. The returned component has its project loaded.
func (s *Store) UpsertComponent(ctx context.Context, project *model.Project, c model.Component) (*model.Component, error) {
	var existing model.Component
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND slug = ?", project.ID, c.Slug).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.ProjectID = project.ID
		if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&c).Error; err != nil {
			return nil, fmt.Errorf("failed to create component %s/%s: %w", project.Slug, c.Slug, err)
		}
		existing = c
	case err != nil:
		return nil, fmt.Errorf("failed to load component %s/%s: %w", project.Slug, c.Slug, err)
	default:
		existing.Name = c.Name
		existing.Repo = c.Repo
		existing.Branch = c.Branch
		existing.FileMask = c.FileMask
		existing.RepoWeb = c.RepoWeb
		if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to update component %s/%s: %w", project.Slug, c.Slug, err)
		}
	}
	existing.Project = *project
	return &existing, nil
}

// Project returns the project with the given slug
func (s *Store) Project(ctx context.Context, slug string) (*model.Project, error) {
	var p model.Project
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&p).Error; err != nil {
		return nil, notFound(err, "project "+slug)
	}
	return &p, nil
}

// Projects returns all projects ordered by name
func (s *Store) Projects(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project
	if err := s.db.WithContext(ctx).Order("name").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// Component returns a component with its project
func (s *Store) Component(ctx context.Context, projectSlug, componentSlug string) (*model.Component, error) {
	var c model.Component
	err := s.db.WithContext(ctx).
		Preload("Project").
		Joins("JOIN projects ON projects.id = components.project_id").
		Where("projects.slug = ? AND components.slug = ?", projectSlug, componentSlug).
		First(&c).Error
	if err != nil {
		return nil, notFound(err, "component "+projectSlug+"/"+componentSlug)
	}
	return &c, nil
}

// EnsureLanguage returns the language with info.Code, creating it from info
// when missing
func (s *Store) EnsureLanguage(ctx context.Context, info language.Info) (*model.Language, error) {
	l := model.Language{}
	err := s.db.WithContext(ctx).
		Where(model.Language{Code: info.Code}).
		Attrs(model.Language{Name: info.Name, NPlurals: info.NPlurals, Plural: info.Plural}).
		FirstOrCreate(&l).Error
	if err != nil {
		// lost a concurrent insert of the same code
		if existing, lerr := s.LanguageByCode(ctx, info.Code); lerr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to ensure language %s: %w", info.Code, err)
	}
	return &l, nil
}

// LanguageByCode returns the language with the given code
func (s *Store) LanguageByCode(ctx context.Context, code string) (*model.Language, error) {
	var l model.Language
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&l).Error; err != nil {
		return nil, notFound(err, "language "+code)
	}
	return &l, nil
}

// EnsureTranslation returns the translation of component into lang, creating
// it for filename when missing. created reports whether a row was inserted.
func (s *Store) EnsureTranslation(ctx context.Context, component *model.Component, lang *model.Language, filename string) (t *model.Translation, created bool, err error) {
	var tr model.Translation
	err = s.db.WithContext(ctx).
		Where("component_id = ? AND language_id = ?", component.ID, lang.ID).
		First(&tr).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		tr = model.Translation{ComponentID: component.ID, LanguageID: lang.ID, Filename: filename}
		if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&tr).Error; err != nil {
			return nil, false, fmt.Errorf("failed to create translation %s: %w", filename, err)
		}
		created = true
	case err != nil:
		return nil, false, fmt.Errorf("failed to load translation %s: %w", filename, err)
	case tr.Filename != filename:
		if err := s.db.WithContext(ctx).Model(&tr).Update("filename", filename).Error; err != nil {
			return nil, false, fmt.Errorf("failed to update translation %s: %w", filename, err)
		}
	}
	tr.Component = *component
	tr.Language = *lang
	return &tr, created, nil
}

func (s *Store) translationQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("Component.Project").
		Preload("Language")
}

// Translation returns a translation with its component, project and language
func (s *Store) Translation(ctx context.Context, id uint) (*model.Translation, error) {
	var tr model.Translation
	if err := s.translationQuery(ctx).First(&tr, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("translation %d", id))
	}
	return &tr, nil
}

// TranslationByCode returns the translation of a component into a language
func (s *Store) TranslationByCode(ctx context.Context, componentID uint, code string) (*model.Translation, error) {
	var tr model.Translation
	err := s.translationQuery(ctx).
		Joins("JOIN languages ON languages.id = translations.language_id").
		Where("translations.component_id = ? AND languages.code = ?", componentID, code).
		First(&tr).Error
	if err != nil {
		return nil, notFound(err, "translation "+code)
	}
	return &tr, nil
}

// TranslationsForLanguage returns every translation into languageID within
// the project
func (s *Store) TranslationsForLanguage(ctx context.Context, projectID, languageID uint) ([]model.Translation, error) {
	var translations []model.Translation
	err := s.translationQuery(ctx).
		Joins("JOIN components ON components.id = translations.component_id").
		Where("components.project_id = ? AND translations.language_id = ?", projectID, languageID).
		Order("translations.id").
		Find(&translations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list translations: %w", err)
	}
	return translations, nil
}

// Translations returns all translations ordered by component and language
func (s *Store) Translations(ctx context.Context) ([]model.Translation, error) {
	var translations []model.Translation
	err := s.translationQuery(ctx).
		Order("translations.component_id").
		Order("translations.language_id").
		Find(&translations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list translations: %w", err)
	}
	return translations, nil
}
