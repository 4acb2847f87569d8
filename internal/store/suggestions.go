package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/schaermu/posyncd/internal/model"
)

// AddSuggestion stores a proposed translation
func (s *Store) AddSuggestion(ctx context.Context, sg *model.Suggestion) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(sg).Error; err != nil {
		return fmt.Errorf("failed to store suggestion: %w", err)
	}
	return nil
}

// Suggestion returns a suggestion with its project and language
func (s *Store) Suggestion(ctx context.Context, id uint) (*model.Suggestion, error) {
	var sg model.Suggestion
	err := s.db.WithContext(ctx).
		Preload("Project").
		Preload("Language").
		First(&sg, id).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("suggestion %d", id))
	}
	return &sg, nil
}

// Suggestions returns the suggestions for a checksum in a project and
// language
func (s *Store) Suggestions(ctx context.Context, checksum string, projectID, languageID uint) ([]model.Suggestion, error) {
	var suggestions []model.Suggestion
	err := s.db.WithContext(ctx).
		Where("checksum = ? AND project_id = ? AND language_id = ?", checksum, projectID, languageID).
		Order("id").
		Find(&suggestions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	return suggestions, nil
}

// DeleteSuggestion removes a suggestion
func (s *Store) DeleteSuggestion(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).Delete(&model.Suggestion{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete suggestion %d: %w", id, err)
	}
	return nil
}

// SetCheckIgnored records whether a check is ignored for a checksum
func (s *Store) SetCheckIgnored(ctx context.Context, checksum string, projectID, languageID uint, kind model.CheckKind, ignore bool) (*model.Check, error) {
	var c model.Check
	err := s.db.WithContext(ctx).
		Where(model.Check{Checksum: checksum, ProjectID: projectID, LanguageID: languageID, Kind: kind}).
		FirstOrCreate(&c).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load check: %w", err)
	}
	if c.Ignore != ignore {
		if err := s.db.WithContext(ctx).Model(&c).Update("is_ignored", ignore).Error; err != nil {
			return nil, fmt.Errorf("failed to update check: %w", err)
		}
	}
	return &c, nil
}

// IgnoredChecks returns the checks ignored for a checksum in a project and
// language
func (s *Store) IgnoredChecks(ctx context.Context, checksum string, projectID, languageID uint) ([]model.Check, error) {
	var checks []model.Check
	err := s.db.WithContext(ctx).
		Where("checksum = ? AND project_id = ? AND language_id = ? AND is_ignored = ?", checksum, projectID, languageID, true).
		Find(&checks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}
	return checks, nil
}

// ProjectStats aggregates translation counters of one project
type ProjectStats struct {
	Project    model.Project
	Translated int
	Total      int
}

// TranslatedPercent returns the translated share of the project
func (p ProjectStats) TranslatedPercent() float64 {
	return model.Percent(p.Translated, p.Total)
}

// Stats returns the aggregated counters of every project
func (s *Store) Stats(ctx context.Context) ([]ProjectStats, error) {
	projects, err := s.Projects(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]ProjectStats, 0, len(projects))
	for _, p := range projects {
		var sums struct {
			Translated int
			Total      int
		}
		err := s.db.WithContext(ctx).
			Table("translations").
			Select("COALESCE(SUM(translations.translated), 0) AS translated, COALESCE(SUM(translations.total), 0) AS total").
			Joins("JOIN components ON components.id = translations.component_id").
			Where("components.project_id = ?", p.ID).
			Scan(&sums).Error
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate project %s: %w", p.Slug, err)
		}
		result = append(result, ProjectStats{Project: p, Translated: sums.Translated, Total: sums.Total})
	}
	return result, nil
}
