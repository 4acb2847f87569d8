package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/schaermu/posyncd/internal/model"
)

const entriesTable = "entries"

// EntryIDs returns the ids of all entries of a translation
func (s *Store) EntryIDs(ctx context.Context, translationID uint) (map[uint]struct{}, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&model.Entry{}).
		Where("translation_id = ?", translationID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// EntryByChecksum returns the entry of a translation with the given checksum
func (s *Store) EntryByChecksum(ctx context.Context, translationID uint, checksum string) (*model.Entry, error) {
	var e model.Entry
	err := s.db.WithContext(ctx).
		Where("translation_id = ? AND checksum = ?", translationID, checksum).
		Order("id").
		First(&e).Error
	if err != nil {
		return nil, notFound(err, "entry "+checksum)
	}
	return &e, nil
}

// Entry returns an entry with its translation, component, project and
// language
func (s *Store) Entry(ctx context.Context, id uint) (*model.Entry, error) {
	var e model.Entry
	err := s.db.WithContext(ctx).
		Preload("Translation.Component.Project").
		Preload("Translation.Language").
		First(&e, id).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("entry %d", id))
	}
	return &e, nil
}

// Entries returns the entries of a translation in file order
func (s *Store) Entries(ctx context.Context, translationID uint) ([]model.Entry, error) {
	var entries []model.Entry
	err := s.db.WithContext(ctx).
		Where("translation_id = ?", translationID).
		Order("position").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return entries, nil
}

// ApplyEntrySync writes an entry read from the catalog during
// synchronization
func (s *Store) ApplyEntrySync(ctx context.Context, e *model.Entry) error {
	if err := s.saveEntry(ctx, e); err != nil {
		return fmt.Errorf("failed to store entry %s: %w", e.Checksum, err)
	}
	return nil
}

// SaveEditedEntry writes an entry after its edit was saved to the catalog
func (s *Store) SaveEditedEntry(ctx context.Context, e *model.Entry) error {
	if err := s.saveEntry(ctx, e); err != nil {
		return fmt.Errorf("failed to store edited entry %d: %w", e.ID, err)
	}
	return nil
}

func (s *Store) saveEntry(ctx context.Context, e *model.Entry) error {
	return s.db.WithContext(withBackendWrite(ctx)).
		Omit(clause.Associations).
		Save(e).Error
}

// DeleteEntries removes entries no longer present in the catalog
func (s *Store) DeleteEntries(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(withBackendWrite(ctx)).
		Where("id IN ?", ids).
		Delete(&model.Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// UpdateStats recounts the entries of a translation and stores the counters
// together with revision
func (s *Store) UpdateStats(ctx context.Context, translationID uint, revision string) (*model.Translation, error) {
	var total, fuzzy, translated int64
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&model.Entry{}).Where("translation_id = ?", translationID)
	}
	if err := base().Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}
	if err := base().Where("fuzzy = ?", true).Count(&fuzzy).Error; err != nil {
		return nil, fmt.Errorf("failed to count fuzzy entries: %w", err)
	}
	if err := base().Where("translated = ?", true).Count(&translated).Error; err != nil {
		return nil, fmt.Errorf("failed to count translated entries: %w", err)
	}

	err := s.db.WithContext(ctx).
		Model(&model.Translation{}).
		Where("id = ?", translationID).
		Updates(map[string]any{
			"total":      total,
			"fuzzy":      fuzzy,
			"translated": translated,
			"revision":   revision,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update translation stats: %w", err)
	}
	return s.Translation(ctx, translationID)
}

// MatchingEntries returns every entry with checksum in translations of the
// project into the language, in id order
func (s *Store) MatchingEntries(ctx context.Context, checksum string, projectID, languageID uint) ([]model.Entry, error) {
	var entries []model.Entry
	err := s.db.WithContext(ctx).
		Preload("Translation.Component.Project").
		Preload("Translation.Language").
		Joins("JOIN translations ON translations.id = entries.translation_id").
		Joins("JOIN components ON components.id = translations.component_id").
		Where("entries.checksum = ? AND components.project_id = ? AND translations.language_id = ?",
			checksum, projectID, languageID).
		Order("entries.id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find entries for %s: %w", checksum, err)
	}
	return entries, nil
}

// SiblingEntries returns the entries sharing checksum, project and language
// with e, excluding e itself
func (s *Store) SiblingEntries(ctx context.Context, e *model.Entry) ([]model.Entry, error) {
	all, err := s.MatchingEntries(ctx, e.Checksum, e.Translation.Component.ProjectID, e.Translation.LanguageID)
	if err != nil {
		return nil, err
	}
	siblings := all[:0]
	for _, other := range all {
		if other.ID != e.ID {
			siblings = append(siblings, other)
		}
	}
	return siblings, nil
}
