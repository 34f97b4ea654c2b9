package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"nutrikb/dataset"
	"nutrikb/models"
)

// Resolver bildet kanonische Schlüssel auf Ingredient-Zeilen ab.
type Resolver struct {
	db      *gorm.DB
	retry   *Retrier
	journal *Journal
	logger  *zap.Logger
	dryRun  bool

	ids map[string]uint
	// unknown merkt sich erfolglose Lookups
	unknown map[string]bool
	// simulated ersetzt im Dry-Run die Ingredient-Tabelle, ausgehend von einer leeren Tabelle.
	simulated []*models.Ingredient
}

func NewResolver(db *gorm.DB, retry *Retrier, journal *Journal, logger *zap.Logger, dryRun bool) *Resolver {
	return &Resolver{
		db:      db,
		retry:   retry,
		journal: journal,
		logger:  logger.With(zap.String("component", "resolver")),
		dryRun:  dryRun,
		ids:     make(map[string]uint),
		unknown: make(map[string]bool),
	}
}

// ReconcileUnit ist die Merge-Regel für die Basiseinheit: eine gesetzte Einheit ändert sich nicht.
// Fehlt die eingehende Einheit, gewinnt die bestehende; fehlt die bestehende, wird die eingehende übernommen.
// mismatch ist true, wenn beide gesetzt sind und sich unterscheiden.
func ReconcileUnit(existing, incoming string) (unit string, mismatch bool) {
	existing, incoming = strings.TrimSpace(existing), strings.TrimSpace(incoming)
	switch {
	case incoming == "":
		return existing, false
	case existing == "":
		return incoming, false
	case strings.EqualFold(existing, incoming):
		return existing, false
	default:
		return existing, true
	}
}

// ResolveAll löst alle Ingredients des Pakets der Reihe nach auf.
func (r *Resolver) ResolveAll(ctx context.Context, records []dataset.IngredientRecord, stats *Stats) error {
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if seen[rec.CanonicalKey] {
			if err := r.journal.Raise(dataset.Issue{
				Type:    IssueDuplicateIngredient,
				Entity:  dataset.EntityIngredients,
				Key:     rec.CanonicalKey,
				Message: "canonical key appears more than once in the package, later record applied",
			}); err != nil {
				return err
			}
		}

		bound, err := r.resolve(ctx, rec, stats)
		if err != nil {
			return err
		}
		if bound && !seen[rec.CanonicalKey] {
			stats.add(dataset.EntityIngredients, 1)
		}
		seen[rec.CanonicalKey] = true
	}
	return nil
}

// resolve gibt false zurück, wenn der Datensatz wegen eines Konflikts übersprungen wurde.
func (r *Resolver) resolve(ctx context.Context, rec dataset.IngredientRecord, stats *Stats) (bool, error) {
	log := r.logger.With(zap.String("canonical_key", rec.CanonicalKey))

	existing, err := r.findByKey(ctx, rec.CanonicalKey)
	if err != nil {
		return false, err
	}
	if existing == nil {
		existing, err = r.findByName(ctx, rec.Name)
		if err != nil {
			return false, err
		}
		if existing != nil && existing.Key() != "" && existing.Key() != rec.CanonicalKey {
			return false, r.journal.Raise(dataset.Issue{
				Type:    IssueCanonicalKeyConflict,
				Entity:  dataset.EntityIngredients,
				Key:     rec.CanonicalKey,
				Message: fmt.Sprintf("ingredient %q is already bound to canonical key %q, record skipped", rec.Name, existing.Key()),
				Payload: map[string]any{
					"incoming_key":  rec.CanonicalKey,
					"existing_key":  existing.Key(),
					"ingredient_id": existing.ID,
					"name":          rec.Name,
				},
			})
		}
	}

	if existing == nil {
		key := rec.CanonicalKey
		ing := &models.Ingredient{
			CanonicalKey: &key,
			Name:         rec.Name,
			Unit:         rec.Unit,
			Category:     rec.Category,
			Goals:        datatypes.JSONSlice[string](rec.Goals),
		}
		if r.dryRun {
			ing.ID = uint(len(r.simulated) + 1)
			r.simulated = append(r.simulated, ing)
			r.bind(rec.CanonicalKey, ing.ID)
			return true, nil
		}
		if err := r.retry.Do(ctx, "create ingredient", func() error {
			return r.db.WithContext(ctx).Create(ing).Error
		}); err != nil {
			return false, fmt.Errorf("create ingredient %q: %w", key, err)
		}
		log.Debug("Ingredient created", zap.Uint("id", ing.ID))
		r.bind(rec.CanonicalKey, ing.ID)
		stats.created(dataset.EntityIngredients, 1)
		return true, nil
	}

	unit, mismatch := ReconcileUnit(existing.Unit, rec.Unit)
	if mismatch {
		if err := r.journal.Raise(dataset.Issue{
			Type:    IssueBaseUnitMismatch,
			Entity:  dataset.EntityIngredients,
			Key:     rec.CanonicalKey,
			Message: fmt.Sprintf("base unit %q differs from stored unit %q, stored unit kept", rec.Unit, existing.Unit),
			Payload: map[string]any{"existing_unit": existing.Unit, "incoming_unit": rec.Unit},
		}); err != nil {
			return false, err
		}
	}

	updates := map[string]any{
		"canonical_key": rec.CanonicalKey,
		"name":          rec.Name,
		"unit":          unit,
	}
	if rec.Category != "" {
		updates["category"] = rec.Category
	}
	if len(rec.Goals) > 0 {
		updates["goals"] = datatypes.JSONSlice[string](rec.Goals)
	}
	if r.dryRun {
		key := rec.CanonicalKey
		existing.CanonicalKey, existing.Name, existing.Unit = &key, rec.Name, unit
		if rec.Category != "" {
			existing.Category = rec.Category
		}
		if len(rec.Goals) > 0 {
			existing.Goals = datatypes.JSONSlice[string](rec.Goals)
		}
		r.bind(rec.CanonicalKey, existing.ID)
		return true, nil
	}
	if err := r.retry.Do(ctx, "update ingredient", func() error {
		return r.db.WithContext(ctx).Model(&models.Ingredient{}).Where("id = ?", existing.ID).Updates(updates).Error
	}); err != nil {
		return false, fmt.Errorf("update ingredient %q: %w", rec.CanonicalKey, err)
	}
	r.bind(rec.CanonicalKey, existing.ID)
	return true, nil
}

func (r *Resolver) findByKey(ctx context.Context, key string) (*models.Ingredient, error) {
	if r.dryRun {
		return r.findSimulated(func(ing *models.Ingredient) bool { return ing.Key() == key }), nil
	}
	return r.first(ctx, "find ingredient by key", "canonical_key = ?", key)
}

func (r *Resolver) findByName(ctx context.Context, name string) (*models.Ingredient, error) {
	if r.dryRun {
		lower := strings.ToLower(name)
		return r.findSimulated(func(ing *models.Ingredient) bool { return strings.ToLower(ing.Name) == lower }), nil
	}
	return r.first(ctx, "find ingredient by name", "LOWER(name) = LOWER(?)", name)
}

// findSimulated sucht wie first in ID-Reihenfolge.
func (r *Resolver) findSimulated(match func(*models.Ingredient) bool) *models.Ingredient {
	for _, ing := range r.simulated {
		if match(ing) {
			return ing
		}
	}
	return nil
}

func (r *Resolver) first(ctx context.Context, op, query string, arg any) (*models.Ingredient, error) {
	var ing models.Ingredient
	err := r.retry.Do(ctx, op, func() error {
		return r.db.WithContext(ctx).Where(query, arg).Order("id").First(&ing).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &ing, nil
}

func (r *Resolver) bind(key string, id uint) {
	r.ids[key] = id
	delete(r.unknown, key)
}

// Lookup liefert die Zeilen-ID eines kanonischen Schlüssels. Schlüssel, die nicht im Paket stehen,
// werden im Live-Lauf in der Datenbank gesucht (frühere Läufe). Im Dry-Run sind nur Paket-Schlüssel bekannt.
func (r *Resolver) Lookup(ctx context.Context, key string) (uint, bool, error) {
	if id, ok := r.ids[key]; ok {
		return id, true, nil
	}
	if r.dryRun || r.unknown[key] || key == "" {
		return 0, false, nil
	}
	ing, err := r.findByKey(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if ing == nil {
		r.unknown[key] = true
		return 0, false, nil
	}
	r.ids[key] = ing.ID
	return ing.ID, true, nil
}

// ReconcileSynonyms fügt fehlende Synonyme ein. Bestehende werden nie verändert.
func (r *Resolver) ReconcileSynonyms(ctx context.Context, records []dataset.IngredientRecord, chunkSize int, stats *Stats) error {
	type pair struct {
		id   uint
		norm string
	}
	var wanted []models.IngredientSynonym
	seen := map[pair]bool{}
	var ingredientIDs []uint
	for _, rec := range records {
		id, ok := r.ids[rec.CanonicalKey]
		if !ok {
			continue
		}
		for _, syn := range rec.Synonyms {
			norm := dataset.NormalizeKey(syn)
			p := pair{id, norm}
			if norm == "" || seen[p] {
				continue
			}
			seen[p] = true
			wanted = append(wanted, models.IngredientSynonym{IngredientID: id, SynonymNorm: norm, Synonym: syn})
		}
		ingredientIDs = append(ingredientIDs, id)
	}
	stats.add(dataset.EntitySynonyms, len(wanted))
	if r.dryRun || len(wanted) == 0 {
		return nil
	}

	existing := map[pair]bool{}
	for start := 0; start < len(ingredientIDs); start += chunkSize {
		ids := ingredientIDs[start:min(start+chunkSize, len(ingredientIDs))]
		var rows []models.IngredientSynonym
		if err := r.retry.Do(ctx, "load synonyms", func() error {
			return r.db.WithContext(ctx).Where("ingredient_id IN ?", ids).Find(&rows).Error
		}); err != nil {
			return fmt.Errorf("load synonyms: %w", err)
		}
		for _, s := range rows {
			existing[pair{s.IngredientID, s.SynonymNorm}] = true
		}
	}

	var missing []models.IngredientSynonym
	for _, s := range wanted {
		if !existing[pair{s.IngredientID, s.SynonymNorm}] {
			missing = append(missing, s)
		}
	}

	inserted := 0
	for start := 0; start < len(missing); start += chunkSize {
		batch := missing[start:min(start+chunkSize, len(missing))]
		err := r.retry.Do(ctx, "insert synonyms", func() error {
			return r.db.WithContext(ctx).Create(&batch).Error
		})
		if err == nil {
			inserted += len(batch)
			continue
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("insert synonyms: %w", err)
		}
		// Einzeln wiederholen, damit nur die Dubletten übersprungen werden.
		for i := range batch {
			s := batch[i]
			s.ID = 0
			err := r.retry.Do(ctx, "insert synonym", func() error {
				return r.db.WithContext(ctx).Create(&s).Error
			})
			switch {
			case err == nil:
				inserted++
			case errors.Is(err, gorm.ErrDuplicatedKey):
				if err := r.journal.Raise(dataset.Issue{
					Type:    IssueDuplicateSynonym,
					Entity:  dataset.EntitySynonyms,
					Key:     fmt.Sprintf("%d|%s", s.IngredientID, s.SynonymNorm),
					Message: fmt.Sprintf("synonym %q already present", s.Synonym),
				}); err != nil {
					return err
				}
			default:
				return fmt.Errorf("insert synonym %q: %w", s.Synonym, err)
			}
		}
	}
	stats.created(dataset.EntitySynonyms, inserted)
	return nil
}
