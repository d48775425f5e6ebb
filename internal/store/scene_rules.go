package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

const sceneRuleColumns = `id, owner_id, name, enabled, trigger_type, trigger_device_id, trigger_field,
		trigger_value, trigger_time_start, trigger_time_end, trigger_state_device_id, trigger_state_value,
		action_device_id, action_type, action_value, debounce_seconds, last_triggered_at, created_at, updated_at`

// SceneRuleStore persists reactive automation rules.
type SceneRuleStore interface {
	GetByID(ctx context.Context, id int64) (models.SceneRule, error)
	ListAll(ctx context.Context) ([]models.SceneRule, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]models.SceneRule, error)
	ListEnabledForTrigger(ctx context.Context, deviceID int64) ([]models.SceneRule, error)
	Create(ctx context.Context, rule models.SceneRule) (models.SceneRule, error)
	Update(ctx context.Context, rule models.SceneRule) (models.SceneRule, error)
	Delete(ctx context.Context, id int64) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	TouchLastTriggered(ctx context.Context, id int64, t time.Time) error
}

type SQLSceneRuleStore struct {
	db *sql.DB
}

func NewSceneRuleStore(db *sql.DB) *SQLSceneRuleStore {
	return &SQLSceneRuleStore{db: db}
}

func scanSceneRule(row rowScanner) (models.SceneRule, error) {
	var rule models.SceneRule
	var triggerValue, stateValue, actionValue []byte
	err := row.Scan(
		&rule.ID,
		&rule.OwnerID,
		&rule.Name,
		&rule.Enabled,
		&rule.TriggerType,
		&rule.TriggerDeviceID,
		&rule.TriggerField,
		&triggerValue,
		&rule.TriggerTimeStart,
		&rule.TriggerTimeEnd,
		&rule.TriggerStateDeviceID,
		&stateValue,
		&rule.ActionDeviceID,
		&rule.ActionType,
		&actionValue,
		&rule.DebounceSeconds,
		&rule.LastTriggeredAt,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return models.SceneRule{}, err
	}
	rule.TriggerValue = triggerValue
	rule.TriggerStateValue = stateValue
	rule.ActionValue = actionValue
	return rule, nil
}

func (s *SQLSceneRuleStore) GetByID(ctx context.Context, id int64) (models.SceneRule, error) {
	if s == nil || s.db == nil {
		return models.SceneRule{}, errors.New("scene rule store unavailable")
	}

	rule, err := scanSceneRule(s.db.QueryRowContext(ctx, `
		SELECT `+sceneRuleColumns+`
		FROM scene_rules
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.SceneRule{}, fmt.Errorf("scene rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.SceneRule{}, fmt.Errorf("get scene rule: %w", err)
	}
	return rule, nil
}

func (s *SQLSceneRuleStore) ListAll(ctx context.Context) ([]models.SceneRule, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("scene rule store unavailable")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sceneRuleColumns+`
		FROM scene_rules
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list scene rules: %w", err)
	}
	defer rows.Close()

	return collectSceneRules(rows)
}

func (s *SQLSceneRuleStore) ListByOwner(ctx context.Context, ownerID int64) ([]models.SceneRule, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("scene rule store unavailable")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sceneRuleColumns+`
		FROM scene_rules
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list scene rules by owner: %w", err)
	}
	defer rows.Close()

	return collectSceneRules(rows)
}

func (s *SQLSceneRuleStore) ListEnabledForTrigger(ctx context.Context, deviceID int64) ([]models.SceneRule, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("scene rule store unavailable")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sceneRuleColumns+`
		FROM scene_rules
		WHERE enabled = TRUE AND trigger_device_id = $1
		ORDER BY created_at DESC, id DESC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list enabled scene rules: %w", err)
	}
	defer rows.Close()

	return collectSceneRules(rows)
}

func collectSceneRules(rows *sql.Rows) ([]models.SceneRule, error) {
	var rules []models.SceneRule
	for rows.Next() {
		rule, err := scanSceneRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scene rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scene rules: %w", err)
	}
	return rules, nil
}

func (s *SQLSceneRuleStore) Create(ctx context.Context, rule models.SceneRule) (models.SceneRule, error) {
	if s == nil || s.db == nil {
		return models.SceneRule{}, errors.New("scene rule store unavailable")
	}
	if rule.Name == "" {
		return models.SceneRule{}, errors.New("scene rule name is required")
	}

	created, err := scanSceneRule(s.db.QueryRowContext(ctx, `
		INSERT INTO scene_rules (owner_id, name, enabled, trigger_type, trigger_device_id, trigger_field,
			trigger_value, trigger_time_start, trigger_time_end, trigger_state_device_id, trigger_state_value,
			action_device_id, action_type, action_value, debounce_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		RETURNING `+sceneRuleColumns+`
	`,
		rule.OwnerID,
		rule.Name,
		rule.Enabled,
		rule.TriggerType,
		rule.TriggerDeviceID,
		rule.TriggerField,
		[]byte(rule.TriggerValue),
		rule.TriggerTimeStart,
		rule.TriggerTimeEnd,
		rule.TriggerStateDeviceID,
		[]byte(rule.TriggerStateValue),
		rule.ActionDeviceID,
		rule.ActionType,
		[]byte(rule.ActionValue),
		rule.DebounceSeconds,
	))
	if err != nil {
		return models.SceneRule{}, fmt.Errorf("insert scene rule: %w", err)
	}
	return created, nil
}

func (s *SQLSceneRuleStore) Update(ctx context.Context, rule models.SceneRule) (models.SceneRule, error) {
	if s == nil || s.db == nil {
		return models.SceneRule{}, errors.New("scene rule store unavailable")
	}

	updated, err := scanSceneRule(s.db.QueryRowContext(ctx, `
		UPDATE scene_rules
		SET name = $2,
			enabled = $3,
			trigger_type = $4,
			trigger_device_id = $5,
			trigger_field = $6,
			trigger_value = $7,
			trigger_time_start = $8,
			trigger_time_end = $9,
			trigger_state_device_id = $10,
			trigger_state_value = $11,
			action_device_id = $12,
			action_type = $13,
			action_value = $14,
			debounce_seconds = $15,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+sceneRuleColumns+`
	`,
		rule.ID,
		rule.Name,
		rule.Enabled,
		rule.TriggerType,
		rule.TriggerDeviceID,
		rule.TriggerField,
		[]byte(rule.TriggerValue),
		rule.TriggerTimeStart,
		rule.TriggerTimeEnd,
		rule.TriggerStateDeviceID,
		[]byte(rule.TriggerStateValue),
		rule.ActionDeviceID,
		rule.ActionType,
		[]byte(rule.ActionValue),
		rule.DebounceSeconds,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.SceneRule{}, fmt.Errorf("scene rule %d: %w", rule.ID, ErrNotFound)
	}
	if err != nil {
		return models.SceneRule{}, fmt.Errorf("update scene rule: %w", err)
	}
	return updated, nil
}

func (s *SQLSceneRuleStore) Delete(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return errors.New("scene rule store unavailable")
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM scene_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete scene rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete scene rule: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("scene rule %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLSceneRuleStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if s == nil || s.db == nil {
		return errors.New("scene rule store unavailable")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE scene_rules
		SET enabled = $2,
			updated_at = NOW()
		WHERE id = $1
	`, id, enabled)
	if err != nil {
		return fmt.Errorf("set scene rule enabled: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set scene rule enabled: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("scene rule %d: %w", id, ErrNotFound)
	}
	return nil
}

// TouchLastTriggered records a firing without counting as an edit, so
// updated_at stays untouched.
func (s *SQLSceneRuleStore) TouchLastTriggered(ctx context.Context, id int64, t time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("scene rule store unavailable")
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE scene_rules
		SET last_triggered_at = $2
		WHERE id = $1
	`, id, t)
	if err != nil {
		return fmt.Errorf("touch scene rule: %w", err)
	}
	return nil
}
