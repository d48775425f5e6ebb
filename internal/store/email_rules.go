package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

const emailRuleColumns = `id, name, enabled, preset, trigger_device_id, trigger_field, trigger_value,
		trigger_above, recipients, cc_list, subject_template, body_template, last_triggered_at, created_at, updated_at`

// EmailAlertRuleStore persists admin-managed notification rules.
type EmailAlertRuleStore interface {
	GetByID(ctx context.Context, id int64) (models.EmailAlertRule, error)
	ListAll(ctx context.Context) ([]models.EmailAlertRule, error)
	ListEnabledFor(ctx context.Context, deviceID int64, field string) ([]models.EmailAlertRule, error)
	Create(ctx context.Context, rule models.EmailAlertRule) (models.EmailAlertRule, error)
	Update(ctx context.Context, rule models.EmailAlertRule) (models.EmailAlertRule, error)
	Delete(ctx context.Context, id int64) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	TouchLastTriggered(ctx context.Context, id int64, t time.Time) error
}

type SQLEmailAlertRuleStore struct {
	db *sql.DB
}

func NewEmailAlertRuleStore(db *sql.DB) *SQLEmailAlertRuleStore {
	return &SQLEmailAlertRuleStore{db: db}
}

func scanEmailRule(row rowScanner) (models.EmailAlertRule, error) {
	var rule models.EmailAlertRule
	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Enabled,
		&rule.Preset,
		&rule.TriggerDeviceID,
		&rule.TriggerField,
		&rule.TriggerValue,
		&rule.TriggerAbove,
		&rule.Recipients,
		&rule.CCList,
		&rule.SubjectTemplate,
		&rule.BodyTemplate,
		&rule.LastTriggeredAt,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return models.EmailAlertRule{}, err
	}
	return rule, nil
}

func (s *SQLEmailAlertRuleStore) GetByID(ctx context.Context, id int64) (models.EmailAlertRule, error) {
	if s == nil || s.db == nil {
		return models.EmailAlertRule{}, errors.New("email alert rule store unavailable")
	}

	rule, err := scanEmailRule(s.db.QueryRowContext(ctx, `
		SELECT `+emailRuleColumns+`
		FROM email_alert_rules
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.EmailAlertRule{}, fmt.Errorf("email alert rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.EmailAlertRule{}, fmt.Errorf("get email alert rule: %w", err)
	}
	return rule, nil
}

func (s *SQLEmailAlertRuleStore) ListAll(ctx context.Context) ([]models.EmailAlertRule, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("email alert rule store unavailable")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+emailRuleColumns+`
		FROM email_alert_rules
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list email alert rules: %w", err)
	}
	defer rows.Close()

	return collectEmailRules(rows)
}

func (s *SQLEmailAlertRuleStore) ListEnabledFor(ctx context.Context, deviceID int64, field string) ([]models.EmailAlertRule, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("email alert rule store unavailable")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+emailRuleColumns+`
		FROM email_alert_rules
		WHERE enabled = TRUE AND trigger_device_id = $1 AND trigger_field = $2
		ORDER BY created_at DESC, id DESC
	`, deviceID, field)
	if err != nil {
		return nil, fmt.Errorf("list enabled email alert rules: %w", err)
	}
	defer rows.Close()

	return collectEmailRules(rows)
}

func collectEmailRules(rows *sql.Rows) ([]models.EmailAlertRule, error) {
	var rules []models.EmailAlertRule
	for rows.Next() {
		rule, err := scanEmailRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email alert rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate email alert rules: %w", err)
	}
	return rules, nil
}

func (s *SQLEmailAlertRuleStore) Create(ctx context.Context, rule models.EmailAlertRule) (models.EmailAlertRule, error) {
	if s == nil || s.db == nil {
		return models.EmailAlertRule{}, errors.New("email alert rule store unavailable")
	}
	if rule.Name == "" {
		return models.EmailAlertRule{}, errors.New("email alert rule name is required")
	}

	created, err := scanEmailRule(s.db.QueryRowContext(ctx, `
		INSERT INTO email_alert_rules (name, enabled, preset, trigger_device_id, trigger_field, trigger_value,
			trigger_above, recipients, cc_list, subject_template, body_template, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING `+emailRuleColumns+`
	`,
		rule.Name,
		rule.Enabled,
		rule.Preset,
		rule.TriggerDeviceID,
		rule.TriggerField,
		rule.TriggerValue,
		rule.TriggerAbove,
		rule.Recipients,
		rule.CCList,
		rule.SubjectTemplate,
		rule.BodyTemplate,
	))
	if err != nil {
		return models.EmailAlertRule{}, fmt.Errorf("insert email alert rule: %w", err)
	}
	return created, nil
}

func (s *SQLEmailAlertRuleStore) Update(ctx context.Context, rule models.EmailAlertRule) (models.EmailAlertRule, error) {
	if s == nil || s.db == nil {
		return models.EmailAlertRule{}, errors.New("email alert rule store unavailable")
	}

	updated, err := scanEmailRule(s.db.QueryRowContext(ctx, `
		UPDATE email_alert_rules
		SET name = $2,
			enabled = $3,
			preset = $4,
			trigger_device_id = $5,
			trigger_field = $6,
			trigger_value = $7,
			trigger_above = $8,
			recipients = $9,
			cc_list = $10,
			subject_template = $11,
			body_template = $12,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+emailRuleColumns+`
	`,
		rule.ID,
		rule.Name,
		rule.Enabled,
		rule.Preset,
		rule.TriggerDeviceID,
		rule.TriggerField,
		rule.TriggerValue,
		rule.TriggerAbove,
		rule.Recipients,
		rule.CCList,
		rule.SubjectTemplate,
		rule.BodyTemplate,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.EmailAlertRule{}, fmt.Errorf("email alert rule %d: %w", rule.ID, ErrNotFound)
	}
	if err != nil {
		return models.EmailAlertRule{}, fmt.Errorf("update email alert rule: %w", err)
	}
	return updated, nil
}

func (s *SQLEmailAlertRuleStore) Delete(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return errors.New("email alert rule store unavailable")
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM email_alert_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete email alert rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete email alert rule: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("email alert rule %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLEmailAlertRuleStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if s == nil || s.db == nil {
		return errors.New("email alert rule store unavailable")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE email_alert_rules
		SET enabled = $2,
			updated_at = NOW()
		WHERE id = $1
	`, id, enabled)
	if err != nil {
		return fmt.Errorf("set email alert rule enabled: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set email alert rule enabled: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("email alert rule %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLEmailAlertRuleStore) TouchLastTriggered(ctx context.Context, id int64, t time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("email alert rule store unavailable")
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE email_alert_rules
		SET last_triggered_at = $2
		WHERE id = $1
	`, id, t)
	if err != nil {
		return fmt.Errorf("touch email alert rule: %w", err)
	}
	return nil
}
