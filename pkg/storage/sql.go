package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/autopilot/pkg/types"
	_ "modernc.org/sqlite"
)

type sqlDriver string

const (
	driverPostgres sqlDriver = "postgres"
	driverSQLite   sqlDriver = "sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// driverName maps the provider name to the registered database/sql driver.
func (d sqlDriver) driverName() string {
	if d == driverPostgres {
		return "pgx"
	}
	return "sqlite"
}

// SQLProvider implements Database on Postgres (via pgx) or SQLite (via
// modernc). Queries are written with ? placeholders and rebound per driver.
type SQLProvider struct {
	db     *sqlx.DB
	driver sqlDriver
	dsn    string
}

func configuredSQL() *SQLProvider {
	dsn := lflag.String("sql-dsn", "", "DSN for the postgres or sqlite storage provider")

	p := &SQLProvider{}
	lflag.Do(func() {
		p.dsn = *dsn
	})
	return p
}

// NewSQLProvider returns an uninitialized provider for the driver ("postgres"
// or "sqlite") and DSN.
func NewSQLProvider(driver, dsn string) *SQLProvider {
	return &SQLProvider{driver: sqlDriver(driver), dsn: dsn}
}

// Validate checks if the provider is properly configured.
func (p *SQLProvider) Validate() error {
	switch p.driver {
	case driverPostgres, driverSQLite:
	default:
		return fmt.Errorf("unsupported sql driver: %q", p.driver)
	}
	if p.dsn == "" {
		return errors.New("sql-dsn is required")
	}
	return nil
}

// Init opens the database and creates the schema if needed.
func (p *SQLProvider) Init(ctx context.Context) error {
	db, err := sqlx.Open(p.driver.driverName(), p.dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s database: %w", p.driver, err)
	}
	if p.driver == driverSQLite {
		// sqlite only allows one writer and an in-memory database is private
		// to its connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping %s database: %w", p.driver, err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	p.db = db
	return nil
}

// Close closes the database.
func (p *SQLProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS homes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		tariff_plan_id TEXT NOT NULL DEFAULT '',
		region_code TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL DEFAULT 'balanced',
		autopilot_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		grid_protection_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		penalty_above BOOLEAN,
		penalty_checked_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS appliances (
		home_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'OFF',
		eco_mode_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		rated_power_w DOUBLE PRECISION NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT '',
		is_controllable BOOLEAN NOT NULL DEFAULT TRUE,
		smart_plug_id TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (home_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS device_autopilot_configs (
		home_id TEXT NOT NULL,
		appliance_id TEXT NOT NULL,
		is_delegated BOOLEAN NOT NULL DEFAULT FALSE,
		preferred_action TEXT NOT NULL DEFAULT 'turnOff',
		protected_window_start TEXT NOT NULL DEFAULT '',
		protected_window_end TEXT NOT NULL DEFAULT '',
		override_active BOOLEAN NOT NULL DEFAULT FALSE,
		override_until TIMESTAMP,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (home_id, appliance_id)
	)`,
	`CREATE TABLE IF NOT EXISTS saved_states (
		id TEXT PRIMARY KEY,
		home_id TEXT NOT NULL,
		appliance_id TEXT NOT NULL,
		trigger_class TEXT NOT NULL,
		trigger_label TEXT NOT NULL DEFAULT '',
		action_taken TEXT NOT NULL DEFAULT '',
		prev_status TEXT NOT NULL,
		prev_eco_mode BOOLEAN NOT NULL DEFAULT FALSE,
		saved_at TIMESTAMP NOT NULL,
		restored_at TIMESTAMP,
		UNIQUE (home_id, appliance_id, trigger_class)
	)`,
	`CREATE TABLE IF NOT EXISTS action_logs (
		id TEXT PRIMARY KEY,
		home_id TEXT NOT NULL,
		appliance_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		action_name TEXT NOT NULL,
		trigger_label TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		latency_ms BIGINT NOT NULL DEFAULT 0,
		substituted_from TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS action_logs_appliance ON action_logs (home_id, appliance_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS action_logs_home ON action_logs (home_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS automation_rules (
		id TEXT PRIMARY KEY,
		home_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		condition_type TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		target_appliance_ids TEXT NOT NULL DEFAULT '[]',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_triggered BOOLEAN NOT NULL DEFAULT FALSE,
		last_triggered_at TIMESTAMP
	)`,
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

type homeRow struct {
	ID                    string       `db:"id"`
	UserID                string       `db:"user_id"`
	TariffPlanID          string       `db:"tariff_plan_id"`
	RegionCode            string       `db:"region_code"`
	Timezone              string       `db:"timezone"`
	Strategy              string       `db:"strategy"`
	AutopilotEnabled      bool         `db:"autopilot_enabled"`
	GridProtectionEnabled bool         `db:"grid_protection_enabled"`
	PenaltyAbove          sql.NullBool `db:"penalty_above"`
	PenaltyCheckedAt      sql.NullTime `db:"penalty_checked_at"`
}

func (r homeRow) home() types.Home {
	h := types.Home{
		ID:                    r.ID,
		UserID:                r.UserID,
		TariffPlanID:          r.TariffPlanID,
		RegionCode:            r.RegionCode,
		Timezone:              r.Timezone,
		Strategy:              types.Strategy(r.Strategy),
		AutopilotEnabled:      r.AutopilotEnabled,
		GridProtectionEnabled: r.GridProtectionEnabled,
		PenaltyCheckedAt:      timePtr(r.PenaltyCheckedAt),
	}
	if r.PenaltyAbove.Valid {
		above := r.PenaltyAbove.Bool
		h.PenaltyAbove = &above
	}
	return h
}

const homeColumns = `id, user_id, tariff_plan_id, region_code, timezone, strategy, autopilot_enabled, grid_protection_enabled, penalty_above, penalty_checked_at`

// GetHome returns ErrHomeNotFound if the home does not exist.
func (p *SQLProvider) GetHome(ctx context.Context, homeID string) (types.Home, error) {
	var row homeRow
	err := p.db.GetContext(ctx, &row, p.db.Rebind(`SELECT `+homeColumns+` FROM homes WHERE id = ?`), homeID)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Home{}, fmt.Errorf("%w: %s", ErrHomeNotFound, homeID)
	}
	if err != nil {
		return types.Home{}, fmt.Errorf("failed to get home %s: %w", homeID, err)
	}
	return row.home(), nil
}

// ListHomes returns every home ordered by ID.
func (p *SQLProvider) ListHomes(ctx context.Context) ([]types.Home, error) {
	var rows []homeRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT `+homeColumns+` FROM homes ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list homes: %w", err)
	}
	homes := make([]types.Home, 0, len(rows))
	for _, r := range rows {
		homes = append(homes, r.home())
	}
	return homes, nil
}

// PutHome creates or replaces the home's settings. The penalty state is only
// written on create so re-seeding a home doesn't lose transition tracking.
func (p *SQLProvider) PutHome(ctx context.Context, h types.Home) error {
	if h.ID == "" {
		return errors.New("home id cannot be empty")
	}
	var above sql.NullBool
	if h.PenaltyAbove != nil {
		above = sql.NullBool{Bool: *h.PenaltyAbove, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, p.db.Rebind(`
		INSERT INTO homes (`+homeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			tariff_plan_id = excluded.tariff_plan_id,
			region_code = excluded.region_code,
			timezone = excluded.timezone,
			strategy = excluded.strategy,
			autopilot_enabled = excluded.autopilot_enabled,
			grid_protection_enabled = excluded.grid_protection_enabled`),
		h.ID, h.UserID, h.TariffPlanID, h.RegionCode, h.Timezone, string(h.Strategy),
		h.AutopilotEnabled, h.GridProtectionEnabled, above, nullTime(h.PenaltyCheckedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to put home %s: %w", h.ID, err)
	}
	return nil
}

// UpdatePenaltyState records the last threshold state of the home.
func (p *SQLProvider) UpdatePenaltyState(ctx context.Context, homeID string, above bool, at time.Time) error {
	res, err := p.db.ExecContext(ctx, p.db.Rebind(`UPDATE homes SET penalty_above = ?, penalty_checked_at = ? WHERE id = ?`), above, at.UTC(), homeID)
	if err != nil {
		return fmt.Errorf("failed to update penalty state for %s: %w", homeID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrHomeNotFound, homeID)
	}
	return nil
}

type applianceRow struct {
	HomeID         string    `db:"home_id"`
	ID             string    `db:"id"`
	Name           string    `db:"name"`
	Status         string    `db:"status"`
	EcoModeEnabled bool      `db:"eco_mode_enabled"`
	RatedPowerW    float64   `db:"rated_power_w"`
	Category       string    `db:"category"`
	IsControllable bool      `db:"is_controllable"`
	SmartPlugID    string    `db:"smart_plug_id"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r applianceRow) appliance() types.Appliance {
	return types.Appliance{
		ID:             r.ID,
		HomeID:         r.HomeID,
		Name:           r.Name,
		Status:         types.ApplianceStatus(r.Status),
		EcoModeEnabled: r.EcoModeEnabled,
		RatedPowerW:    r.RatedPowerW,
		Category:       r.Category,
		IsControllable: r.IsControllable,
		SmartPlugID:    r.SmartPlugID,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

const applianceColumns = `home_id, id, name, status, eco_mode_enabled, rated_power_w, category, is_controllable, smart_plug_id, updated_at`

// GetAppliance returns ErrApplianceNotFound if the appliance does not exist.
func (p *SQLProvider) GetAppliance(ctx context.Context, homeID, applianceID string) (types.Appliance, error) {
	var row applianceRow
	err := p.db.GetContext(ctx, &row, p.db.Rebind(`SELECT `+applianceColumns+` FROM appliances WHERE home_id = ? AND id = ?`), homeID, applianceID)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Appliance{}, fmt.Errorf("%w: %s/%s", ErrApplianceNotFound, homeID, applianceID)
	}
	if err != nil {
		return types.Appliance{}, fmt.Errorf("failed to get appliance %s/%s: %w", homeID, applianceID, err)
	}
	return row.appliance(), nil
}

// ListAppliances returns the home's appliances ordered by ID.
func (p *SQLProvider) ListAppliances(ctx context.Context, homeID string) ([]types.Appliance, error) {
	var rows []applianceRow
	if err := p.db.SelectContext(ctx, &rows, p.db.Rebind(`SELECT `+applianceColumns+` FROM appliances WHERE home_id = ? ORDER BY id`), homeID); err != nil {
		return nil, fmt.Errorf("failed to list appliances for %s: %w", homeID, err)
	}
	out := make([]types.Appliance, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.appliance())
	}
	return out, nil
}

// PutAppliance creates or replaces an appliance.
func (p *SQLProvider) PutAppliance(ctx context.Context, a types.Appliance) error {
	if a.HomeID == "" || a.ID == "" {
		return errors.New("appliance home and id cannot be empty")
	}
	updated := a.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := p.db.ExecContext(ctx, p.db.Rebind(`
		INSERT INTO appliances (`+applianceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (home_id, id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			eco_mode_enabled = excluded.eco_mode_enabled,
			rated_power_w = excluded.rated_power_w,
			category = excluded.category,
			is_controllable = excluded.is_controllable,
			smart_plug_id = excluded.smart_plug_id,
			updated_at = excluded.updated_at`),
		a.HomeID, a.ID, a.Name, string(a.Status), a.EcoModeEnabled, a.RatedPowerW,
		a.Category, a.IsControllable, a.SmartPlugID, updated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put appliance %s/%s: %w", a.HomeID, a.ID, err)
	}
	return nil
}

// UpdateApplianceState writes the appliance's status and eco flag.
func (p *SQLProvider) UpdateApplianceState(ctx context.Context, homeID, applianceID string, status types.ApplianceStatus, ecoMode bool, at time.Time) error {
	res, err := p.db.ExecContext(ctx, p.db.Rebind(`UPDATE appliances SET status = ?, eco_mode_enabled = ?, updated_at = ? WHERE home_id = ? AND id = ?`),
		string(status), ecoMode, at.UTC(), homeID, applianceID)
	if err != nil {
		return fmt.Errorf("failed to update appliance %s/%s: %w", homeID, applianceID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrApplianceNotFound, homeID, applianceID)
	}
	return nil
}

type configRow struct {
	HomeID               string       `db:"home_id"`
	ApplianceID          string       `db:"appliance_id"`
	IsDelegated          bool         `db:"is_delegated"`
	PreferredAction      string       `db:"preferred_action"`
	ProtectedWindowStart string       `db:"protected_window_start"`
	ProtectedWindowEnd   string       `db:"protected_window_end"`
	OverrideActive       bool         `db:"override_active"`
	OverrideUntil        sql.NullTime `db:"override_until"`
	UpdatedAt            time.Time    `db:"updated_at"`
}

func (r configRow) config() (types.DeviceAutopilotConfig, error) {
	cfg := types.DeviceAutopilotConfig{
		HomeID:          r.HomeID,
		ApplianceID:     r.ApplianceID,
		IsDelegated:     r.IsDelegated,
		PreferredAction: types.PreferredAction(r.PreferredAction),
		OverrideActive:  r.OverrideActive,
		OverrideUntil:   timePtr(r.OverrideUntil),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.ProtectedWindowStart != "" && r.ProtectedWindowEnd != "" {
		start, err := types.ParseClockTime(r.ProtectedWindowStart)
		if err != nil {
			return cfg, fmt.Errorf("invalid protected window for %s/%s: %w", r.HomeID, r.ApplianceID, err)
		}
		end, err := types.ParseClockTime(r.ProtectedWindowEnd)
		if err != nil {
			return cfg, fmt.Errorf("invalid protected window for %s/%s: %w", r.HomeID, r.ApplianceID, err)
		}
		cfg.ProtectedWindow = &types.ProtectedWindow{Start: start, End: end}
	}
	return cfg, nil
}

const configColumns = `home_id, appliance_id, is_delegated, preferred_action, protected_window_start, protected_window_end, override_active, override_until, updated_at`

// GetDeviceConfig returns ErrConfigNotFound if the device was never
// configured.
func (p *SQLProvider) GetDeviceConfig(ctx context.Context, homeID, applianceID string) (types.DeviceAutopilotConfig, error) {
	var row configRow
	err := p.db.GetContext(ctx, &row, p.db.Rebind(`SELECT `+configColumns+` FROM device_autopilot_configs WHERE home_id = ? AND appliance_id = ?`), homeID, applianceID)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DeviceAutopilotConfig{}, fmt.Errorf("%w: %s/%s", ErrConfigNotFound, homeID, applianceID)
	}
	if err != nil {
		return types.DeviceAutopilotConfig{}, fmt.Errorf("failed to get config %s/%s: %w", homeID, applianceID, err)
	}
	return row.config()
}

// PutDeviceConfig creates or replaces a device config.
func (p *SQLProvider) PutDeviceConfig(ctx context.Context, cfg types.DeviceAutopilotConfig) error {
	if cfg.HomeID == "" || cfg.ApplianceID == "" {
		return errors.New("config home and appliance cannot be empty")
	}
	var start, end string
	if cfg.ProtectedWindow != nil {
		start, end = cfg.ProtectedWindow.Start.String(), cfg.ProtectedWindow.End.String()
	}
	action := cfg.PreferredAction
	if action == "" {
		action = types.PreferredActionTurnOff
	}
	updated := cfg.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := p.db.ExecContext(ctx, p.db.Rebind(`
		INSERT INTO device_autopilot_configs (`+configColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (home_id, appliance_id) DO UPDATE SET
			is_delegated = excluded.is_delegated,
			preferred_action = excluded.preferred_action,
			protected_window_start = excluded.protected_window_start,
			protected_window_end = excluded.protected_window_end,
			override_active = excluded.override_active,
			override_until = excluded.override_until,
			updated_at = excluded.updated_at`),
		cfg.HomeID, cfg.ApplianceID, cfg.IsDelegated, string(action), start, end,
		cfg.OverrideActive, nullTime(cfg.OverrideUntil), updated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put config %s/%s: %w", cfg.HomeID, cfg.ApplianceID, err)
	}
	return nil
}

// ListDelegatedConfigs returns the delegated device configs for a home.
func (p *SQLProvider) ListDelegatedConfigs(ctx context.Context, homeID string) ([]types.DeviceAutopilotConfig, error) {
	var rows []configRow
	err := p.db.SelectContext(ctx, &rows, p.db.Rebind(`SELECT `+configColumns+` FROM device_autopilot_configs WHERE home_id = ? AND is_delegated = ? ORDER BY appliance_id`), homeID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list configs for %s: %w", homeID, err)
	}
	out := make([]types.DeviceAutopilotConfig, 0, len(rows))
	for _, r := range rows {
		cfg, err := r.config()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// SetOverride marks a device overridden, creating an undelegated config if
// the device has none.
func (p *SQLProvider) SetOverride(ctx context.Context, homeID, applianceID string, until *time.Time) error {
	_, err := p.db.ExecContext(ctx, p.db.Rebind(`
		INSERT INTO device_autopilot_configs (home_id, appliance_id, override_active, override_until, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (home_id, appliance_id) DO UPDATE SET
			override_active = excluded.override_active,
			override_until = excluded.override_until,
			updated_at = excluded.updated_at`),
		homeID, applianceID, true, nullTime(until), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set override %s/%s: %w", homeID, applianceID, err)
	}
	return nil
}

// ClearOverrides clears indefinite and lapsed overrides for the home.
func (p *SQLProvider) ClearOverrides(ctx context.Context, homeID string, now time.Time) (int, error) {
	var rows []configRow
	err := p.db.SelectContext(ctx, &rows, p.db.Rebind(`SELECT `+configColumns+` FROM device_autopilot_configs WHERE home_id = ? AND override_active = ?`), homeID, true)
	if err != nil {
		return 0, fmt.Errorf("failed to list overrides for %s: %w", homeID, err)
	}
	var cleared int
	for _, r := range rows {
		until := timePtr(r.OverrideUntil)
		if until != nil && until.After(now) {
			continue
		}
		_, err := p.db.ExecContext(ctx, p.db.Rebind(`UPDATE device_autopilot_configs SET override_active = ?, override_until = NULL, updated_at = ? WHERE home_id = ? AND appliance_id = ?`),
			false, now.UTC(), homeID, r.ApplianceID)
		if err != nil {
			return cleared, fmt.Errorf("failed to clear override %s/%s: %w", homeID, r.ApplianceID, err)
		}
		cleared++
	}
	return cleared, nil
}

type snapshotRow struct {
	ID           string       `db:"id"`
	HomeID       string       `db:"home_id"`
	ApplianceID  string       `db:"appliance_id"`
	TriggerClass string       `db:"trigger_class"`
	TriggerLabel string       `db:"trigger_label"`
	ActionTaken  string       `db:"action_taken"`
	PrevStatus   string       `db:"prev_status"`
	PrevEcoMode  bool         `db:"prev_eco_mode"`
	SavedAt      time.Time    `db:"saved_at"`
	RestoredAt   sql.NullTime `db:"restored_at"`
}

func (r snapshotRow) savedState() types.SavedState {
	return types.SavedState{
		ID:           r.ID,
		HomeID:       r.HomeID,
		ApplianceID:  r.ApplianceID,
		TriggerClass: types.TriggerClass(r.TriggerClass),
		Trigger:      r.TriggerLabel,
		Action:       types.PreferredAction(r.ActionTaken),
		PrevStatus:   types.ApplianceStatus(r.PrevStatus),
		PrevEcoMode:  r.PrevEcoMode,
		SavedAt:      r.SavedAt.UTC(),
		RestoredAt:   timePtr(r.RestoredAt),
	}
}

const snapshotColumns = `id, home_id, appliance_id, trigger_class, trigger_label, action_taken, prev_status, prev_eco_mode, saved_at, restored_at`

// UpsertSnapshot inserts the snapshot or revives a restored row for the same
// key. The conditional DO UPDATE leaves a live row untouched so the first
// pre-action state survives concurrent or repeated saves.
func (p *SQLProvider) UpsertSnapshot(ctx context.Context, s types.SavedState) (types.SavedState, bool, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now()
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return types.SavedState{}, false, fmt.Errorf("failed to begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO saved_states (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (home_id, appliance_id, trigger_class) DO UPDATE SET
			trigger_label = excluded.trigger_label,
			action_taken = excluded.action_taken,
			prev_status = excluded.prev_status,
			prev_eco_mode = excluded.prev_eco_mode,
			saved_at = excluded.saved_at,
			restored_at = NULL
		WHERE saved_states.restored_at IS NOT NULL`),
		s.ID, s.HomeID, s.ApplianceID, string(s.TriggerClass), s.Trigger, string(s.Action),
		string(s.PrevStatus), s.PrevEcoMode, s.SavedAt.UTC(),
	)
	if err != nil {
		return types.SavedState{}, false, fmt.Errorf("failed to upsert snapshot %s/%s: %w", s.HomeID, s.ApplianceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.SavedState{}, false, fmt.Errorf("failed to read snapshot upsert result: %w", err)
	}

	var row snapshotRow
	err = tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+snapshotColumns+` FROM saved_states WHERE home_id = ? AND appliance_id = ? AND trigger_class = ?`),
		s.HomeID, s.ApplianceID, string(s.TriggerClass))
	if err != nil {
		return types.SavedState{}, false, fmt.Errorf("failed to read back snapshot %s/%s: %w", s.HomeID, s.ApplianceID, err)
	}
	if err := tx.Commit(); err != nil {
		return types.SavedState{}, false, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return row.savedState(), n > 0, nil
}

// MarkSnapshotRestored sets restored_at if the snapshot is still live.
func (p *SQLProvider) MarkSnapshotRestored(ctx context.Context, homeID, snapshotID string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, p.db.Rebind(`UPDATE saved_states SET restored_at = ? WHERE home_id = ? AND id = ? AND restored_at IS NULL`),
		at.UTC(), homeID, snapshotID)
	if err != nil {
		return fmt.Errorf("failed to mark snapshot %s restored: %w", snapshotID, err)
	}
	return nil
}

// ListUnrestoredSnapshots returns the live snapshots for a home, oldest
// first.
func (p *SQLProvider) ListUnrestoredSnapshots(ctx context.Context, homeID string, filter types.SnapshotFilter) ([]types.SavedState, error) {
	var rows []snapshotRow
	err := p.db.SelectContext(ctx, &rows, p.db.Rebind(`SELECT `+snapshotColumns+` FROM saved_states WHERE home_id = ? AND restored_at IS NULL ORDER BY saved_at, appliance_id`), homeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots for %s: %w", homeID, err)
	}
	var out []types.SavedState
	for _, r := range rows {
		s := r.savedState()
		if filter.Matches(s.TriggerClass) {
			out = append(out, s)
		}
	}
	return out, nil
}

type actionLogRow struct {
	ID              string    `db:"id"`
	HomeID          string    `db:"home_id"`
	ApplianceID     string    `db:"appliance_id"`
	Actor           string    `db:"actor"`
	ActionName      string    `db:"action_name"`
	TriggerLabel    string    `db:"trigger_label"`
	Result          string    `db:"result"`
	ErrorMessage    string    `db:"error_message"`
	LatencyMS       int64     `db:"latency_ms"`
	SubstitutedFrom string    `db:"substituted_from"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r actionLogRow) actionLog() types.ActionLog {
	return types.ActionLog{
		ID:              r.ID,
		HomeID:          r.HomeID,
		ApplianceID:     r.ApplianceID,
		Actor:           types.Actor(r.Actor),
		Action:          types.ActionName(r.ActionName),
		Trigger:         r.TriggerLabel,
		Result:          types.ActionResult(r.Result),
		Error:           r.ErrorMessage,
		Latency:         time.Duration(r.LatencyMS) * time.Millisecond,
		SubstitutedFrom: types.PreferredAction(r.SubstitutedFrom),
		Timestamp:       r.CreatedAt.UTC(),
	}
}

const actionLogColumns = `id, home_id, appliance_id, actor, action_name, trigger_label, result, error_message, latency_ms, substituted_from, created_at`

// AppendActionLog inserts a control log entry.
func (p *SQLProvider) AppendActionLog(ctx context.Context, e types.ActionLog) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := p.db.ExecContext(ctx, p.db.Rebind(`INSERT INTO action_logs (`+actionLogColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.HomeID, e.ApplianceID, string(e.Actor), string(e.Action), e.Trigger, string(e.Result),
		e.Error, e.Latency.Milliseconds(), string(e.SubstitutedFrom), e.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append action log for %s/%s: %w", e.HomeID, e.ApplianceID, err)
	}
	return nil
}

// GetLatestActionLog returns nil if the appliance has no log entries.
func (p *SQLProvider) GetLatestActionLog(ctx context.Context, homeID, applianceID string) (*types.ActionLog, error) {
	var row actionLogRow
	err := p.db.GetContext(ctx, &row, p.db.Rebind(`SELECT `+actionLogColumns+` FROM action_logs WHERE home_id = ? AND appliance_id = ? ORDER BY created_at DESC LIMIT 1`), homeID, applianceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest action log for %s/%s: %w", homeID, applianceID, err)
	}
	l := row.actionLog()
	return &l, nil
}

// GetActionHistory returns log entries in [start, end) oldest first.
func (p *SQLProvider) GetActionHistory(ctx context.Context, homeID string, start, end time.Time) ([]types.ActionLog, error) {
	var rows []actionLogRow
	err := p.db.SelectContext(ctx, &rows, p.db.Rebind(`SELECT `+actionLogColumns+` FROM action_logs WHERE home_id = ? AND created_at >= ? AND created_at < ? ORDER BY created_at`),
		homeID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get action history for %s: %w", homeID, err)
	}
	out := make([]types.ActionLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.actionLog())
	}
	return out, nil
}

type ruleRow struct {
	ID              string       `db:"id"`
	HomeID          string       `db:"home_id"`
	Name            string       `db:"name"`
	ConditionType   string       `db:"condition_type"`
	Action          string       `db:"action"`
	Targets         string       `db:"target_appliance_ids"`
	IsActive        bool         `db:"is_active"`
	IsTriggered     bool         `db:"is_triggered"`
	LastTriggeredAt sql.NullTime `db:"last_triggered_at"`
}

const ruleColumns = `id, home_id, name, condition_type, action, target_appliance_ids, is_active, is_triggered, last_triggered_at`

// PutRule creates or replaces a legacy automation rule.
func (p *SQLProvider) PutRule(ctx context.Context, r types.AutomationRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	targets := r.TargetApplianceIDs
	if targets == nil {
		targets = []string{}
	}
	tb, err := json.Marshal(targets)
	if err != nil {
		return fmt.Errorf("failed to encode rule targets: %w", err)
	}
	_, err = p.db.ExecContext(ctx, p.db.Rebind(`
		INSERT INTO automation_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			condition_type = excluded.condition_type,
			action = excluded.action,
			target_appliance_ids = excluded.target_appliance_ids,
			is_active = excluded.is_active,
			is_triggered = excluded.is_triggered,
			last_triggered_at = excluded.last_triggered_at`),
		r.ID, r.HomeID, r.Name, r.ConditionType, r.Action, string(tb), r.IsActive, r.IsTriggered, nullTime(r.LastTriggeredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to put rule %s: %w", r.ID, err)
	}
	return nil
}

// ListRules returns the home's legacy rules ordered by ID.
func (p *SQLProvider) ListRules(ctx context.Context, homeID string) ([]types.AutomationRule, error) {
	var rows []ruleRow
	if err := p.db.SelectContext(ctx, &rows, p.db.Rebind(`SELECT `+ruleColumns+` FROM automation_rules WHERE home_id = ? ORDER BY id`), homeID); err != nil {
		return nil, fmt.Errorf("failed to list rules for %s: %w", homeID, err)
	}
	out := make([]types.AutomationRule, 0, len(rows))
	for _, r := range rows {
		var targets []string
		if r.Targets != "" {
			if err := json.Unmarshal([]byte(r.Targets), &targets); err != nil {
				return nil, fmt.Errorf("failed to decode targets of rule %s: %w", r.ID, err)
			}
		}
		out = append(out, types.AutomationRule{
			ID:                 r.ID,
			HomeID:             r.HomeID,
			Name:               r.Name,
			ConditionType:      r.ConditionType,
			Action:             r.Action,
			TargetApplianceIDs: targets,
			IsActive:           r.IsActive,
			IsTriggered:        r.IsTriggered,
			LastTriggeredAt:    timePtr(r.LastTriggeredAt),
		})
	}
	return out, nil
}

// SetRulesTriggered marks the home's active rules triggered, or resets every
// rule when triggered is false.
func (p *SQLProvider) SetRulesTriggered(ctx context.Context, homeID string, triggered bool, at time.Time) error {
	var err error
	if triggered {
		_, err = p.db.ExecContext(ctx, p.db.Rebind(`UPDATE automation_rules SET is_triggered = ?, last_triggered_at = ? WHERE home_id = ? AND is_active = ?`),
			true, at.UTC(), homeID, true)
	} else {
		_, err = p.db.ExecContext(ctx, p.db.Rebind(`UPDATE automation_rules SET is_triggered = ? WHERE home_id = ?`), false, homeID)
	}
	if err != nil {
		return fmt.Errorf("failed to set rules triggered for %s: %w", homeID, err)
	}
	return nil
}
