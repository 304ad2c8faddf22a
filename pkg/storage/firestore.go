package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Every record is stored as a JSON blob under homes/{homeID} with
// a few top-level fields copied out for querying.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// project ID may be empty and detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) homeDoc(homeID string) (*firestore.DocumentRef, error) {
	if homeID == "" {
		return nil, errors.New("homeID cannot be empty")
	}
	return f.client.Collection("homes").Doc(homeID), nil
}

func (f *FirestoreProvider) getCollection(homeID, name string) (*firestore.CollectionRef, error) {
	doc, err := f.homeDoc(homeID)
	if err != nil {
		return nil, err
	}
	return doc.Collection(name), nil
}

// decodeDoc unmarshals the "json" field of a document into v.
func decodeDoc(ctx context.Context, doc *firestore.DocumentSnapshot, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("path", doc.Ref.Path), slog.Any("err", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("path", doc.Ref.Path))
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc", slog.String("path", doc.Ref.Path), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

// encodeDoc marshals v into the "json" field and merges in the extra
// queryable fields.
func encodeDoc(v any, fields map[string]any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	data := map[string]any{"json": string(b)}
	for k, fv := range fields {
		data[k] = fv
	}
	return data, nil
}

// GetHome retrieves a home document.
func (f *FirestoreProvider) GetHome(ctx context.Context, homeID string) (types.Home, error) {
	ref, err := f.homeDoc(homeID)
	if err != nil {
		return types.Home{}, err
	}
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Home{}, fmt.Errorf("%w: %s", ErrHomeNotFound, homeID)
		}
		return types.Home{}, fmt.Errorf("failed to get home %s: %w", homeID, err)
	}
	var h types.Home
	if err := decodeDoc(ctx, doc, &h); err != nil {
		return types.Home{}, err
	}
	return h, nil
}

// ListHomes retrieves all homes, skipping malformed documents.
func (f *FirestoreProvider) ListHomes(ctx context.Context) ([]types.Home, error) {
	iter := f.client.Collection("homes").Documents(ctx)
	defer iter.Stop()

	var homes []types.Home
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating homes: %w", err)
		}
		var h types.Home
		if err := decodeDoc(ctx, doc, &h); err != nil {
			continue
		}
		homes = append(homes, h)
	}
	return homes, nil
}

// PutHome writes the home, keeping any existing penalty state.
func (f *FirestoreProvider) PutHome(ctx context.Context, h types.Home) error {
	ref, err := f.homeDoc(h.ID)
	if err != nil {
		return err
	}
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to get home %s: %w", h.ID, err)
		}
		if err == nil {
			var existing types.Home
			if err := decodeDoc(ctx, doc, &existing); err == nil {
				h.PenaltyAbove = existing.PenaltyAbove
				h.PenaltyCheckedAt = existing.PenaltyCheckedAt
			}
		}
		data, err := encodeDoc(h, map[string]any{"autopilotEnabled": h.AutopilotEnabled})
		if err != nil {
			return fmt.Errorf("failed to marshal home: %w", err)
		}
		return tx.Set(ref, data)
	})
}

// UpdatePenaltyState records the last threshold state of the home.
func (f *FirestoreProvider) UpdatePenaltyState(ctx context.Context, homeID string, above bool, at time.Time) error {
	ref, err := f.homeDoc(homeID)
	if err != nil {
		return err
	}
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s", ErrHomeNotFound, homeID)
			}
			return fmt.Errorf("failed to get home %s: %w", homeID, err)
		}
		var h types.Home
		if err := decodeDoc(ctx, doc, &h); err != nil {
			return err
		}
		at = at.UTC()
		h.PenaltyAbove = &above
		h.PenaltyCheckedAt = &at
		data, err := encodeDoc(h, map[string]any{"autopilotEnabled": h.AutopilotEnabled})
		if err != nil {
			return fmt.Errorf("failed to marshal home: %w", err)
		}
		return tx.Set(ref, data)
	})
}

// GetAppliance retrieves an appliance from the home's "appliances" collection.
func (f *FirestoreProvider) GetAppliance(ctx context.Context, homeID, applianceID string) (types.Appliance, error) {
	coll, err := f.getCollection(homeID, "appliances")
	if err != nil {
		return types.Appliance{}, err
	}
	doc, err := coll.Doc(applianceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Appliance{}, fmt.Errorf("%w: %s/%s", ErrApplianceNotFound, homeID, applianceID)
		}
		return types.Appliance{}, fmt.Errorf("failed to get appliance %s/%s: %w", homeID, applianceID, err)
	}
	var a types.Appliance
	if err := decodeDoc(ctx, doc, &a); err != nil {
		return types.Appliance{}, err
	}
	return a, nil
}

// ListAppliances returns every appliance in the home.
func (f *FirestoreProvider) ListAppliances(ctx context.Context, homeID string) ([]types.Appliance, error) {
	coll, err := f.getCollection(homeID, "appliances")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []types.Appliance
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating appliances: %w", err)
		}
		var a types.Appliance
		if err := decodeDoc(ctx, doc, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// PutAppliance creates or replaces an appliance.
func (f *FirestoreProvider) PutAppliance(ctx context.Context, a types.Appliance) error {
	coll, err := f.getCollection(a.HomeID, "appliances")
	if err != nil {
		return err
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	data, err := encodeDoc(a, nil)
	if err != nil {
		return fmt.Errorf("failed to marshal appliance: %w", err)
	}
	if _, err := coll.Doc(a.ID).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to put appliance %s/%s: %w", a.HomeID, a.ID, err)
	}
	return nil
}

// UpdateApplianceState writes the appliance's status and eco flag.
func (f *FirestoreProvider) UpdateApplianceState(ctx context.Context, homeID, applianceID string, st types.ApplianceStatus, ecoMode bool, at time.Time) error {
	coll, err := f.getCollection(homeID, "appliances")
	if err != nil {
		return err
	}
	ref := coll.Doc(applianceID)
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%w: %s/%s", ErrApplianceNotFound, homeID, applianceID)
			}
			return fmt.Errorf("failed to get appliance %s/%s: %w", homeID, applianceID, err)
		}
		var a types.Appliance
		if err := decodeDoc(ctx, doc, &a); err != nil {
			return err
		}
		a.Status = st
		a.EcoModeEnabled = ecoMode
		a.UpdatedAt = at.UTC()
		data, err := encodeDoc(a, nil)
		if err != nil {
			return fmt.Errorf("failed to marshal appliance: %w", err)
		}
		return tx.Set(ref, data)
	})
}

func configFields(cfg types.DeviceAutopilotConfig) map[string]any {
	return map[string]any{
		"delegated":      cfg.IsDelegated,
		"overrideActive": cfg.OverrideActive,
	}
}

// GetDeviceConfig returns ErrConfigNotFound if the device was never
// configured.
func (f *FirestoreProvider) GetDeviceConfig(ctx context.Context, homeID, applianceID string) (types.DeviceAutopilotConfig, error) {
	coll, err := f.getCollection(homeID, "autopilot_configs")
	if err != nil {
		return types.DeviceAutopilotConfig{}, err
	}
	doc, err := coll.Doc(applianceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.DeviceAutopilotConfig{}, fmt.Errorf("%w: %s/%s", ErrConfigNotFound, homeID, applianceID)
		}
		return types.DeviceAutopilotConfig{}, fmt.Errorf("failed to get config %s/%s: %w", homeID, applianceID, err)
	}
	var cfg types.DeviceAutopilotConfig
	if err := decodeDoc(ctx, doc, &cfg); err != nil {
		return types.DeviceAutopilotConfig{}, err
	}
	return cfg, nil
}

// PutDeviceConfig creates or replaces a device config.
func (f *FirestoreProvider) PutDeviceConfig(ctx context.Context, cfg types.DeviceAutopilotConfig) error {
	coll, err := f.getCollection(cfg.HomeID, "autopilot_configs")
	if err != nil {
		return err
	}
	if cfg.PreferredAction == "" {
		cfg.PreferredAction = types.PreferredActionTurnOff
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now()
	}
	data, err := encodeDoc(cfg, configFields(cfg))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if _, err := coll.Doc(cfg.ApplianceID).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to put config %s/%s: %w", cfg.HomeID, cfg.ApplianceID, err)
	}
	return nil
}

func (f *FirestoreProvider) queryConfigs(ctx context.Context, homeID, field string) ([]types.DeviceAutopilotConfig, error) {
	coll, err := f.getCollection(homeID, "autopilot_configs")
	if err != nil {
		return nil, err
	}
	iter := coll.Where(field, "==", true).Documents(ctx)
	defer iter.Stop()

	var out []types.DeviceAutopilotConfig
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating configs: %w", err)
		}
		var cfg types.DeviceAutopilotConfig
		if err := decodeDoc(ctx, doc, &cfg); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// ListDelegatedConfigs returns the delegated device configs for a home.
func (f *FirestoreProvider) ListDelegatedConfigs(ctx context.Context, homeID string) ([]types.DeviceAutopilotConfig, error) {
	return f.queryConfigs(ctx, homeID, "delegated")
}

func (f *FirestoreProvider) updateConfig(ctx context.Context, homeID, applianceID string, update func(*types.DeviceAutopilotConfig) bool) (bool, error) {
	coll, err := f.getCollection(homeID, "autopilot_configs")
	if err != nil {
		return false, err
	}
	ref := coll.Doc(applianceID)
	var changed bool
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		changed = false
		cfg := types.DeviceAutopilotConfig{
			HomeID:          homeID,
			ApplianceID:     applianceID,
			PreferredAction: types.PreferredActionTurnOff,
		}
		doc, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to get config %s/%s: %w", homeID, applianceID, err)
		}
		if err == nil {
			if err := decodeDoc(ctx, doc, &cfg); err != nil {
				return err
			}
		}
		if !update(&cfg) {
			return nil
		}
		changed = true
		cfg.UpdatedAt = time.Now()
		data, err := encodeDoc(cfg, configFields(cfg))
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		return tx.Set(ref, data)
	})
	return changed, err
}

// SetOverride marks a device overridden, creating an undelegated config if
// the device has none.
func (f *FirestoreProvider) SetOverride(ctx context.Context, homeID, applianceID string, until *time.Time) error {
	_, err := f.updateConfig(ctx, homeID, applianceID, func(cfg *types.DeviceAutopilotConfig) bool {
		cfg.OverrideActive = true
		cfg.OverrideUntil = until
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to set override %s/%s: %w", homeID, applianceID, err)
	}
	return nil
}

// ClearOverrides clears indefinite and lapsed overrides for the home.
func (f *FirestoreProvider) ClearOverrides(ctx context.Context, homeID string, now time.Time) (int, error) {
	overridden, err := f.queryConfigs(ctx, homeID, "overrideActive")
	if err != nil {
		return 0, err
	}
	var cleared int
	for _, cfg := range overridden {
		changed, err := f.updateConfig(ctx, homeID, cfg.ApplianceID, func(cfg *types.DeviceAutopilotConfig) bool {
			if !cfg.OverrideActive || (cfg.OverrideUntil != nil && cfg.OverrideUntil.After(now)) {
				return false
			}
			cfg.OverrideActive = false
			cfg.OverrideUntil = nil
			return true
		})
		if err != nil {
			return cleared, fmt.Errorf("failed to clear override %s/%s: %w", homeID, cfg.ApplianceID, err)
		}
		if changed {
			cleared++
		}
	}
	return cleared, nil
}

func snapshotDocID(applianceID string, tc types.TriggerClass) string {
	return applianceID + "_" + string(tc)
}

func snapshotFields(s types.SavedState) map[string]any {
	return map[string]any{
		"restored":     s.RestoredAt != nil,
		"triggerClass": string(s.TriggerClass),
		"savedAt":      s.SavedAt,
	}
}

// UpsertSnapshot stores the snapshot under a deterministic per-key document
// inside a transaction, leaving an existing live snapshot untouched.
func (f *FirestoreProvider) UpsertSnapshot(ctx context.Context, s types.SavedState) (types.SavedState, bool, error) {
	coll, err := f.getCollection(s.HomeID, "saved_states")
	if err != nil {
		return types.SavedState{}, false, err
	}
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now()
	}
	s.SavedAt = s.SavedAt.UTC()
	s.RestoredAt = nil
	ref := coll.Doc(snapshotDocID(s.ApplianceID, s.TriggerClass))

	var result types.SavedState
	var created bool
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false
		doc, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to get snapshot: %w", err)
		}
		toWrite := s
		if err == nil {
			var existing types.SavedState
			if err := decodeDoc(ctx, doc, &existing); err != nil {
				return err
			}
			if existing.Live() {
				result = existing
				return nil
			}
			toWrite.ID = existing.ID
		}
		if toWrite.ID == "" {
			toWrite.ID = uuid.NewString()
		}
		data, err := encodeDoc(toWrite, snapshotFields(toWrite))
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		result = toWrite
		created = true
		return tx.Set(ref, data)
	})
	if err != nil {
		return types.SavedState{}, false, fmt.Errorf("failed to upsert snapshot %s/%s: %w", s.HomeID, s.ApplianceID, err)
	}
	return result, created, nil
}

// MarkSnapshotRestored sets RestoredAt if the snapshot is still live.
func (f *FirestoreProvider) MarkSnapshotRestored(ctx context.Context, homeID, snapshotID string, at time.Time) error {
	coll, err := f.getCollection(homeID, "saved_states")
	if err != nil {
		return err
	}
	iter := coll.Where("restored", "==", false).Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			// already restored or never existed
			return nil
		}
		if err != nil {
			return fmt.Errorf("error iterating snapshots: %w", err)
		}
		var s types.SavedState
		if err := decodeDoc(ctx, doc, &s); err != nil {
			return err
		}
		if s.ID != snapshotID {
			continue
		}
		return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			fresh, err := tx.Get(doc.Ref)
			if err != nil {
				return fmt.Errorf("failed to get snapshot %s: %w", snapshotID, err)
			}
			var cur types.SavedState
			if err := decodeDoc(ctx, fresh, &cur); err != nil {
				return err
			}
			if !cur.Live() || cur.ID != snapshotID {
				return nil
			}
			restoredAt := at.UTC()
			cur.RestoredAt = &restoredAt
			data, err := encodeDoc(cur, snapshotFields(cur))
			if err != nil {
				return fmt.Errorf("failed to marshal snapshot: %w", err)
			}
			return tx.Set(doc.Ref, data)
		})
	}
}

// ListUnrestoredSnapshots returns the live snapshots for a home.
func (f *FirestoreProvider) ListUnrestoredSnapshots(ctx context.Context, homeID string, filter types.SnapshotFilter) ([]types.SavedState, error) {
	coll, err := f.getCollection(homeID, "saved_states")
	if err != nil {
		return nil, err
	}
	iter := coll.Where("restored", "==", false).Documents(ctx)
	defer iter.Stop()

	var out []types.SavedState
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating snapshots: %w", err)
		}
		var s types.SavedState
		if err := decodeDoc(ctx, doc, &s); err != nil {
			return nil, err
		}
		if filter.Matches(s.TriggerClass) {
			out = append(out, s)
		}
	}
	return out, nil
}

// AppendActionLog adds an entry to the "action_logs" collection. The
// document ID starts with the RFC3339 timestamp so ID range queries return
// entries in time order.
func (f *FirestoreProvider) AppendActionLog(ctx context.Context, e types.ActionLog) error {
	coll, err := f.getCollection(e.HomeID, "action_logs")
	if err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := encodeDoc(e, map[string]any{
		"applianceID": e.ApplianceID,
		"timestamp":   e.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal action log: %w", err)
	}
	docID := e.Timestamp.UTC().Format(time.RFC3339Nano) + "_" + e.ID
	if _, err := coll.Doc(docID).Create(ctx, data); err != nil {
		return fmt.Errorf("failed to append action log: %w", err)
	}
	return nil
}

// GetLatestActionLog returns nil if the appliance has no log entries.
func (f *FirestoreProvider) GetLatestActionLog(ctx context.Context, homeID, applianceID string) (*types.ActionLog, error) {
	coll, err := f.getCollection(homeID, "action_logs")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where("applianceID", "==", applianceID).
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest action log for %s/%s: %w", homeID, applianceID, err)
	}
	var e types.ActionLog
	if err := decodeDoc(ctx, doc, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetActionHistory retrieves log entries in [start, end) using document ID
// range queries.
func (f *FirestoreProvider) GetActionHistory(ctx context.Context, homeID string, start, end time.Time) ([]types.ActionLog, error) {
	coll, err := f.getCollection(homeID, "action_logs")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339Nano))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339Nano))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var out []types.ActionLog
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating action logs: %w", err)
		}
		var e types.ActionLog
		if err := decodeDoc(ctx, doc, &e); err != nil {
			return nil, err
		}
		if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// PutRule creates or replaces a legacy automation rule.
func (f *FirestoreProvider) PutRule(ctx context.Context, r types.AutomationRule) error {
	coll, err := f.getCollection(r.HomeID, "automation_rules")
	if err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	data, err := encodeDoc(r, nil)
	if err != nil {
		return fmt.Errorf("failed to marshal rule: %w", err)
	}
	if _, err := coll.Doc(r.ID).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to put rule %s: %w", r.ID, err)
	}
	return nil
}

// ListRules returns the home's legacy rules ordered by ID.
func (f *FirestoreProvider) ListRules(ctx context.Context, homeID string) ([]types.AutomationRule, error) {
	coll, err := f.getCollection(homeID, "automation_rules")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []types.AutomationRule
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating rules: %w", err)
		}
		var r types.AutomationRule
		if err := decodeDoc(ctx, doc, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// SetRulesTriggered marks the home's active rules triggered, or resets every
// rule when triggered is false.
func (f *FirestoreProvider) SetRulesTriggered(ctx context.Context, homeID string, triggered bool, at time.Time) error {
	rules, err := f.ListRules(ctx, homeID)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if triggered && !r.IsActive {
			continue
		}
		if r.IsTriggered == triggered {
			continue
		}
		r.IsTriggered = triggered
		if triggered {
			at := at.UTC()
			r.LastTriggeredAt = &at
		}
		if err := f.PutRule(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
