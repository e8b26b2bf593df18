package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/sentinel-core/internal/channel"
	"github.com/nerrad567/sentinel-core/internal/entity"
)

// SQLiteRepository implements Repository using SQLite.
//
// Each kind has its own table. Tombstones and change history live in
// entity_tombstones and entity_history and are written in the same
// transaction as the entity row.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const (
	upsertDeviceSQL = `
		INSERT INTO devices (
			id, ip_address, mac_address, device_type, vendor, model, firmware_version,
			status, risk_score, confidence_score, first_seen, last_seen, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ip_address = excluded.ip_address,
			mac_address = excluded.mac_address,
			device_type = excluded.device_type,
			vendor = excluded.vendor,
			model = excluded.model,
			firmware_version = excluded.firmware_version,
			status = excluded.status,
			risk_score = excluded.risk_score,
			confidence_score = excluded.confidence_score,
			last_seen = excluded.last_seen,
			version = excluded.version,
			updated_at = excluded.updated_at`

	upsertAlertSQL = `
		INSERT INTO alerts (
			id, device_id, title, description, alert_type, severity, status,
			confidence, created_at, resolved_at, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			status = excluded.status,
			confidence = excluded.confidence,
			resolved_at = excluded.resolved_at,
			version = excluded.version,
			updated_at = excluded.updated_at`

	upsertVulnerabilitySQL = `
		INSERT INTO vulnerabilities (
			id, device_id, cve_id, title, description, cvss_score, severity,
			patch_status, discovered_at, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cvss_score = excluded.cvss_score,
			severity = excluded.severity,
			patch_status = excluded.patch_status,
			version = excluded.version,
			updated_at = excluded.updated_at`

	selectDevicesSQL = `
		SELECT id, ip_address, mac_address, device_type, vendor, model, firmware_version,
			status, risk_score, confidence_score, first_seen, last_seen, version, updated_at
		FROM devices
		ORDER BY id`

	selectAlertsSQL = `
		SELECT id, device_id, title, description, alert_type, severity, status,
			confidence, created_at, resolved_at, version, updated_at
		FROM alerts
		ORDER BY id`

	selectVulnerabilitiesSQL = `
		SELECT id, device_id, cve_id, title, description, cvss_score, severity,
			patch_status, discovered_at, version, updated_at
		FROM vulnerabilities
		ORDER BY id`
)

// tableFor returns the table holding entities of kind.
func tableFor(kind entity.Kind) (string, error) {
	switch kind {
	case entity.KindDevice:
		return "devices", nil
	case entity.KindAlert:
		return "alerts", nil
	case entity.KindVulnerability:
		return "vulnerabilities", nil
	}
	return "", fmt.Errorf("%w: %q", entity.ErrInvalidKind, kind)
}

// LoadAll reads every live entity and tombstone.
func (r *SQLiteRepository) LoadAll(ctx context.Context) (entity.Baseline, error) {
	b := entity.Baseline{TakenAt: time.Now().UTC()}

	devices, err := r.queryDevices(ctx)
	if err != nil {
		return entity.Baseline{}, err
	}
	alerts, err := r.queryAlerts(ctx)
	if err != nil {
		return entity.Baseline{}, err
	}
	vulns, err := r.queryVulnerabilities(ctx)
	if err != nil {
		return entity.Baseline{}, err
	}
	b.Entities = append(b.Entities, devices...)
	b.Entities = append(b.Entities, alerts...)
	b.Entities = append(b.Entities, vulns...)

	rows, err := r.db.QueryContext(ctx, `SELECT kind, id, version, removed_at FROM entity_tombstones ORDER BY kind, id`)
	if err != nil {
		return entity.Baseline{}, fmt.Errorf("querying tombstones: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ts entity.Tombstone
		var kind, removedAt string
		if err := rows.Scan(&kind, &ts.ID, &ts.Version, &removedAt); err != nil {
			return entity.Baseline{}, fmt.Errorf("scanning tombstone: %w", err)
		}
		ts.Kind = entity.Kind(kind)
		if ts.RemovedAt, err = parseTime(removedAt); err != nil {
			return entity.Baseline{}, err
		}
		b.Tombstones = append(b.Tombstones, ts)
	}
	if err := rows.Err(); err != nil {
		return entity.Baseline{}, fmt.Errorf("iterating tombstones: %w", err)
	}
	return b, nil
}

// Save upserts one snapshot, clears its tombstone and appends rec.
func (r *SQLiteRepository) Save(ctx context.Context, snap *entity.Snapshot, rec ChangeRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := upsertSnapshot(ctx, tx, snap); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entity_tombstones WHERE kind = ? AND id = ?`,
		string(snap.Kind), snap.ID,
	); err != nil {
		return fmt.Errorf("clearing tombstone: %w", err)
	}
	if err := insertHistory(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save: %w", err)
	}
	return nil
}

// Remove deletes entities in the given order and stores their tombstones.
func (r *SQLiteRepository) Remove(ctx context.Context, tombstones []entity.Tombstone, recs []ChangeRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, ts := range tombstones {
		table, err := tableFor(ts.Kind)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, ts.ID); err != nil {
			return fmt.Errorf("deleting %s: %w", ts.Key(), err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_tombstones (kind, id, version, removed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(kind, id) DO UPDATE SET
				version = excluded.version,
				removed_at = excluded.removed_at`,
			string(ts.Kind), ts.ID, ts.Version, formatTime(ts.RemovedAt),
		); err != nil {
			return fmt.Errorf("writing tombstone %s: %w", ts.Key(), err)
		}
	}
	for _, rec := range recs {
		if err := insertHistory(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing removal: %w", err)
	}
	return nil
}

// History returns up to limit records for key, newest first.
func (r *SQLiteRepository) History(ctx context.Context, key entity.Key, limit int) ([]ChangeRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT version, event_type, changes, recorded_at
		FROM entity_history
		WHERE kind = ? AND entity_id = ?
		ORDER BY version DESC, seq DESC
		LIMIT ?`,
		string(key.Kind), key.ID, clampHistoryLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []ChangeRecord
	for rows.Next() {
		rec := ChangeRecord{Kind: key.Kind, ID: key.ID}
		var eventType, recordedAt string
		var changes sql.NullString
		if err := rows.Scan(&rec.Version, &eventType, &changes, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		rec.EventType = channel.EventType(eventType)
		if changes.Valid && changes.String != "" {
			if err := json.Unmarshal([]byte(changes.String), &rec.Changes); err != nil {
				return nil, fmt.Errorf("decoding history changes: %w", err)
			}
		}
		if rec.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return out, nil
}

func upsertSnapshot(ctx context.Context, tx *sql.Tx, snap *entity.Snapshot) error {
	var err error
	switch snap.Kind {
	case entity.KindDevice:
		d := snap.Device
		_, err = tx.ExecContext(ctx, upsertDeviceSQL,
			d.ID, d.IPAddress, nullableString(d.MACAddress), nullableString(d.DeviceType),
			nullableString(d.Vendor), nullableString(d.Model), nullableString(d.FirmwareVersion),
			string(d.Status), d.RiskScore, d.ConfidenceScore,
			formatTime(d.FirstSeen), formatTime(d.LastSeen),
			snap.Version, formatTime(snap.UpdatedAt),
		)
	case entity.KindAlert:
		a := snap.Alert
		_, err = tx.ExecContext(ctx, upsertAlertSQL,
			a.ID, a.DeviceID, a.Title, a.Description, a.AlertType,
			string(a.Severity), string(a.Status), a.Confidence,
			formatTime(a.CreatedAt), nullableTime(a.ResolvedAt),
			snap.Version, formatTime(snap.UpdatedAt),
		)
	case entity.KindVulnerability:
		v := snap.Vulnerability
		_, err = tx.ExecContext(ctx, upsertVulnerabilitySQL,
			v.ID, v.DeviceID, v.CVEID, v.Title, v.Description, v.CVSSScore,
			string(v.Severity), string(v.PatchStatus), formatTime(v.DiscoveredAt),
			snap.Version, formatTime(snap.UpdatedAt),
		)
	default:
		return fmt.Errorf("%w: %q", entity.ErrInvalidKind, snap.Kind)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", snap.Key(), err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, rec ChangeRecord) error {
	var changes sql.NullString
	if len(rec.Changes) > 0 {
		data, err := json.Marshal(rec.Changes)
		if err != nil {
			return fmt.Errorf("encoding history changes: %w", err)
		}
		changes = sql.NullString{String: string(data), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entity_history (kind, entity_id, version, event_type, changes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(rec.Kind), rec.ID, rec.Version, string(rec.EventType), changes, formatTime(rec.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) queryDevices(ctx context.Context) ([]*entity.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, selectDevicesSQL)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []*entity.Snapshot
	for rows.Next() {
		var d entity.Device
		var mac, deviceType, vendor, model, firmware sql.NullString
		var status, firstSeen, lastSeen, updatedAt string
		var version int64
		if err := rows.Scan(
			&d.ID, &d.IPAddress, &mac, &deviceType, &vendor, &model, &firmware,
			&status, &d.RiskScore, &d.ConfidenceScore, &firstSeen, &lastSeen, &version, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.MACAddress = stringPtr(mac)
		d.DeviceType = stringPtr(deviceType)
		d.Vendor = stringPtr(vendor)
		d.Model = stringPtr(model)
		d.FirmwareVersion = stringPtr(firmware)
		d.Status = entity.DeviceStatus(status)
		if d.FirstSeen, err = parseTime(firstSeen); err != nil {
			return nil, err
		}
		if d.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, err
		}

		snap := entity.NewDeviceSnapshot(d)
		snap.Version = version
		if snap.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) queryAlerts(ctx context.Context) ([]*entity.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, selectAlertsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var out []*entity.Snapshot
	for rows.Next() {
		var a entity.Alert
		var severity, status, createdAt, updatedAt string
		var resolvedAt sql.NullString
		var version int64
		if err := rows.Scan(
			&a.ID, &a.DeviceID, &a.Title, &a.Description, &a.AlertType, &severity, &status,
			&a.Confidence, &createdAt, &resolvedAt, &version, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.Severity = entity.Severity(severity)
		a.Status = entity.AlertStatus(status)
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			t, err := parseTime(resolvedAt.String)
			if err != nil {
				return nil, err
			}
			a.ResolvedAt = &t
		}

		snap := entity.NewAlertSnapshot(a)
		snap.Version = version
		if snap.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) queryVulnerabilities(ctx context.Context) ([]*entity.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, selectVulnerabilitiesSQL)
	if err != nil {
		return nil, fmt.Errorf("querying vulnerabilities: %w", err)
	}
	defer rows.Close()

	var out []*entity.Snapshot
	for rows.Next() {
		var v entity.Vulnerability
		var severity, patchStatus, discoveredAt, updatedAt string
		var version int64
		if err := rows.Scan(
			&v.ID, &v.DeviceID, &v.CVEID, &v.Title, &v.Description, &v.CVSSScore,
			&severity, &patchStatus, &discoveredAt, &version, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning vulnerability: %w", err)
		}
		v.Severity = entity.Severity(severity)
		v.PatchStatus = entity.PatchStatus(patchStatus)
		if v.DiscoveredAt, err = parseTime(discoveredAt); err != nil {
			return nil, err
		}

		snap := entity.NewVulnerabilitySnapshot(v)
		snap.Version = version
		if snap.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vulnerabilities: %w", err)
	}
	return out, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
