package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/presift/presift/models"
)

// Store wraps the service database with typed queries.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// LoadAllConfigurations assembles the full configuration snapshot.
func (s *Store) LoadAllConfigurations() (*models.AllConfigurations, error) {
	cfg := &models.AllConfigurations{}

	rows, err := s.db.Query(`SELECT id, name, description, icon FROM file_categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c models.FileCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Icon); err != nil {
			return nil, fmt.Errorf("failed to scan category: %v", err)
		}
		cfg.FileCategories = append(cfg.FileCategories, c)
	}

	ruleRows, err := s.db.Query(`
		SELECT id, name, description, rule_type, category_id, priority,
		       action, enabled, pattern, pattern_type, extra_data
		FROM file_filter_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query filter rules: %v", err)
	}
	defer ruleRows.Close()
	for ruleRows.Next() {
		var r models.FileFilterRule
		var categoryID sql.NullInt64
		var extraData sql.NullString
		if err := ruleRows.Scan(&r.ID, &r.Name, &r.Description, &r.RuleType, &categoryID,
			&r.Priority, &r.Action, &r.Enabled, &r.Pattern, &r.PatternType, &extraData); err != nil {
			return nil, fmt.Errorf("failed to scan filter rule: %v", err)
		}
		if categoryID.Valid {
			id := int(categoryID.Int64)
			r.CategoryID = &id
		}
		if extraData.Valid && extraData.String != "" {
			if err := json.Unmarshal([]byte(extraData.String), &r.ExtraData); err != nil {
				return nil, fmt.Errorf("failed to decode extra_data of rule %d: %v", r.ID, err)
			}
		}
		cfg.FileFilterRules = append(cfg.FileFilterRules, r)
	}

	extRows, err := s.db.Query(`SELECT id, extension, category_id, priority FROM file_extension_maps ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query extension maps: %v", err)
	}
	defer extRows.Close()
	for extRows.Next() {
		var em models.FileExtensionMap
		if err := extRows.Scan(&em.ID, &em.Extension, &em.CategoryID, &em.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan extension map: %v", err)
		}
		cfg.FileExtensionMaps = append(cfg.FileExtensionMaps, em)
	}

	folders, err := s.ListDirectories()
	if err != nil {
		return nil, err
	}
	cfg.MonitoredFolders = folders

	return cfg, nil
}

// LoadScanningConfig assembles the narrow scanning snapshot.
func (s *Store) LoadScanningConfig() (*models.FileScanningConfig, error) {
	full, err := s.LoadAllConfigurations()
	if err != nil {
		return nil, err
	}

	cfg := &models.FileScanningConfig{
		ExtensionMappings: make(map[string]int, len(full.FileExtensionMaps)),
		FileCategories:    full.FileCategories,
		BundleExtensions:  full.BundleExtensions,
	}
	for _, em := range full.FileExtensionMaps {
		cfg.ExtensionMappings[em.Extension] = em.CategoryID
	}
	for _, rule := range full.FileFilterRules {
		if rule.Enabled && rule.Action == models.ActionExclude {
			cfg.IgnorePatterns = append(cfg.IgnorePatterns, rule.Pattern)
		}
	}
	return cfg, nil
}

// UpsertScreeningResults stores a batch, replacing any prior record per path.
func (s *Store) UpsertScreeningResults(records []*models.FileMetadata) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO screening_results
			(file_path, file_name, extension, file_size, created_time, modified_time,
			 file_hash, category_id, labels, matched_rules, extra_metadata, is_os_bundle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			file_name = excluded.file_name,
			extension = excluded.extension,
			file_size = excluded.file_size,
			created_time = excluded.created_time,
			modified_time = excluded.modified_time,
			file_hash = excluded.file_hash,
			category_id = excluded.category_id,
			labels = excluded.labels,
			matched_rules = excluded.matched_rules,
			extra_metadata = excluded.extra_metadata,
			is_os_bundle = excluded.is_os_bundle,
			received_at = datetime('now')`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %v", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		labels, _ := json.Marshal(rec.Labels)
		matched, _ := json.Marshal(rec.MatchedRules)
		extra, _ := json.Marshal(rec.ExtraMeta)

		var categoryID any
		if rec.CategoryID != nil {
			categoryID = *rec.CategoryID
		}

		if _, err := stmt.Exec(rec.FilePath, rec.FileName, rec.Extension, rec.FileSize,
			rec.CreatedTime, rec.ModifiedTime, rec.HashValue, categoryID,
			string(labels), string(matched), string(extra), rec.IsOSBundle); err != nil {
			return fmt.Errorf("failed to upsert %s: %v", rec.FilePath, err)
		}
	}

	return tx.Commit()
}

// DeleteByPath removes the record for one exact path.
func (s *Store) DeleteByPath(path string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM screening_results WHERE file_path = ?`, path)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %v", path, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CleanByPath removes every record at or under path.
func (s *Store) CleanByPath(path string) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM screening_results
		WHERE file_path = ? OR file_path LIKE ? || '/%'`, path, path)
	if err != nil {
		return 0, fmt.Errorf("failed to clean %s: %v", path, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountScreeningResults reports the stored record count.
func (s *Store) CountScreeningResults() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM screening_results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count screening results: %v", err)
	}
	return n, nil
}

// ListDirectories returns all registered roots.
func (s *Store) ListDirectories() ([]models.MonitoredDirectory, error) {
	rows, err := s.db.Query(`SELECT id, path, alias, is_blacklist FROM monitored_folders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitored folders: %v", err)
	}
	defer rows.Close()

	var dirs []models.MonitoredDirectory
	for rows.Next() {
		var d models.MonitoredDirectory
		var id int
		if err := rows.Scan(&id, &d.Path, &d.Alias, &d.IsBlacklist); err != nil {
			return nil, fmt.Errorf("failed to scan monitored folder: %v", err)
		}
		d.ID = &id
		dirs = append(dirs, d)
	}
	return dirs, nil
}

// AddDirectory registers a root; re-adding an existing path updates it.
func (s *Store) AddDirectory(dir models.MonitoredDirectory) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO monitored_folders (path, alias, is_blacklist)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			alias = excluded.alias,
			is_blacklist = excluded.is_blacklist`,
		dir.Path, dir.Alias, dir.IsBlacklist)
	if err != nil {
		return 0, fmt.Errorf("failed to add directory %s: %v", dir.Path, err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// DeleteDirectory removes a registration by id.
func (s *Store) DeleteDirectory(id int) error {
	res, err := s.db.Exec(`DELETE FROM monitored_folders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete directory %d: %v", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ToggleDirectory sets a directory's blacklist state.
func (s *Store) ToggleDirectory(id int, isBlacklist bool) error {
	res, err := s.db.Exec(`UPDATE monitored_folders SET is_blacklist = ? WHERE id = ?`, isBlacklist, id)
	if err != nil {
		return fmt.Errorf("failed to toggle directory %d: %v", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
