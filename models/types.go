package models

import "sync"

// RuleType classifies what part of a file a filter rule inspects.
type RuleType string

const (
	RuleTypeExtension RuleType = "extension"
	RuleTypeFilename  RuleType = "filename"
	RuleTypeFolder    RuleType = "folder"
	RuleTypeStructure RuleType = "structure"
	RuleTypeOSBundle  RuleType = "os_bundle"
)

// RulePriority is carried from the service but not consulted for ordering;
// rules apply in their stored order.
type RulePriority string

const (
	PriorityLow    RulePriority = "low"
	PriorityMedium RulePriority = "medium"
	PriorityHigh   RulePriority = "high"
)

// RuleAction is what a matching rule does to a record.
type RuleAction string

const (
	ActionInclude RuleAction = "include"
	ActionExclude RuleAction = "exclude"
	ActionLabel   RuleAction = "label"
)

// Pattern types understood by the rule engine.
const (
	PatternKeyword = "keyword"
	PatternRegex   = "regex"
	PatternGlob    = "glob"
)

// FileCategory is a classification taxonomy entry, read-only to this client.
type FileCategory struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// FileFilterRule is one classification/exclusion/labeling rule. A full rule set
// is swapped atomically on every configuration refresh and never edited in place.
type FileFilterRule struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	RuleType    RuleType       `json:"rule_type"`
	CategoryID  *int           `json:"category_id,omitempty"`
	Priority    RulePriority   `json:"priority"`
	Action      RuleAction     `json:"action"`
	Enabled     bool           `json:"enabled"`
	Pattern     string         `json:"pattern"`
	PatternType string         `json:"pattern_type"`
	ExtraData   map[string]any `json:"extra_data,omitempty"`
}

// FileExtensionMap maps a lowercase extension (no dot) to a category.
type FileExtensionMap struct {
	ID         int          `json:"id"`
	Extension  string       `json:"extension"`
	CategoryID int          `json:"category_id"`
	Priority   RulePriority `json:"priority"`
}

// MonitoredDirectory is either a monitoring root or a blacklist root, never both.
type MonitoredDirectory struct {
	ID          *int   `json:"id,omitempty"`
	Path        string `json:"path"`
	Alias       string `json:"alias,omitempty"`
	IsBlacklist bool   `json:"is_blacklist"`
}

// AllConfigurations is the full snapshot served by GET /config/all.
type AllConfigurations struct {
	FileCategories    []FileCategory       `json:"file_categories"`
	FileFilterRules   []FileFilterRule     `json:"file_filter_rules"`
	FileExtensionMaps []FileExtensionMap   `json:"file_extension_maps"`
	MonitoredFolders  []MonitoredDirectory `json:"monitored_folders"`
	FullDiskAccess    bool                 `json:"full_disk_access"`
	BundleExtensions  []string             `json:"bundle_extensions"`
}

// FileScanningConfig is the narrow snapshot served by GET /file-scanning-config.
type FileScanningConfig struct {
	ExtensionMappings map[string]int `json:"extension_mappings"`
	BundleExtensions  []string       `json:"bundle_extensions"`
	IgnorePatterns    []string       `json:"ignore_patterns"`
	FileCategories    []FileCategory `json:"file_categories"`
	ErrorMessage      string         `json:"error_message,omitempty"`
}

// Keys used in FileMetadata.ExtraMeta. A record carrying ExtraExcludedByRuleID
// has been rejected by a rule and must not be forwarded.
const (
	ExtraExcludedByRuleID   = "excluded_by_rule_id"
	ExtraExcludedByRuleName = "excluded_by_rule_name"
)

// HiddenFileRuleID is recorded when a hidden file is excluded without a
// configured rule backing the exclusion.
const HiddenFileRuleID = 9999

// FileMetadata is the per-file record produced by the metadata extractor,
// annotated by the rule engine and consumed read-only downstream.
type FileMetadata struct {
	FilePath     string         `json:"file_path"`
	FileName     string         `json:"file_name"`
	Extension    string         `json:"extension,omitempty"`
	FileSize     int64          `json:"file_size"`
	CreatedTime  int64          `json:"created_time"`
	ModifiedTime int64          `json:"modified_time"`
	IsDir        bool           `json:"is_dir"`
	IsHidden     bool           `json:"is_hidden"`
	HashValue    string         `json:"file_hash,omitempty"`
	CategoryID   *int           `json:"category_id,omitempty"`
	Labels       []string       `json:"labels,omitempty"`
	MatchedRules []string       `json:"matched_rules,omitempty"`
	ExtraMeta    map[string]any `json:"extra_metadata,omitempty"`
	IsOSBundle   bool           `json:"is_os_bundle,omitempty"`
}

// Excluded reports whether a rule attached the exclusion marker.
func (m *FileMetadata) Excluded() bool {
	if m.ExtraMeta == nil {
		return false
	}
	_, ok := m.ExtraMeta[ExtraExcludedByRuleID]
	return ok
}

// SetExtra lazily initializes the extra-metadata map.
func (m *FileMetadata) SetExtra(key string, value any) {
	if m.ExtraMeta == nil {
		m.ExtraMeta = make(map[string]any)
	}
	m.ExtraMeta[key] = value
}

// AddLabel appends a label unless it is already present.
func (m *FileMetadata) AddLabel(label string) {
	for _, l := range m.Labels {
		if l == label {
			return
		}
	}
	m.Labels = append(m.Labels, label)
}

// MonitorStats counts pipeline activity across scans and live events.
type MonitorStats struct {
	ProcessedFiles  int64 `json:"processed_files"`
	FilteredFiles   int64 `json:"filtered_files"`
	FilteredBundles int64 `json:"filtered_bundles"`
	ErrorCount      int64 `json:"error_count"`

	Mutex sync.Mutex `json:"-"`
}

// ConfigChangeKind tags a queued configuration mutation.
type ConfigChangeKind string

const (
	ChangeAddBlacklist    ConfigChangeKind = "add_blacklist"
	ChangeDeleteFolder    ConfigChangeKind = "delete_folder"
	ChangeToggleFolder    ConfigChangeKind = "toggle_folder"
	ChangeAddWhitelist    ConfigChangeKind = "add_whitelist"
	ChangeBundleExtension ConfigChangeKind = "bundle_extension_change"
)

// ConfigChangeRequest is a queued configuration mutation. Created by the command
// surface, consumed exactly once by the replay executor, never mutated.
type ConfigChangeRequest struct {
	Kind        ConfigChangeKind `json:"kind"`
	FolderID    int              `json:"folder_id,omitempty"`
	ParentID    int              `json:"parent_id,omitempty"`
	FolderPath  string           `json:"folder_path,omitempty"`
	FolderAlias string           `json:"folder_alias,omitempty"`
	IsBlacklist bool             `json:"is_blacklist,omitempty"`
}

// TimeRange selects a modification-time window for ad-hoc scans.
type TimeRange string

const (
	RangeToday      TimeRange = "today"
	RangeLast7Days  TimeRange = "last7days"
	RangeLast30Days TimeRange = "last30days"
)

// FileType selects a coarse category filter for ad-hoc scans.
type FileType string

const (
	TypeImage      FileType = "image"
	TypeAudioVideo FileType = "audio-video"
	TypeArchive    FileType = "archive"
	TypeDocument   FileType = "document"
	TypeAll        FileType = "all"
)

// FileInfo is the lightweight result row for time-range and type scans.
type FileInfo struct {
	FilePath     string `json:"file_path"`
	FileName     string `json:"file_name"`
	FileSize     int64  `json:"file_size"`
	Extension    string `json:"extension,omitempty"`
	CreatedTime  string `json:"created_time,omitempty"`
	ModifiedTime string `json:"modified_time"`
	CategoryID   *int   `json:"category_id,omitempty"`
}
