// Package rules applies the configured classification, labeling and exclusion
// rules to one file's metadata. The engine is deterministic and idempotent:
// applying the same rule set twice yields the same record.
package rules

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/presift/presift/models"
)

// BundleLabel marks records recognized as package directories.
const BundleLabel = "macos_bundle"

// Engine evaluates a fixed rule set. Build a new Engine per configuration
// snapshot; compiled regexes are cached for the snapshot's lifetime.
type Engine struct {
	categories    []models.FileCategory
	extensionMaps []models.FileExtensionMap
	filterRules   []models.FileFilterRule

	regexCache map[string]*regexp.Regexp

	processed int64
	filtered  int64
}

// New builds an engine over one configuration snapshot.
func New(cfg *models.AllConfigurations) *Engine {
	return &Engine{
		categories:    cfg.FileCategories,
		extensionMaps: cfg.FileExtensionMaps,
		filterRules:   cfg.FileFilterRules,
		regexCache:    make(map[string]*regexp.Regexp),
	}
}

// Counters returns the processed and rule-filtered record counts.
func (e *Engine) Counters() (processed, filtered int64) {
	return atomic.LoadInt64(&e.processed), atomic.LoadInt64(&e.filtered)
}

// compile returns a cached compiled pattern, or nil when the pattern is
// malformed. Malformed patterns are logged once and treated as non-matching.
func (e *Engine) compile(pattern string) *regexp.Regexp {
	if re, ok := e.regexCache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		log.Printf("[rules] invalid regex pattern %q: %v", pattern, err)
		re = nil
	}
	e.regexCache[pattern] = re
	return re
}

func (e *Engine) categoryName(id int) string {
	for _, c := range e.categories {
		if c.ID == id {
			return c.Name
		}
	}
	return "unknown_category_id"
}

// Apply annotates meta in place: category from the extension map, labels and
// rule matches from the filter rules, bundle flagging, and the exclusion
// marker. Hidden files are always excluded. Bundle records are immune to
// Exclude rules: a bundle must still surface as one unit.
func (e *Engine) Apply(meta *models.FileMetadata) {
	atomic.AddInt64(&e.processed, 1)

	if meta.IsHidden {
		meta.SetExtra(models.ExtraExcludedByRuleID, models.HiddenFileRuleID)
		meta.SetExtra(models.ExtraExcludedByRuleName, "hidden file auto-exclusion")
	}

	// Extension map: first matching entry wins (table order, not priority).
	if meta.Extension != "" {
		for _, em := range e.extensionMaps {
			if em.Extension == meta.Extension {
				catID := em.CategoryID
				meta.CategoryID = &catID
				meta.SetExtra("file_type_from_ext_map", e.categoryName(em.CategoryID))
				break
			}
		}
		meta.AddLabel("ext:" + meta.Extension)
		meta.SetExtra("extension", meta.Extension)
	}

	filename := strings.ToLower(meta.FileName)
	isBundle := meta.IsOSBundle

	for i := range e.filterRules {
		rule := &e.filterRules[i]
		if !rule.Enabled {
			continue
		}

		matched := false
		switch rule.RuleType {
		case models.RuleTypeFilename:
			switch rule.PatternType {
			case models.PatternKeyword:
				matched = strings.Contains(filename, strings.ToLower(rule.Pattern))
			case models.PatternRegex:
				if re := e.compile(rule.Pattern); re != nil {
					matched = re.MatchString(filename)
				}
			}

		case models.RuleTypeExtension:
			if meta.Extension == "" {
				break
			}
			switch rule.PatternType {
			case models.PatternKeyword:
				matched = meta.Extension == strings.ToLower(rule.Pattern)
			case models.PatternRegex:
				if re := e.compile(rule.Pattern); re != nil {
					matched = re.MatchString(meta.Extension)
				}
			}

		case models.RuleTypeOSBundle:
			if rule.PatternType != models.PatternRegex {
				break
			}
			if re := e.compile(rule.Pattern); re != nil && re.MatchString(filename) {
				matched = true
				isBundle = true
				meta.SetExtra("macos_bundle_rule_id", rule.ID)
				meta.SetExtra("macos_bundle_rule_name", rule.Name)
				meta.SetExtra("is_macos_bundle", true)
				meta.AddLabel(rule.Name)
				meta.AddLabel(BundleLabel)
			}

		default:
			// Folder and Structure rules need directory-level context that a
			// single record does not carry.
		}

		if !matched {
			continue
		}
		addRuleMatch(meta, rule.Name)

		// OSBundle matches only flag; actions apply to the other rule types.
		if rule.RuleType != models.RuleTypeOSBundle {
			switch rule.Action {
			case models.ActionLabel:
				meta.AddLabel(rule.Name)
				if lv, ok := rule.ExtraData["label_value"].(string); ok && lv != "" {
					meta.AddLabel(lv)
				}
			case models.ActionExclude:
				if !isBundle {
					meta.SetExtra(models.ExtraExcludedByRuleID, rule.ID)
					meta.SetExtra(models.ExtraExcludedByRuleName, rule.Name)
					atomic.AddInt64(&e.filtered, 1)
				}
			case models.ActionInclude:
				// Default disposition; nothing to record.
			}
		}

		// Later matching rules overwrite the category of earlier ones.
		if rule.CategoryID != nil {
			catID := *rule.CategoryID
			meta.CategoryID = &catID
		}
	}

	meta.IsOSBundle = isBundle
}

// addRuleMatch records a rule name once.
func addRuleMatch(meta *models.FileMetadata, name string) {
	for _, n := range meta.MatchedRules {
		if n == name {
			return
		}
	}
	meta.MatchedRules = append(meta.MatchedRules, name)
}

// String describes the engine for diagnostics.
func (e *Engine) String() string {
	return fmt.Sprintf("rules.Engine{extMaps: %d, rules: %d}", len(e.extensionMaps), len(e.filterRules))
}
