// Package vocab holds the static vocabulary of the automation engine: the
// entity types it can act on, the filter predicates it understands, the
// action intents, and the keyword tables that map free text onto them.
//
// A Vocabulary is loaded once at process start (Default for the embedded
// table, Load for an operator-supplied override) and then shared read-only
// by the parser and the plan builder. Nothing in this package mutates a
// Vocabulary after Load returns.
package vocab

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// EntityType identifies a class of business record the engine can act on.
type EntityType string

const (
	EntityStores      EntityType = "stores"
	EntityInvoices    EntityType = "invoices"
	EntityDeliveries  EntityType = "deliveries"
	EntityRoutes      EntityType = "routes"
	EntityOrders      EntityType = "orders"
	EntityDrivers     EntityType = "drivers"
	EntityAmbassadors EntityType = "ambassadors"
	EntityCommissions EntityType = "commissions"
	EntityInventory   EntityType = "inventory"
)

// EntityTypes lists every known entity type in declaration order.
var EntityTypes = []EntityType{
	EntityStores, EntityInvoices, EntityDeliveries, EntityRoutes, EntityOrders,
	EntityDrivers, EntityAmbassadors, EntityCommissions, EntityInventory,
}

// Valid reports whether e is one of the known entity types.
func (e EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if e == known {
			return true
		}
	}
	return false
}

// ParseEntityType normalises s (case, surrounding space) and validates it.
func ParseEntityType(s string) (EntityType, error) {
	e := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return e, nil
}

// ActionIntent is the normalised verb describing what a plan will do.
type ActionIntent string

const (
	IntentAssign      ActionIntent = "assign"
	IntentCreate      ActionIntent = "create"
	IntentUpdate      ActionIntent = "update"
	IntentNotify      ActionIntent = "notify"
	IntentText        ActionIntent = "text"
	IntentRoute       ActionIntent = "route"
	IntentCreateRoute ActionIntent = "create_route"
	IntentEscalate    ActionIntent = "escalate"
	IntentExport      ActionIntent = "export"
	IntentSchedule    ActionIntent = "schedule"
	IntentFollowUp    ActionIntent = "follow_up"
)

var knownIntents = map[ActionIntent]bool{
	IntentAssign: true, IntentCreate: true, IntentUpdate: true, IntentNotify: true,
	IntentText: true, IntentRoute: true, IntentCreateRoute: true, IntentEscalate: true,
	IntentExport: true, IntentSchedule: true, IntentFollowUp: true,
}

// ExecutionAction is the handler key an intent maps to.
type ExecutionAction string

const (
	ActionCreateRoute      ExecutionAction = "create_route"
	ActionScheduleFollowUp ExecutionAction = "schedule_follow_up"
	ActionSendNotification ExecutionAction = "send_notification"
	ActionUpdateStatus     ExecutionAction = "update_status"
	ActionExport           ExecutionAction = "export"
	ActionGeneric          ExecutionAction = "generic"
)

// IntentFamily is one precedence slot of the intent table.
type IntentFamily struct {
	Intent   ActionIntent `yaml:"intent"`
	Keywords []string     `yaml:"keywords"`
}

// EntityKeywords maps keywords onto one entity type.
type EntityKeywords struct {
	Entity   EntityType `yaml:"entity"`
	Keywords []string   `yaml:"keywords"`
}

// Vocabulary is the immutable keyword configuration shared by the parser and
// the plan builder.
type Vocabulary struct {
	DefaultEntity    EntityType                       `yaml:"default_entity"`
	Entities         []EntityKeywords                 `yaml:"entities"`
	Intents          []IntentFamily                   `yaml:"intents"`
	ExecutionActions map[ActionIntent]ExecutionAction `yaml:"execution_actions"`
	StatusWords      []string                         `yaml:"status_words"`
	Regions          []string                         `yaml:"regions"`
	LowStockPhrases  []string                         `yaml:"low_stock_phrases"`
	FilterStopwords  []string                         `yaml:"filter_stopwords"`
}

// Default returns the embedded vocabulary. It panics only if the embedded
// YAML is broken, which the package tests rule out.
func Default() *Vocabulary {
	v, err := Parse(defaultVocabulary)
	if err != nil {
		panic(fmt.Sprintf("vocab: embedded vocabulary is invalid: %v", err))
	}
	return v
}

// Load reads a vocabulary override from path. An empty path returns Default.
func Load(path string) (*Vocabulary, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML vocabulary document. Keywords are
// lower-cased and whitespace-normalised so matching is case-insensitive.
func Parse(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("vocab: parse: %w", err)
	}
	if err := v.validate(); err != nil {
		return nil, err
	}
	for i := range v.Entities {
		v.Entities[i].Keywords = normaliseAll(v.Entities[i].Keywords)
	}
	for i := range v.Intents {
		v.Intents[i].Keywords = normaliseAll(v.Intents[i].Keywords)
	}
	v.StatusWords = normaliseAll(v.StatusWords)
	v.Regions = normaliseAll(v.Regions)
	v.LowStockPhrases = normaliseAll(v.LowStockPhrases)
	v.FilterStopwords = normaliseAll(v.FilterStopwords)
	return &v, nil
}

func (v *Vocabulary) validate() error {
	if !v.DefaultEntity.Valid() {
		return fmt.Errorf("vocab: default_entity %q is not a known entity type", v.DefaultEntity)
	}
	for i, e := range v.Entities {
		if !e.Entity.Valid() {
			return fmt.Errorf("vocab: entities[%d]: unknown entity type %q", i, e.Entity)
		}
		if len(e.Keywords) == 0 {
			return fmt.Errorf("vocab: entities[%d] (%s): no keywords", i, e.Entity)
		}
	}
	for i, f := range v.Intents {
		if !knownIntents[f.Intent] {
			return fmt.Errorf("vocab: intents[%d]: unknown intent %q", i, f.Intent)
		}
		if len(f.Keywords) == 0 {
			return fmt.Errorf("vocab: intents[%d] (%s): no keywords", i, f.Intent)
		}
	}
	for intent := range v.ExecutionActions {
		if !knownIntents[intent] {
			return fmt.Errorf("vocab: execution_actions: unknown intent %q", intent)
		}
	}
	return nil
}

// ExecutionActionFor maps an intent to its handler key. Unmapped intents map
// to ActionGeneric.
func (v *Vocabulary) ExecutionActionFor(intent ActionIntent) ExecutionAction {
	if a, ok := v.ExecutionActions[intent]; ok {
		return a
	}
	return ActionGeneric
}

// IsStatusWord reports whether w is a recognised status filter value.
func (v *Vocabulary) IsStatusWord(w string) bool {
	return contains(v.StatusWords, w)
}

// IsRegion reports whether w is a recognised region name.
func (v *Vocabulary) IsRegion(w string) bool {
	return contains(v.Regions, w)
}

// IsFilterValue reports whether w can stand as the value after "brand" or
// "region".
func (v *Vocabulary) IsFilterValue(w string) bool {
	if w == "" || contains(v.FilterStopwords, w) || v.IsStatusWord(w) {
		return false
	}
	for _, e := range v.Entities {
		if contains(e.Keywords, w) {
			return false
		}
	}
	return true
}

// Tokenise splits text into lower-case tokens of letters, digits and
// hyphens. Every keyword match in the engine is done on these tokens so
// "unpaid" never matches "paid" and "context" never matches "text".
func Tokenise(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

// ContainsPhrase reports whether the token sequence contains phrase, which
// may span several tokens ("follow up", "low on stock").
func ContainsPhrase(tokens []string, phrase string) bool {
	words := strings.Fields(phrase)
	if len(words) == 0 || len(words) > len(tokens) {
		return false
	}
	for i := 0; i+len(words) <= len(tokens); i++ {
		match := true
		for j, w := range words {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func normaliseAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := strings.Join(Tokenise(s), " "); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func contains(list []string, w string) bool {
	for _, s := range list {
		if s == w {
			return true
		}
	}
	return false
}
