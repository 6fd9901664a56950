// Package plan merges a parsed draft with caller context into an immutable
// Execution Plan and decides whether the plan needs human confirmation.
package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bdobrica/Jimu/internal/jimu/intent"
	"github.com/bdobrica/Jimu/internal/jimu/vocab"
)

// ConfirmationThreshold is the largest explicit selection that may run
// without confirmation.
const ConfirmationThreshold = 50

// Context carries what the caller already knows about the instruction.
// Everything here takes precedence over values inferred from the text.
type Context struct {
	EntityType  vocab.EntityType
	SelectedIDs []string
	// Filters are panel-level predicates; Brand and Region are ambient
	// scope. Panel filters win over ambient scope.
	Filters vocab.Filters
	Brand   string
	Region  string
}

// Plan is the reviewable description of one action. A Plan is a value: it
// is never modified after Build returns; re-planning produces a new Plan.
type Plan struct {
	ActionIntent         vocab.ActionIntent    `json:"action_intent"`
	ExecutionAction      vocab.ExecutionAction `json:"execution_action"`
	EntityType           vocab.EntityType      `json:"entity_type"`
	Filters              vocab.Filters         `json:"filters,omitempty"`
	SelectedIDs          []string              `json:"selected_ids,omitempty"`
	Schedule             *intent.Schedule      `json:"schedule,omitempty"`
	InputText            string                `json:"input_text"`
	Description          string                `json:"description"`
	EstimatedCount       int                   `json:"estimated_count"`
	RequiresConfirmation bool                  `json:"requires_confirmation"`
}

// JSON returns the serialised plan stored alongside audit entries.
func (p Plan) JSON() string {
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Builder builds plans against one vocabulary.
type Builder struct {
	vocab *vocab.Vocabulary
}

// NewBuilder returns a Builder. A nil v uses vocab.Default().
func NewBuilder(v *vocab.Vocabulary) *Builder {
	if v == nil {
		v = vocab.Default()
	}
	return &Builder{vocab: v}
}

// Build merges d with c. It is pure: equal inputs give equal plans.
func (b *Builder) Build(d intent.DraftCommand, c Context) Plan {
	entity := c.EntityType
	if entity == "" {
		entity = d.EntityType
	}
	if entity == "" {
		entity = b.vocab.DefaultEntity
	}

	ambient := vocab.Filters{vocab.FilterBrand: strings.ToLower(c.Brand), vocab.FilterRegion: strings.ToLower(c.Region)}
	filters := d.Filters.Merge(ambient).Merge(c.Filters)

	selected := normaliseIDs(c.SelectedIDs)

	var schedule *intent.Schedule
	if !d.Schedule.Empty() {
		s := *d.Schedule
		schedule = &s
	}

	p := Plan{
		ActionIntent:         d.Intent,
		ExecutionAction:      b.vocab.ExecutionActionFor(d.Intent),
		EntityType:           entity,
		Filters:              filters,
		SelectedIDs:          selected,
		Schedule:             schedule,
		InputText:            d.Raw,
		EstimatedCount:       len(selected),
		RequiresConfirmation: RequiresConfirmation(len(selected), filters),
	}
	p.Description = Describe(ActionLabel(d.Intent, d.VerbMatched), entity, selected, filters, schedule)
	return p
}

// RequiresConfirmation reports whether a plan touching selected explicit ids
// under filters must be confirmed: the selection is larger than the
// threshold, or nothing narrows the population at all.
func RequiresConfirmation(selected int, filters vocab.Filters) bool {
	if selected > ConfirmationThreshold {
		return true
	}
	return selected == 0 && filters.Empty()
}

var labels = map[vocab.ActionIntent]string{
	vocab.IntentAssign:      "Assign",
	vocab.IntentCreate:      "Create",
	vocab.IntentUpdate:      "Update",
	vocab.IntentNotify:      "Notify",
	vocab.IntentText:        "Text",
	vocab.IntentRoute:       "Create route for",
	vocab.IntentCreateRoute: "Create route for",
	vocab.IntentEscalate:    "Escalate",
	vocab.IntentExport:      "Export",
	vocab.IntentSchedule:    "Schedule",
	vocab.IntentFollowUp:    "Follow up with",
}

// ActionLabel is the leading verb of a description. Drafts without a matched
// verb read "Process".
func ActionLabel(in vocab.ActionIntent, verbMatched bool) string {
	if !verbMatched {
		return "Process"
	}
	if l, ok := labels[in]; ok {
		return l
	}
	return "Process"
}

// Describe renders the fixed-order description:
// label, population, active filters, schedule.
func Describe(label string, entity vocab.EntityType, selected []string, filters vocab.Filters, s *intent.Schedule) string {
	var sb strings.Builder
	sb.WriteString(label)
	sb.WriteByte(' ')

	switch {
	case len(selected) > 0:
		fmt.Fprintf(&sb, "%d %s", len(selected), entity)
	case !filters.Empty():
		fmt.Fprintf(&sb, "filtered %s", entity)
	default:
		fmt.Fprintf(&sb, "all %s", entity)
	}

	if !filters.Empty() {
		fmt.Fprintf(&sb, " (%s)", filters.String())
	}

	if !s.Empty() {
		if s.Date != "" {
			sb.WriteString(" on " + s.Date)
		}
		if s.Time != "" {
			sb.WriteString(" at " + s.Time)
		}
	}
	return sb.String()
}

func normaliseIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
