// Package playbookdoc defines the YAML document format playbooks are
// imported from and exported to.
//
//	apiVersion: jimu/v1
//	kind: Playbook
//	metadata:
//	  title: Monday restock
//	  description: chase low stock and brief the drivers
//	steps:
//	  - text: notify stores with low stock in the north
//	  - text: text all drivers
//	    requiresConfirmation: true
package playbookdoc

// APIVersion is the only document version this package reads and writes.
const APIVersion = "jimu/v1"

// Kind is the document kind of a playbook.
const Kind = "Playbook"

// Document is one playbook on disk.
type Document struct {
	APIVersion string   `yaml:"apiVersion" json:"apiVersion"`
	Kind       string   `yaml:"kind" json:"kind"`
	Metadata   Metadata `yaml:"metadata" json:"metadata"`
	Steps      []Step   `yaml:"steps" json:"steps"`
}

// Metadata names the playbook.
type Metadata struct {
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Owner       string `yaml:"owner,omitempty" json:"owner,omitempty"`
}

// Step is one natural-language instruction.
type Step struct {
	Text                 string `yaml:"text" json:"text"`
	RequiresConfirmation bool   `yaml:"requiresConfirmation,omitempty" json:"requiresConfirmation,omitempty"`
}

// New returns a document with the version header filled in.
func New(title, description string, steps []Step) *Document {
	return &Document{
		APIVersion: APIVersion,
		Kind:       Kind,
		Metadata:   Metadata{Title: title, Description: description},
		Steps:      steps,
	}
}
