package playbooks

import (
	"context"

	"github.com/bdobrica/Jimu/common/spec/playbookdoc"
)

// ToDocument converts p into its YAML document form.
func ToDocument(p *Playbook) *playbookdoc.Document {
	doc := playbookdoc.New(p.Title, p.Description, toDocSteps(p.Steps))
	doc.Metadata.Owner = p.Owner
	return doc
}

// StepsFromDocument returns the steps carried by doc.
func StepsFromDocument(doc *playbookdoc.Document) []Step {
	steps := make([]Step, len(doc.Steps))
	for i, s := range doc.Steps {
		steps[i] = Step{InputText: s.Text, RequiresConfirmation: s.RequiresConfirmation}
	}
	return steps
}

func toDocSteps(steps []Step) []playbookdoc.Step {
	out := make([]playbookdoc.Step, len(steps))
	for i, s := range steps {
		out[i] = playbookdoc.Step{Text: s.InputText, RequiresConfirmation: s.RequiresConfirmation}
	}
	return out
}

// Export renders a stored playbook as a YAML document.
func (s *Store) Export(ctx context.Context, id string) ([]byte, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return playbookdoc.Render(ToDocument(p))
}

// Import validates a YAML document and stores it as a new playbook owned
// by owner. The owner recorded in the document is ignored.
func (s *Store) Import(ctx context.Context, owner string, data []byte) (*Playbook, error) {
	doc, err := playbookdoc.Parse(data)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, owner, doc.Metadata.Title, doc.Metadata.Description, StepsFromDocument(doc))
}
