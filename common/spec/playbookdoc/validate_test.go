package playbookdoc_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/bdobrica/Jimu/common/spec/playbookdoc"
)

const validDoc = `apiVersion: jimu/v1
kind: Playbook
metadata:
  title: Monday restock
  description: chase low stock and brief the drivers
steps:
  - text: notify stores with low stock in the north
  - text: text all drivers
    requiresConfirmation: true
`

func TestParse_Valid(t *testing.T) {
	doc, err := playbookdoc.Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Metadata.Title != "Monday restock" {
		t.Errorf("title = %q", doc.Metadata.Title)
	}
	if len(doc.Steps) != 2 || !doc.Steps[1].RequiresConfirmation || doc.Steps[0].RequiresConfirmation {
		t.Errorf("steps = %+v", doc.Steps)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"wrong version", strings.Replace(validDoc, "jimu/v1", "jimu/v2", 1), "schema validation"},
		{"wrong kind", strings.Replace(validDoc, "kind: Playbook", "kind: Routine", 1), "schema validation"},
		{"steps missing", "apiVersion: jimu/v1\nkind: Playbook\nmetadata:\n  title: x\n", "schema validation"},
		{"missing title", "apiVersion: jimu/v1\nkind: Playbook\nmetadata: {}\nsteps:\n  - text: a\n", "schema validation"},
		{"unknown field", strings.Replace(validDoc, "  description:", "  colour: red\n  description:", 1), "schema validation"},
		{"blank step", "apiVersion: jimu/v1\nkind: Playbook\nmetadata:\n  title: x\nsteps:\n  - text: '   '\n", "must not be blank"},
		{"not yaml", "steps: [", "playbook parse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := playbookdoc.Parse([]byte(tc.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not contain %q", err, tc.want)
			}
		})
	}
}

func TestParse_EmptySteps(t *testing.T) {
	doc, err := playbookdoc.Parse([]byte("apiVersion: jimu/v1\nkind: Playbook\nmetadata:\n  title: x\nsteps: []\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Steps) != 0 {
		t.Errorf("steps = %+v", doc.Steps)
	}
}

func TestRender_RoundTrip(t *testing.T) {
	doc := playbookdoc.New("Friday close", "", []playbookdoc.Step{
		{Text: "mark unpaid invoices"},
		{Text: "export orders", RequiresConfirmation: true},
	})
	doc.Metadata.Owner = "@ops:example.com"

	out, err := playbookdoc.Render(doc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	back, err := playbookdoc.Parse(out)
	if err != nil {
		t.Fatalf("Parse(Render): %v\n%s", err, out)
	}
	if !reflect.DeepEqual(doc, back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, doc)
	}
}

func TestValidate_Nil(t *testing.T) {
	if err := playbookdoc.Validate(nil); err == nil {
		t.Fatal("expected error for nil document")
	}
}
