package commands_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"maunium.net/go/mautrix/event"

	"github.com/bdobrica/Jimu/internal/jimu/commands"
)

func TestParse(t *testing.T) {
	router := commands.NewRouter(commands.Prefix)

	tests := []struct {
		input     string
		wantName  string
		wantSub   string
		wantArgs  []string
		wantFlags map[string]string
		wantBody  string
	}{
		{input: "/jimu help", wantName: "help", wantArgs: []string{}},
		{input: "/jimu playbooks show pb-1", wantName: "playbooks", wantSub: "show", wantArgs: []string{"pb-1"}},
		{
			input:     `/jimu playbooks create "Weekly ops" --steps "notify unpaid invoices; mark late deliveries" --confirm 2`,
			wantName:  "playbooks",
			wantSub:   "create",
			wantArgs:  []string{"Weekly ops"},
			wantFlags: map[string]string{"steps": "notify unpaid invoices; mark late deliveries", "confirm": "2"},
		},
		{
			input:     "/jimu routines create pb-1 --frequency=weekly --notify",
			wantName:  "routines",
			wantSub:   "create",
			wantArgs:  []string{"pb-1"},
			wantFlags: map[string]string{"frequency": "weekly", "notify": "true"},
		},
		{
			input:     "/jimu run --ids a,b notify these stores",
			wantName:  "run",
			wantArgs:  []string{"notify", "these", "stores"},
			wantFlags: map[string]string{"ids": "a,b"},
		},
		{
			input:    "/jimu playbooks import\napiVersion: jimu/v1\nkind: Playbook",
			wantName: "playbooks",
			wantSub:  "import",
			wantArgs: []string{},
			wantBody: "apiVersion: jimu/v1\nkind: Playbook",
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, err := router.Parse(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.Name != tt.wantName {
				t.Errorf("Name: got %q, want %q", cmd.Name, tt.wantName)
			}
			if cmd.Subcommand != tt.wantSub {
				t.Errorf("Subcommand: got %q, want %q", cmd.Subcommand, tt.wantSub)
			}
			if tt.wantArgs != nil && strings.Join(cmd.Args, "|") != strings.Join(tt.wantArgs, "|") {
				t.Errorf("Args: got %q, want %q", cmd.Args, tt.wantArgs)
			}
			for k, v := range tt.wantFlags {
				if got := cmd.Flags[k]; got != v {
					t.Errorf("flag %q: got %q, want %q", k, got, v)
				}
			}
			if cmd.Body != tt.wantBody {
				t.Errorf("Body: got %q, want %q", cmd.Body, tt.wantBody)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	router := commands.NewRouter(commands.Prefix)

	for _, input := range []string{"mark unpaid invoices", "/jimuhelp", "approve abc"} {
		if _, err := router.Parse(input); !errors.Is(err, commands.ErrNotACommand) {
			t.Errorf("Parse(%q): expected ErrNotACommand, got %v", input, err)
		}
	}
	if _, err := router.Parse("/jimu"); err == nil {
		t.Error("expected error for bare prefix")
	}
	if _, err := router.Parse(`/jimu playbooks create "open`); err == nil {
		t.Error("expected error for unterminated quote")
	}
}

func TestParse_DropsInternalFlags(t *testing.T) {
	router := commands.NewRouter(commands.Prefix)

	tests := []struct {
		input    string
		dropped  []string
		kept     map[string]string
		wantArgs []string
	}{
		{input: "/jimu playbooks delete pb-1 --_approved true", dropped: []string{"_approved"}, wantArgs: []string{"pb-1"}},
		{input: "/jimu playbooks delete pb-1 --_approved", dropped: []string{"_approved"}, wantArgs: []string{"pb-1"}},
		{input: "/jimu routines delete r-1 --_approved=true", dropped: []string{"_approved"}, wantArgs: []string{"r-1"}},
		{
			input:    "/jimu routines delete r-1 --_approved true --_approval_id abc123 --_trace_id t1",
			dropped:  []string{"_approved", "_approval_id", "_trace_id"},
			wantArgs: []string{"r-1"},
		},
		{
			input:    "/jimu playbooks run pb-1 --_approved true --owner alice",
			dropped:  []string{"_approved"},
			kept:     map[string]string{"owner": "alice"},
			wantArgs: []string{"pb-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, err := router.Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			for _, f := range tt.dropped {
				if _, ok := cmd.Flags[f]; ok {
					t.Errorf("flag %q should not be settable from chat", f)
				}
			}
			for k, v := range tt.kept {
				if got := cmd.GetFlag(k, ""); got != v {
					t.Errorf("flag %q: got %q, want %q", k, got, v)
				}
			}
			if strings.Join(cmd.Args, " ") != strings.Join(tt.wantArgs, " ") {
				t.Errorf("args: got %v, want %v", cmd.Args, tt.wantArgs)
			}
		})
	}
}

func TestCommandText(t *testing.T) {
	router := commands.NewRouter(commands.Prefix)
	cmd, err := router.Parse("/jimu plan notify unpaid invoices in the north --brand acme")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cmd.Text(); got != "notify unpaid invoices in the north" {
		t.Errorf("Text: got %q", got)
	}
	if cmd.GetFlag("brand", "") != "acme" {
		t.Errorf("brand flag: %v", cmd.Flags)
	}
}

func TestRoute(t *testing.T) {
	router := commands.NewRouter(commands.Prefix)
	var called []string
	record := func(key string) commands.Handler {
		return func(_ context.Context, cmd *commands.Command, _ *event.Event) (string, error) {
			called = append(called, key)
			return key, nil
		}
	}
	router.Register("playbooks.list", record("playbooks.list"))
	router.Register("plan", record("plan"))

	ctx := context.Background()
	evt := fakeEvent("@alice:example.com")

	if got, err := router.Route(ctx, "/jimu playbooks list", evt); err != nil || got != "playbooks.list" {
		t.Errorf("Route(playbooks list) = %q, %v", got, err)
	}
	// "plan" has no subcommands, so the first word of the text falls back
	// to the bare command.
	if got, err := router.Route(ctx, "/jimu plan notify stores", evt); err != nil || got != "plan" {
		t.Errorf("Route(plan) = %q, %v", got, err)
	}
	if _, err := router.Route(ctx, "/jimu routines list", evt); err == nil {
		t.Error("expected unknown command error")
	}
	if _, err := router.Dispatch(ctx, "missing", &commands.Command{}, evt); err == nil {
		t.Error("expected Dispatch error for unregistered key")
	}
	if len(called) != 2 {
		t.Errorf("handlers called: %v", called)
	}
}
