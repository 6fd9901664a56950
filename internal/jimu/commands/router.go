// Package commands parses and routes the /jimu chat commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"
)

// Prefix is the command prefix the router listens for.
const Prefix = "/jimu"

// ErrNotACommand is returned by Parse when the text does not start with the
// router prefix. Such text is free-form and handled by HandleFreeText.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// Command is a parsed chat command.
//
// "/jimu routines create pb-1 --frequency weekly --notify" parses to Name
// "routines", Subcommand "create", Args ["pb-1"] and Flags
// {"frequency": "weekly", "notify": "true"}. Double quotes group words into
// one argument. Lines after the first are kept verbatim in Body.
type Command struct {
	Name       string
	Subcommand string
	Args       []string
	Flags      map[string]string
	Body       string
	RawText    string
}

// Handler handles one command.
type Handler func(ctx context.Context, cmd *Command, evt *event.Event) (string, error)

// Router maps "name" and "name.subcommand" keys to handlers.
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates an empty router for prefix.
func NewRouter(prefix string) *Router {
	return &Router{handlers: make(map[string]Handler), prefix: prefix}
}

// Register installs handler under key.
func (r *Router) Register(key string, handler Handler) {
	r.handlers[key] = handler
}

// Parse splits text into a Command.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if text != r.prefix && !strings.HasPrefix(text, r.prefix+" ") && !strings.HasPrefix(text, r.prefix+"\n") {
		return nil, ErrNotACommand
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, r.prefix))

	head, body, _ := strings.Cut(text, "\n")
	parts, err := splitQuoted(head)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := &Command{
		Name:    strings.ToLower(parts[0]),
		Args:    []string{},
		Flags:   make(map[string]string),
		Body:    strings.TrimSpace(body),
		RawText: text,
	}
	parts = parts[1:]
	if len(parts) > 0 && !strings.HasPrefix(parts[0], "--") {
		cmd.Subcommand = parts[0]
		parts = parts[1:]
	}

	for i := 0; i < len(parts); i++ {
		name, ok := strings.CutPrefix(parts[i], "--")
		if !ok || name == "" {
			cmd.Args = append(cmd.Args, parts[i])
			continue
		}
		value := "true"
		if k, v, hasEq := strings.Cut(name, "="); hasEq {
			name, value = k, v
		} else if i+1 < len(parts) && !strings.HasPrefix(parts[i+1], "--") {
			value = parts[i+1]
			i++
		}
		// Flags starting with "_" are set only by the approval replay.
		if strings.HasPrefix(name, "_") {
			continue
		}
		cmd.Flags[name] = value
	}
	return cmd, nil
}

// splitQuoted splits s on whitespace, keeping double-quoted runs together.
func splitQuoted(s string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case !quoted && (r == ' ' || r == '\t'):
			if started {
				out = append(out, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote")
	}
	if started {
		out = append(out, cur.String())
	}
	return out, nil
}

// Route parses text and calls the matching handler. "name.subcommand" is
// tried first, then "name".
func (r *Router) Route(ctx context.Context, text string, evt *event.Event) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}
	if cmd.Subcommand != "" {
		if h, ok := r.handlers[cmd.Name+"."+strings.ToLower(cmd.Subcommand)]; ok {
			return h(ctx, cmd, evt)
		}
	}
	if h, ok := r.handlers[cmd.Name]; ok {
		return h(ctx, cmd, evt)
	}
	return "", fmt.Errorf("unknown command: %s (try %s help)", cmd.FullCommand(), r.prefix)
}

// Dispatch calls the handler registered for key without parsing. Approved
// commands are replayed through it.
func (r *Router) Dispatch(ctx context.Context, key string, cmd *Command, evt *event.Event) (string, error) {
	h, ok := r.handlers[key]
	if !ok {
		return "", fmt.Errorf("no handler registered for action %q", key)
	}
	return h(ctx, cmd, evt)
}

// GetFlag returns a flag value or def.
func (c *Command) GetFlag(name, def string) string {
	if v, ok := c.Flags[name]; ok {
		return v
	}
	return def
}

// HasFlag reports whether the flag was given.
func (c *Command) HasFlag(name string) bool {
	_, ok := c.Flags[name]
	return ok
}

// GetArg returns the positional argument at index.
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}

// Text rejoins the subcommand and arguments. Commands that take free text
// (plan, run) read their instruction from it.
func (c *Command) Text() string {
	words := c.Args
	if c.Subcommand != "" {
		words = append([]string{c.Subcommand}, c.Args...)
	}
	return strings.Join(words, " ")
}

// FullCommand returns "name subcommand".
func (c *Command) FullCommand() string {
	if c.Subcommand != "" {
		return c.Name + " " + c.Subcommand
	}
	return c.Name
}
