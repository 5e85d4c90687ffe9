// Package cmd provides a transport-agnostic command core: a command is something
// with a name, description, and Run(ctx, invocation). How it is parsed and
// dispatched (Discord text messages, CLI) is defined by adapters that wrap this.
package cmd

import (
	"context"
	"strings"
)

// Invocation carries the minimal input any command runner can pass: arguments
// and an opaque payload. Adapters set Data to their own context (the Discord bot
// passes its message context).
type Invocation struct {
	Name string
	Args []string
	Data interface{}
}

// Arg returns the joined arguments, the usual way a command takes a free-form name.
func (inv *Invocation) Arg() string {
	return strings.TrimSpace(strings.Join(inv.Args, " "))
}

// Command is the universal contract: identity plus execution. Permissions and
// transport-specific registration stay in adapters.
type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}

// Aliased is implemented by commands reachable under extra names.
type Aliased interface {
	Aliases() []string
}

// Parse splits "<prefix><name> args..." into an invocation. ok is false when line
// does not start with prefix or names no command.
func Parse(prefix, line string) (inv *Invocation, ok bool) {
	line = strings.TrimSpace(line)
	if prefix == "" || !strings.HasPrefix(line, prefix) {
		return nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(line, prefix))
	if len(fields) == 0 {
		return nil, false
	}
	return &Invocation{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}
