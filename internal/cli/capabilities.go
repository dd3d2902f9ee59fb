package cli

import (
	"os"

	"github.com/hostkit-platform/hostkit/internal/domain"
)

// Capability names the broad access level a command group requires.
type Capability int

const (
	// CapRead covers status, list, and query commands.
	CapRead Capability = iota
	// CapMutate covers everything that changes host state.
	CapMutate
)

// groupCapabilities is the policy table: command group -> required capability.
var groupCapabilities = map[string]Capability{
	"project":    CapMutate,
	"deploy":     CapMutate,
	"rollback":   CapMutate,
	"release":    CapMutate,
	"checkpoint": CapMutate,
	"ratelimit":  CapMutate,
	"limits":     CapMutate,
	"cron":       CapMutate,
	"worker":     CapMutate,
	"provision":  CapMutate,
	"health":     CapRead,
	"diagnose":   CapRead,
	"events":     CapRead,
	"env":        CapMutate,
	"service":    CapMutate,
	"db":         CapMutate,
}

// readVerbs are subcommands that never mutate host state; they are allowed
// for any invoker even inside a mutating group.
var readVerbs = map[string]bool{
	"list": true, "show": true, "get": true, "logs": true,
	"next": true, "disk": true,
}

// Authorize checks the invoker against the policy table before any service
// call is constructed. Services themselves never consult the invoker.
// Mutating commands require root privileges (directly or via sudo).
func Authorize(group, sub string) error {
	cap, ok := groupCapabilities[group]
	if !ok || cap == CapRead || readVerbs[sub] {
		return nil
	}
	if os.Geteuid() == 0 {
		return nil
	}
	return domain.Ef(domain.CodeInvalidState, "command group %q requires root", group).
		WithSuggestion("run through sudo: sudo hostkit " + group + " ...")
}
