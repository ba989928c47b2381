// Package deps implements the dispatcher's dependency-bundle polymorphism:
// the three kinds of call_before/call_after hooks a node's metadata can
// carry (shell-command, package-install, generic-callable), each dispatched
// on a serialized "type" tag per the tagged-union guidance in the design
// notes, rather than a deep interface hierarchy.
package deps

import (
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/latticerun/dispatcher/pkg/models"
	"github.com/latticerun/dispatcher/pkg/transportable"
)

// Kind tags which variant a Bundle record holds.
type Kind string

const (
	KindShell           Kind = "shell"
	KindPackage         Kind = "package"
	KindGenericCallable Kind = "callable"
)

// Sentinel function names applyShell/applyPackage rehydrate into. An
// executor recognizes these the same way regardless of whether they arrive
// as a node's primary function or as a call_before/call_after hook.
const (
	SentinelRunShellName        = "__dep_run_shell__"
	SentinelInstallPackagesName = "__dep_install_packages__"
)

// Bundle is the serialized, tagged-union record for one dependency.
type Bundle struct {
	Kind Kind `json:"type"`

	// KindShell
	Commands []string `json:"commands,omitempty"`

	// KindPackage
	PipPackages []string `json:"pip,omitempty"`

	// KindGenericCallable
	CallableName string                        `json:"callable_name,omitempty"`
	Args         []transportable.Transportable `json:"args,omitempty"`
	Kwargs       map[string]transportable.Transportable `json:"kwargs,omitempty"`
}

// Applied is the (callable, args, kwargs) triple a bundle rehydrates into,
// ready for the Task Runner to splice around the node's own invocation.
type Applied struct {
	Function transportable.Transportable
	Args     []transportable.Transportable
	Kwargs   map[string]transportable.Transportable
}

// CallableRegistry resolves a registered callable name to a runnable
// function, standing in for the host-language closures covalent's deps
// carry directly; Go cannot deserialize an arbitrary closure, so bundles
// reference one by name instead (the same trick the executor's "local"
// variant uses for node functions).
type CallableRegistry interface {
	Lookup(name string) (func(args []any, kwargs map[string]any) (any, error), bool)
}

// Apply rehydrates a bundle into (function, args, kwargs). Any failure here
// is the "Dependency-bundle rehydration error" row of §7: the caller (the
// Wave Scheduler, before submitting a node) must treat it as a wave-abort
// cause, not a node-local failure.
func Apply(b Bundle, registry CallableRegistry) (Applied, error) {
	switch b.Kind {
	case KindShell:
		return applyShell(b)
	case KindPackage:
		return applyPackage(b)
	case KindGenericCallable:
		return applyGenericCallable(b, registry)
	default:
		return Applied{}, fmt.Errorf("%w: %q", models.ErrInvalidDependencyKind, b.Kind)
	}
}

func applyShell(b Bundle) (Applied, error) {
	if len(b.Commands) == 0 {
		return Applied{}, fmt.Errorf("%w: shell bundle has no commands", models.ErrDependencyApplyFailed)
	}
	script, err := transportable.Wrap(b.Commands)
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %v", models.ErrDependencyApplyFailed, err)
	}
	fn, err := transportable.Wrap(SentinelRunShellName)
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %v", models.ErrDependencyApplyFailed, err)
	}
	return Applied{Function: fn, Args: []transportable.Transportable{script}}, nil
}

func applyPackage(b Bundle) (Applied, error) {
	if len(b.PipPackages) == 0 {
		return Applied{}, fmt.Errorf("%w: package bundle has no packages", models.ErrDependencyApplyFailed)
	}
	pkgs, err := transportable.Wrap(b.PipPackages)
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %v", models.ErrDependencyApplyFailed, err)
	}
	fn, err := transportable.Wrap(SentinelInstallPackagesName)
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %v", models.ErrDependencyApplyFailed, err)
	}
	return Applied{Function: fn, Args: []transportable.Transportable{pkgs}}, nil
}

func applyGenericCallable(b Bundle, registry CallableRegistry) (Applied, error) {
	if b.CallableName == "" {
		return Applied{}, fmt.Errorf("%w: callable bundle has no name", models.ErrDependencyApplyFailed)
	}
	if registry != nil {
		if _, ok := registry.Lookup(b.CallableName); !ok {
			return Applied{}, fmt.Errorf("%w: %s", models.ErrCallableNotRegistered, b.CallableName)
		}
	}
	fn, err := transportable.Wrap(b.CallableName)
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %v", models.ErrDependencyApplyFailed, err)
	}
	return Applied{Function: fn, Args: b.Args, Kwargs: b.Kwargs}, nil
}

// RunShellCommands executes the commands produced by applyShell's
// transportable payload, in order, stopping at the first failure. This is
// the implementation the "local" and "subprocess" executors call when they
// encounter the "__dep_run_shell__" sentinel function.
func RunShellCommands(commandsJSON transportable.Transportable) (stdout, stderr string, err error) {
	var commands []string
	if err := transportable.Materialize(commandsJSON, &commands); err != nil {
		return "", "", err
	}
	var outBuf, errBuf []byte
	for _, cmd := range commands {
		c := exec.Command("sh", "-c", cmd)
		out, runErr := c.Output()
		outBuf = append(outBuf, out...)
		if runErr != nil {
			if ee, ok := runErr.(*exec.ExitError); ok {
				errBuf = append(errBuf, ee.Stderr...)
			}
			return string(outBuf), string(errBuf), fmt.Errorf("shell dep command %q: %w", cmd, runErr)
		}
	}
	return string(outBuf), string(errBuf), nil
}

// MustMarshalForDebug is a small helper used by tests to render a bundle's
// JSON shape without importing encoding/json at every call site.
func MustMarshalForDebug(b Bundle) string {
	data, _ := json.MarshalIndent(b, "", "  ")
	return string(data)
}
