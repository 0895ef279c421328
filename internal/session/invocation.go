package session

import (
	"fmt"
	"strings"
)

// ParseInvocation splits a qrexec call argument of the form
// "<chain>+<dst>+<call>" into its three parts and combines it with the
// source VM name Qubes OS passes via QREXEC_REMOTE_DOMAIN. Qubes OS
// itself always splits qrexec call strings on "+", which is why the
// chain name, destination VM, and RPC call name are joined the same way
// rather than with a dedicated delimiter.
func ParseInvocation(arg, sourceVM string) (Meta, error) {
	if sourceVM == "" {
		return Meta{}, &ConfigError{Cause: fmt.Errorf("failed to identify the source VM: QREXEC_REMOTE_DOMAIN is not set")}
	}

	parts := strings.Split(arg, "+")
	if len(parts) != 3 {
		return Meta{}, &ConfigError{Cause: fmt.Errorf("unexpected invocation argument %q: expected [chain]+[destination vm]+[call]", arg)}
	}

	return Meta{
		Chain: parts[0],
		Src:   sourceVM,
		Dst:   parts[1],
		Call:  parts[2],
	}, nil
}
