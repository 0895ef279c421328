// Package session parses one qrexec-proxy invocation, resolves its chain
// configuration, drives the pipeline engine, and maps the resulting error
// taxonomy to process exit codes.
package session

import "github.com/3hhh/qubes-qrexec-proxy/internal/plugin"

// Meta is the immutable metadata describing one proxy invocation, built
// once in main() and passed by value into every stage constructor so no
// stage can accidentally mutate another's view of the connection. It is
// an alias of plugin.Meta — see that type's doc comment for why the
// definition lives there.
type Meta = plugin.Meta
