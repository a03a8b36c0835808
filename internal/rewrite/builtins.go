package rewrite

import "strings"

// nodeBuiltinModules lists the top-level Node.js core modules. None of them
// exist in the mini-program runtime, so a request for one only resolves when
// a package of the same name is installed.
var nodeBuiltinModules = map[string]bool{
	"assert":              true,
	"async_hooks":         true,
	"buffer":              true,
	"child_process":       true,
	"cluster":             true,
	"console":             true,
	"constants":           true,
	"crypto":              true,
	"dgram":               true,
	"diagnostics_channel": true,
	"dns":                 true,
	"domain":              true,
	"events":              true,
	"fs":                  true,
	"http":                true,
	"http2":               true,
	"https":               true,
	"inspector":           true,
	"module":              true,
	"net":                 true,
	"os":                  true,
	"path":                true,
	"perf_hooks":          true,
	"process":             true,
	"punycode":            true,
	"querystring":         true,
	"readline":            true,
	"repl":                true,
	"stream":              true,
	"string_decoder":      true,
	"sys":                 true,
	"timers":              true,
	"tls":                 true,
	"trace_events":        true,
	"tty":                 true,
	"url":                 true,
	"util":                true,
	"v8":                  true,
	"vm":                  true,
	"wasi":                true,
	"worker_threads":      true,
	"zlib":                true,
}

// isNodeBuiltin accepts bare names, "node:" prefixed names and subpaths such
// as "fs/promises".
func isNodeBuiltin(moduleName string) bool {
	moduleName = strings.TrimPrefix(moduleName, "node:")
	if head, _, ok := strings.Cut(moduleName, "/"); ok {
		return nodeBuiltinModules[head]
	}
	return nodeBuiltinModules[moduleName]
}
