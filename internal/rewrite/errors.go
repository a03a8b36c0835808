package rewrite

import (
	"errors"
	"fmt"
)

var (
	ErrModuleNotFound   = errors.New("module not found")
	ErrUnsupportedInput = errors.New("unsupported input")
	ErrPathEscape       = errors.New("path escapes project root")
	ErrStreamConsumed   = errors.New("rewrite stream already consumed")
)

// ModuleNotFoundError reports a require request that did not resolve to a file.
type ModuleNotFoundError struct {
	Request string
	BaseDir string
	Reason  string
}

func (e *ModuleNotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot find module %q from %s: %s", e.Request, e.BaseDir, e.Reason)
	}
	return fmt.Sprintf("cannot find module %q from %s", e.Request, e.BaseDir)
}

func (e *ModuleNotFoundError) Unwrap() error {
	return ErrModuleNotFound
}

// PathEscapeError reports a path that lies outside the configured root.
type PathEscapeError struct {
	Path string
	Root string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path not valid: %s is outside %s", e.Path, e.Root)
}

func (e *PathEscapeError) Unwrap() error {
	return ErrPathEscape
}

func unsupportedInput(path string) error {
	return fmt.Errorf("%w: %s: stream not supported", ErrUnsupportedInput, path)
}
