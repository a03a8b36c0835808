// Package report renders build and rewrite results for the command line.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

const SchemaVersion = "0.1.0"

var ErrUnknownFormat = errors.New("unknown format")

func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, value)
	}
}

type Report struct {
	SchemaVersion string          `json:"schemaVersion"`
	GeneratedAt   time.Time       `json:"generatedAt"`
	Root          string          `json:"root"`
	Env           string          `json:"env,omitempty"`
	Summary       *Summary        `json:"summary,omitempty"`
	Tasks         []TaskSummary   `json:"tasks,omitempty"`
	Modules       []ModuleMapping `json:"modules,omitempty"`
	Invalidations []Invalidation  `json:"invalidations,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
}

type Summary struct {
	FilesRead        int   `json:"filesRead"`
	FilesWritten     int   `json:"filesWritten"`
	ModulesRelocated int   `json:"modulesRelocated"`
	CacheHits        int   `json:"cacheHits"`
	Deduplicated     int   `json:"deduplicated"`
	DurationMillis   int64 `json:"durationMillis"`
}

type TaskSummary struct {
	Name             string `json:"name"`
	FilesRead        int    `json:"filesRead"`
	FilesWritten     int    `json:"filesWritten"`
	ModulesRelocated int    `json:"modulesRelocated"`
	CacheHits        int    `json:"cacheHits"`
	Deduplicated     int    `json:"deduplicated"`
}

// ModuleMapping is one emitted module: where it was read from and where it
// ends up.
type ModuleMapping struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Relocated   bool   `json:"relocated"`
	Bytes       int    `json:"bytes"`
}

type Invalidation struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// ComputeSummary totals the per-task counters.
func ComputeSummary(tasks []TaskSummary, duration time.Duration) *Summary {
	summary := &Summary{DurationMillis: duration.Milliseconds()}
	for _, task := range tasks {
		summary.FilesRead += task.FilesRead
		summary.FilesWritten += task.FilesWritten
		summary.ModulesRelocated += task.ModulesRelocated
		summary.CacheHits += task.CacheHits
		summary.Deduplicated += task.Deduplicated
	}
	return summary
}
