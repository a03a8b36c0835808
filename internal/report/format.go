package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
)

type Formatter struct{}

func NewFormatter() Formatter {
	return Formatter{}
}

func (f Formatter) Format(report Report, format Format) (string, error) {
	switch format {
	case FormatTable:
		return formatTable(report), nil
	case FormatJSON:
		payload, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return "", err
		}
		return string(payload) + "\n", nil
	default:
		return "", ErrUnknownFormat
	}
}

func formatTable(report Report) string {
	var buffer bytes.Buffer
	appendSummary(&buffer, report)
	appendTasks(&buffer, report.Tasks)
	appendModules(&buffer, report.Modules)
	appendInvalidations(&buffer, report.Invalidations)
	appendWarnings(&buffer, report)
	if buffer.Len() == 0 {
		buffer.WriteString("Nothing to report.\n")
	}
	return buffer.String()
}

func appendSummary(buffer *bytes.Buffer, report Report) {
	summary := report.Summary
	if summary == nil {
		return
	}
	env := report.Env
	if env == "" {
		env = "-"
	}
	_, _ = fmt.Fprintf(
		buffer,
		"Summary: %d read, %d written, %d relocated, %d cached, %d deduplicated in %dms (env: %s)\n\n",
		summary.FilesRead,
		summary.FilesWritten,
		summary.ModulesRelocated,
		summary.CacheHits,
		summary.Deduplicated,
		summary.DurationMillis,
		env,
	)
}

func appendTasks(buffer *bytes.Buffer, tasks []TaskSummary) {
	if len(tasks) == 0 {
		return
	}
	writer := tabwriter.NewWriter(buffer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(writer, strings.Join([]string{"Task", "Read", "Written", "Relocated", "Cached", "Deduplicated"}, "\t"))
	for _, task := range tasks {
		_, _ = fmt.Fprintf(writer, "%s\t%d\t%d\t%d\t%d\t%d\n", task.Name, task.FilesRead, task.FilesWritten, task.ModulesRelocated, task.CacheHits, task.Deduplicated)
	}
	_ = writer.Flush()
}

func appendModules(buffer *bytes.Buffer, modules []ModuleMapping) {
	if len(modules) == 0 {
		return
	}
	if buffer.Len() > 0 {
		buffer.WriteString("\n")
	}
	writer := tabwriter.NewWriter(buffer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(writer, "Source\tDestination\tRelocated\tSize")
	for _, module := range modules {
		_, _ = fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", module.Source, module.Destination, formatBool(module.Relocated), formatBytes(module.Bytes))
	}
	_ = writer.Flush()
}

func appendInvalidations(buffer *bytes.Buffer, invalidations []Invalidation) {
	if len(invalidations) == 0 {
		return
	}
	buffer.WriteString("\nCache invalidations:\n")
	for _, item := range invalidations {
		buffer.WriteString("- ")
		buffer.WriteString(item.Key)
		buffer.WriteString(": ")
		buffer.WriteString(item.Reason)
		buffer.WriteString("\n")
	}
}

func appendWarnings(buffer *bytes.Buffer, report Report) {
	if len(report.Warnings) == 0 {
		return
	}
	buffer.WriteString("\nWarnings:\n")
	for _, warning := range report.Warnings {
		buffer.WriteString("- ")
		buffer.WriteString(warning)
		buffer.WriteString("\n")
	}
}

func formatBool(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func formatBytes(value int) string {
	switch {
	case value >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(value)/(1024*1024))
	case value >= 1024:
		return fmt.Sprintf("%.1f KB", float64(value)/1024)
	default:
		return fmt.Sprintf("%d B", value)
	}
}
