package pipeline

import (
	"path"

	"github.com/ben-ranford/wxpack/internal/config"
)

// Task selects source files and turns each into output files under the
// distribution directory. Output paths are the unit path relative to Base,
// placed under Dest inside the distribution directory.
type Task struct {
	Name        string
	Include     []string
	Exclude     []string
	Base        string
	Dest        string
	Transformer Transformer
}

// DefaultTasks returns the mini-program build tasks, in the order they run.
// searchWidget runs last so its verbatim copies win over compiled output.
func DefaultTasks(values config.Values) []Task {
	src := values.SrcDir
	within := func(patterns ...string) []string {
		out := make([]string, 0, len(patterns))
		for _, pattern := range patterns {
			out = append(out, path.Join(src, pattern))
		}
		return out
	}
	return []Task{
		{Name: "html", Include: within("**/*.html"), Base: src, Transformer: Rename(".wxml")},
		{Name: "wxml", Include: within("**/*.wxml"), Base: src, Transformer: Copy()},
		{Name: "wxss", Include: within("**/*.wxss"), Base: src, Transformer: Copy()},
		{Name: "json", Include: within("**/*.json"), Base: src, Transformer: JSON(values.Production())},
		{Name: "js", Include: within("**/*.js"), Base: src, Transformer: NewScriptTransformer(values)},
		{
			Name:        "img",
			Include:     within("images/icons/**/*.{jpg,jpeg,png,gif}"),
			Base:        path.Join(src, "images", "icons"),
			Dest:        "images",
			Transformer: Copy(),
		},
		{
			Name:        "searchWidget",
			Include:     within("searchWidget/**/*.*"),
			Base:        path.Join(src, "searchWidget"),
			Dest:        "searchWidget",
			Transformer: Copy(),
		},
	}
}
