// Package actions writes process outputs and annotations for the CI runner.
package actions

import (
	"log"
	"strings"

	"github.com/sethvargo/go-githubactions"
)

// Runner publishes outputs through the workflow command protocol.
// Without a GITHUB_OUTPUT file, outputs go to the log instead.
type Runner struct {
	action   *githubactions.Action
	fallback *LogOutputs
}

// New returns a runner; options are passed to githubactions.New.
func New(opts ...githubactions.Option) *Runner {
	return &Runner{action: githubactions.New(opts...), fallback: &LogOutputs{}}
}

// SetOutput sets a step output.
func (r *Runner) SetOutput(name, value string) {
	if r.action.Getenv("GITHUB_OUTPUT") == "" {
		r.fallback.SetOutput(name, value)
		return
	}
	r.action.SetOutput(name, value)
}

// Mask hides value in all later log output.
func (r *Runner) Mask(value string) {
	if value == "" {
		return
	}
	r.fallback.Mask(value)
	r.action.AddMask(value)
}

// Fail emits an ::error:: annotation for err.
func (r *Runner) Fail(err error) {
	r.action.Errorf("%v", err)
}

// Notice emits a ::notice:: annotation.
func (r *Runner) Notice(msg string) {
	r.action.Noticef("%s", msg)
}

// LogOutputs is the output sink outside a runner: values go to the log.
// Masked values are replaced before printing.
type LogOutputs struct {
	Prefix string
	masked []string
}

func (l *LogOutputs) SetOutput(name, value string) {
	for _, m := range l.masked {
		value = strings.ReplaceAll(value, m, "***")
	}
	log.Printf("[%s] output %s=%s", l.prefix(), name, value)
}

func (l *LogOutputs) Mask(value string) {
	if value != "" {
		l.masked = append(l.masked, value)
	}
}

func (l *LogOutputs) prefix() string {
	if l.Prefix == "" {
		return "Outputs"
	}
	return l.Prefix
}
