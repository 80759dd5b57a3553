package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	json "github.com/goccy/go-json"

	"github.com/hamed0406/ipsafe/internal/config"
)

// printer renders user-facing CLI messages. Colors are dropped automatically
// when the output is not a terminal or NO_COLOR is set.
type printer struct {
	stdout io.Writer
	stderr io.Writer

	info   func(a ...any) string
	good   func(a ...any) string
	bad    func(a ...any) string
	notice func(a ...any) string
	dim    func(a ...any) string
	bright func(a ...any) string
}

func newPrinter(stdout, stderr io.Writer) *printer {
	return &printer{
		stdout: stdout,
		stderr: stderr,
		info:   color.New(color.FgCyan).SprintFunc(),
		good:   color.New(color.FgGreen).SprintFunc(),
		bad:    color.New(color.FgRed).SprintFunc(),
		notice: color.New(color.FgYellow).SprintFunc(),
		dim:    color.New(color.FgHiBlack).SprintFunc(),
		bright: color.New(color.Bold).SprintFunc(),
	}
}

func (p *printer) plain(s string) { fmt.Fprintln(p.stdout, s) }

func (p *printer) checking(url string) {
	fmt.Fprintf(p.stdout, "🔍 %s %s...\n", p.info("Checking network connectivity to"), p.dim(url))
}

func (p *printer) executing(command string) {
	fmt.Fprintf(p.stdout, "🚀 %s %s\n\n", p.info("Executing:"), p.bright(command))
}

func (p *printer) done() {
	fmt.Fprintf(p.stdout, "\n✨ %s\n", p.good("Command completed successfully"))
}

func (p *printer) success(label, detail string) {
	if detail == "" {
		fmt.Fprintf(p.stdout, "✅ %s\n", p.good(label))
		return
	}
	fmt.Fprintf(p.stdout, "✅ %s %s\n", p.good(label), detail)
}

func (p *printer) hint(s string) { fmt.Fprintf(p.stdout, "💡 %s\n", p.dim(s)) }

func (p *printer) failure(label, msg string) {
	if label == "" {
		fmt.Fprintf(p.stderr, "❌ %s\n", msg)
		return
	}
	fmt.Fprintf(p.stderr, "❌ %s %s\n", p.bad(label), msg)
}

func (p *printer) warn(s string) { fmt.Fprintf(p.stderr, "🚫 %s\n", p.notice(s)) }

// configInfo prints where the configuration comes from and what it resolves to.
func (p *printer) configInfo(info config.Info) int {
	fmt.Fprintf(p.stdout, "🛡️  %s\n\n", p.info("ipsafe Configuration"))

	if len(info.Active) == 0 {
		fmt.Fprintf(p.stdout, "📂 %s\n", p.notice("No config found, using defaults"))
	}
	for _, path := range info.Active {
		fmt.Fprintf(p.stdout, "📂 %s %s\n", p.good("Active config:"), path)
	}
	fmt.Fprintf(p.stdout, "🏠 %s %s\n\n", p.dim("Global config path:"), info.GlobalPath)

	data, err := json.MarshalIndent(info.Config, "", "  ")
	if err != nil {
		p.failure("", err.Error())
		return 1
	}
	fmt.Fprintf(p.stdout, "⚙️  %s\n%s\n\n", p.bright("Current settings:"), data)

	fmt.Fprintf(p.stdout, "🔍 %s\n", p.dim("Config search order:"))
	for i, sp := range info.SearchPaths {
		mark := p.dim("✗")
		if sp.Exists {
			mark = p.good("✓")
		}
		fmt.Fprintf(p.stdout, "  %d. %s %s\n", i+1, mark, sp.Path)
	}
	return 0
}
