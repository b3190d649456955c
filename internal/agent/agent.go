// Package agent produces the complete agent output: every configured section, in order,
// on one sink.
package agent

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"monagent/internal/config"
	"monagent/internal/plugins"
	"monagent/internal/sysmon"
	"monagent/pkg/section"
)

// Version is reported in the check_mk section.
var Version = "0.1.0"

// Agent owns an ordered list of sections. Its methods may be called concurrently: output
// runs are serialized so sections never interleave and never race on their producers.
type Agent struct {
	mu       sync.Mutex
	sections []*section.Section
}

func New(sections ...*section.Section) *Agent {
	return &Agent{sections: sections}
}

// Sections returns the sections in output order.
func (a *Agent) Sections() []*section.Section {
	return a.sections
}

// Lookup returns the section with the given name.
func (a *Agent) Lookup(name string) (*section.Section, bool) {
	for _, s := range a.sections {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Produce writes every section to w. Failed sections are left out of the output and
// logged. The returned error is the first error reported by w.
func (a *Agent) Produce(w io.Writer) error {
	return a.produce(w, a.sections)
}

// ProduceRealtime writes only the sections that support the realtime cadence.
func (a *Agent) ProduceRealtime(w io.Writer) error {
	var realtime []*section.Section
	for _, s := range a.sections {
		if s.RealtimeSupport() {
			realtime = append(realtime, s)
		}
	}
	return a.produce(w, realtime)
}

// ProduceSection writes a single section.
func (a *Agent) ProduceSection(w io.Writer, name string) error {
	s, ok := a.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown section %q", name)
	}
	return a.produce(w, []*section.Section{s})
}

func (a *Agent) produce(w io.Writer, sections []*section.Section) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	sink := &errWriter{w: w}
	for _, s := range sections {
		if !s.ProduceOutput(sink, false) {
			slog.Warn("Section failed", "section", s.Name())
		}
		if sink.err != nil {
			return fmt.Errorf("writing section %s: %w", s.Name(), sink.err)
		}
	}
	return nil
}

// errWriter remembers the first write error and drops all writes after it.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}

// Build creates the agent described by cfg. Every section traces to logger.
func Build(cfg *config.Config, logger section.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	sortColumn, err := sysmon.ParseSortColumn(cfg.PS.Sort)
	if err != nil {
		return nil, fmt.Errorf("ps.sort: %w", err)
	}

	sections := make([]*section.Section, 0, len(cfg.Sections))
	for _, name := range cfg.Sections {
		var s *section.Section
		switch name {
		case "check_mk":
			s = section.New(name, sysmon.CheckMK(Version), logger)
		case "uptime":
			s = section.New(name, sysmon.Uptime(), logger)
		case "mem":
			s = section.New(name, sysmon.Memory(), logger).WithRealtimeSupport()
		case "cpu":
			s = section.New(name, sysmon.CPU(), logger).WithRealtimeSupport()
		case "df":
			s = section.New(name, sysmon.DF(cfg.DF.ExcludeFSTypes), logger)
		case "ps":
			s = section.New(name, &sysmon.PS{Sort: sortColumn, Limit: cfg.PS.Limit}, logger).
				WithSeparator(sysmon.PSSeparator)
		case "processes":
			s = section.New(name, sysmon.Processes(nil, cfg.PS.Limit, logger), logger)
		case "local":
			s = section.New(name, &plugins.Runner{Dir: cfg.Local.Dir, Timeout: cfg.Local.Timeout, TTY: cfg.Local.TTY}, logger)
		case "plugins":
			// Plugins print their own section headers.
			s = section.New(name, &plugins.Runner{Dir: cfg.Plugins.Dir, Timeout: cfg.Plugins.Timeout, TTY: cfg.Plugins.TTY}, logger).
				WithHiddenHeader(true)
		default:
			return nil, fmt.Errorf("unknown section %q", name)
		}

		if cfg.Hidden(name) {
			s.WithHiddenHeader(true)
		}
		if sep, ok := cfg.Separator(name); ok {
			s.WithSeparator(sep)
		}
		sections = append(sections, s)
	}

	return New(sections...), nil
}
