// Package section defines the framing protocol for named blocks of agent output. See
// doc.go for docs.
package section

import (
	"bytes"
	"fmt"
	"io"
)

// DefaultSeparator is the field separator a section uses unless configured otherwise.
// It is never announced in the header.
const DefaultSeparator byte = ' '

// Producer writes the body of a section. A non-nil error means the body could not be
// generated; whatever was written before the error is discarded.
type Producer interface {
	Produce(w io.Writer) error
}

// ProducerFunc adapts a plain function to a Producer.
type ProducerFunc func(w io.Writer) error

func (f ProducerFunc) Produce(w io.Writer) error {
	return f(w)
}

// Logger receives a trace line before every section runs, so a crash log shows which
// section was executing when the process died.
type Logger interface {
	CrashLog(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) CrashLog(string, ...any) {}

// NopLogger discards all traces.
var NopLogger Logger = nopLogger{}

// Section is one named unit of agent output.
//
// Configure a Section before the first call to ProduceOutput. A Section does no locking:
// callers sharing one sink between sections must serialize the calls themselves.
type Section struct {
	name            string
	separator       byte
	showHeader      bool
	realtimeSupport bool

	producer Producer
	logger   Logger
}

// New creates a Section. A nil logger discards traces.
func New(name string, producer Producer, logger Logger) *Section {
	if logger == nil {
		logger = NopLogger
	}
	return &Section{
		name:       name,
		separator:  DefaultSeparator,
		showHeader: true,
		producer:   producer,
		logger:     logger,
	}
}

// WithHiddenHeader suppresses the header line. The body is still written.
func (s *Section) WithHiddenHeader(hidden bool) *Section {
	s.showHeader = !hidden
	return s
}

// WithRealtimeSupport marks the section as cheap enough to be produced on the realtime
// cadence. It has no effect on the output format.
func (s *Section) WithRealtimeSupport() *Section {
	s.realtimeSupport = true
	return s
}

// WithSeparator sets the byte that delimits fields in the body.
func (s *Section) WithSeparator(sep byte) *Section {
	s.separator = sep
	return s
}

func (s *Section) Name() string {
	return s.name
}

func (s *Section) Separator() byte {
	return s.separator
}

func (s *Section) ShowHeader() bool {
	return s.showHeader
}

func (s *Section) RealtimeSupport() bool {
	return s.realtimeSupport
}

// ProduceOutput generates the section body and writes it, framed, to w.
//
// It returns false if the producer failed; nothing is written in that case. An empty
// body is a success that writes nothing. Header and body reach w in a single Write.
// Errors returned by w are left to the owner of w.
func (s *Section) ProduceOutput(w io.Writer, nested bool) bool {
	s.logger.CrashLog("<<<%s>>>", s.name)

	output, ok := s.generateOutput()
	if !ok {
		return false
	}
	if output == "" {
		return true
	}

	var buf bytes.Buffer
	if s.showHeader && s.name != "" {
		buf.WriteString(s.Header(nested))
		buf.WriteByte('\n')
	}
	buf.WriteString(output)
	if output[len(output)-1] != '\n' {
		buf.WriteByte('\n')
	}

	_, _ = w.Write(buf.Bytes())
	return true
}

// Header returns the header line of the section without the trailing newline.
func (s *Section) Header(nested bool) string {
	if nested {
		return "[" + s.name + "]"
	}
	if s.separator != DefaultSeparator {
		return fmt.Sprintf("<<<%s:sep(%d)>>>", s.name, int(s.separator))
	}
	return "<<<" + s.name + ">>>"
}

// generateOutput runs the producer against a private buffer so the body can be inspected
// before anything reaches the real sink.
func (s *Section) generateOutput() (string, bool) {
	var inner bytes.Buffer
	if err := s.producer.Produce(&inner); err != nil {
		s.logger.CrashLog("section %s failed: %v", s.name, err)
		return "", false
	}
	return inner.String(), true
}
