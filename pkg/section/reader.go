package section

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Block is one section read back from an agent stream.
type Block struct {
	Name      string
	Separator byte
	// Options holds header options other than sep, e.g. cached(...) written by plugins.
	Options map[string]string
	Body    []byte
	Err     error
}

// Reader splits an agent stream into Blocks. Text before the first header becomes a
// Block with an empty name.
type Reader struct {
	reader io.Reader
}

func NewReader(reader io.Reader) *Reader {
	return &Reader{reader: reader}
}

// Channel returns a channel which emits Blocks in stream order. The channel is closed at
// the end of the stream or after a Block carrying a read error.
func (r *Reader) Channel() <-chan Block {
	channel := make(chan Block)
	go readToChannel(bufio.NewReader(r.reader), channel)
	return channel
}

// All reads the whole stream and returns every Block.
func (r *Reader) All() []Block {
	var blocks []Block
	for block := range r.Channel() {
		blocks = append(blocks, block)
	}
	return blocks
}

func readToChannel(reader *bufio.Reader, channel chan<- Block) {
	defer close(channel)

	current := Block{Separator: DefaultSeparator}
	started := false
	flush := func() {
		if started || len(current.Body) > 0 {
			channel <- current
		}
	}

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if name, ok := topLevelHeader(line); ok {
				flush()
				current = parseHeader(name)
				started = true
			} else {
				current.Body = append(current.Body, line...)
			}
		}
		if err != nil {
			if err != io.EOF {
				current.Err = fmt.Errorf("reading stream: %w", err)
				started = true
			}
			flush()
			return
		}
	}
}

// topLevelHeader returns the text between <<< and >>> if line is a header line.
func topLevelHeader(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 6 || !strings.HasPrefix(line, "<<<") || !strings.HasSuffix(line, ">>>") {
		return "", false
	}
	return line[3 : len(line)-3], true
}

// parseHeader decodes "name:opt(value):opt(value)".
func parseHeader(header string) Block {
	parts := strings.Split(header, ":")
	block := Block{Name: parts[0], Separator: DefaultSeparator}

	for _, part := range parts[1:] {
		open := strings.IndexByte(part, '(')
		if open <= 0 || !strings.HasSuffix(part, ")") {
			block.Err = fmt.Errorf("section %q: malformed header option %q", block.Name, part)
			continue
		}
		key, value := part[:open], part[open+1:len(part)-1]
		if key != "sep" {
			if block.Options == nil {
				block.Options = make(map[string]string)
			}
			block.Options[key] = value
			continue
		}
		code, err := strconv.Atoi(value)
		if err != nil || code < 0 || code > 255 {
			block.Err = fmt.Errorf("section %q: invalid separator %q", block.Name, value)
			continue
		}
		block.Separator = byte(code)
	}
	return block
}

// Subsections splits the body on nested [name] header lines. Text before the first
// nested header becomes a Block with an empty name. Subsections inherit the separator.
func (b Block) Subsections() []Block {
	var blocks []Block
	current := Block{Separator: b.Separator}
	started := false

	for _, line := range splitLines(b.Body) {
		trimmed := strings.TrimRight(string(line), "\r\n")
		if len(trimmed) >= 2 && trimmed[0] == '[' && trimmed[len(trimmed)-1] == ']' {
			if started || len(current.Body) > 0 {
				blocks = append(blocks, current)
			}
			current = Block{Name: trimmed[1 : len(trimmed)-1], Separator: b.Separator}
			started = true
			continue
		}
		current.Body = append(current.Body, line...)
	}
	if started || len(current.Body) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

// Rows splits every non-empty body line into fields. A space separator splits on any
// run of whitespace.
func (b Block) Rows() [][]string {
	var rows [][]string
	for _, line := range splitLines(b.Body) {
		text := strings.TrimRight(string(line), "\r\n")
		if text == "" {
			continue
		}
		if b.Separator == DefaultSeparator {
			rows = append(rows, strings.Fields(text))
		} else {
			rows = append(rows, strings.Split(text, string(b.Separator)))
		}
	}
	return rows
}

// splitLines splits data after every \n, keeping the newline.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			lines = append(lines, data)
			break
		}
		lines = append(lines, data[:i+1])
		data = data[i+1:]
	}
	return lines
}
