package markdown

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"

	"monagent/pkg/section"
)

// RenderToHTML converts markdown text to sanitized HTML.
// It uses blackfriday for markdown parsing and bluemonday for HTML sanitization
// to prevent XSS attacks while preserving safe formatting.
func RenderToHTML(markdown string) string {
	unsafeHTML := blackfriday.Run(
		[]byte(markdown),
		blackfriday.WithExtensions(
			blackfriday.CommonExtensions|
				blackfriday.AutoHeadingIDs|
				blackfriday.Footnotes,
		),
	)

	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span")
	policy.AllowAttrs("id").Matching(bluemonday.SpaceSeparatedTokens).OnElements("h1", "h2", "h3", "h4", "h5", "h6")

	return string(policy.SanitizeBytes(unsafeHTML))
}

// SectionsToMarkdown renders blocks read back from agent output as a markdown
// document: one heading per section and its body in a fenced code block. Nested
// subsections get a smaller heading.
func SectionsToMarkdown(title string, blocks []section.Block) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)

	for _, block := range blocks {
		name := block.Name
		if name == "" {
			name = "(no header)"
		}
		fmt.Fprintf(&sb, "## %s\n\n", name)
		if block.Separator != section.DefaultSeparator {
			fmt.Fprintf(&sb, "Separator: `%d`\n\n", int(block.Separator))
		}
		if block.Err != nil {
			fmt.Fprintf(&sb, "**Error:** %s\n\n", block.Err)
		}

		for _, sub := range block.Subsections() {
			if sub.Name != "" {
				fmt.Fprintf(&sb, "### %s\n\n", sub.Name)
			}
			writeFence(&sb, sub.Body)
		}
	}
	return sb.String()
}

// writeFence writes body as a fenced code block whose fence is longer than any run of
// backticks in body.
func writeFence(sb *strings.Builder, body []byte) {
	fence := "```"
	for strings.Contains(string(body), fence) {
		fence += "`"
	}
	sb.WriteString(fence + "\n")
	sb.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		sb.WriteByte('\n')
	}
	sb.WriteString(fence + "\n\n")
}
