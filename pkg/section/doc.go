// Package section defines the framing protocol the agent uses to write named blocks of
// plain-text monitoring data to one output stream.
//
// # Overview
//
// Goals:
//
//  1. A downstream consumer can split one continuous text stream back into named sections
//  2. No binary format: every byte is plain text the consumer can read line by line
//  3. A section without data takes no space in the stream
//  4. Every section ends on a line boundary
//
// # Wire Format
//
// A top-level section is a header line followed by its body:
//
//	<<<name>>>\n
//	body\n
//
// If the fields in the body are delimited by something other than a space, the
// header carries the decimal byte value of the separator:
//
//	<<<name:sep(44)>>>\n
//
// A section nested inside another section's body uses lighter brackets and never
// carries a separator annotation:
//
//	[name]\n
//	body\n
//
// # Rules
//
//   - The body is written verbatim. A single \n is appended only if the body does not
//     already end with one.
//   - A section whose body is empty writes zero bytes, not even a header.
//   - A section whose producer fails writes zero bytes. Anything the producer wrote
//     before failing is discarded.
//   - A section with a hidden header, or with an empty name, writes its body without
//     a header line.
//
// # Examples
//
// Example 1: default separator
//
//	<<<df>>>\n
//	C: 100 50\n
//
// Example 2: comma separator
//
//	<<<ps:sep(44)>>>\n
//	a,b,c\n
//
// Example 3: nested section, body without trailing newline
//
//	[df]\n
//	C: 100 50\n
//
// The consumer side of the format is [Reader].
package section
