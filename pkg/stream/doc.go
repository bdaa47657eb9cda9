// Package stream decodes an event-stream byte source into content chunks.
//
// The wire format is UTF-8 text split into records by a blank line
// ("\n\n"). A record takes part in the protocol only when it starts with
// "data: "; the rest of the record is a JSON object of the form
//
//	{"content": "...", "metadata": {"is_complete": true, ...}}
//
// Records that do not match are dropped with a diagnostic and decoding
// carries on with the next one.
package stream
