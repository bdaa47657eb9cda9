// Package sse carries command output over HTTP as an event stream.
package sse

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/modoterra/cmdlog/pkg/core"
	"github.com/modoterra/cmdlog/pkg/stream"
)

// ExecPath is the endpoint starting a streamed command.
const ExecPath = "/v1/exec"

// ExecRequest is the JSON body posted to ExecPath.
type ExecRequest struct {
	Command string `json:"command"`
}

// WriteRecord writes one chunk as a data record. JSON encoding escapes
// newlines, so the payload never contains the record delimiter.
func WriteRecord(w io.Writer, content string, metadata any) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	payload, err := json.Marshal(core.Chunk{Content: content, Metadata: core.Metadata(meta)})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	frame := make([]byte, 0, len(stream.DataPrefix)+len(payload)+len(stream.Delimiter))
	frame = append(frame, stream.DataPrefix...)
	frame = append(frame, payload...)
	frame = append(frame, stream.Delimiter...)
	_, err = w.Write(frame)
	return err
}
