package stream

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/modoterra/cmdlog/pkg/core"
)

// DataPrefix marks a record carrying a payload.
const DataPrefix = "data: "

var (
	// ErrEmptyRecord is returned for records with no content at all,
	// such as the gap left by consecutive delimiters.
	ErrEmptyRecord = errors.New("empty record")
	// ErrNotData is returned for records without the data prefix.
	ErrNotData = errors.New("record is not a data record")
	// ErrMalformed is returned when the payload is not valid JSON.
	ErrMalformed = errors.New("malformed record payload")
	// ErrMissingField is returned when content or metadata is absent.
	ErrMissingField = errors.New("record payload missing field")
)

// ParseRecord extracts the chunk carried by a single record.
func ParseRecord(record string) (core.Chunk, error) {
	if strings.TrimLeft(record, "\n") == "" {
		return core.Chunk{}, ErrEmptyRecord
	}
	payload, ok := strings.CutPrefix(record, DataPrefix)
	if !ok {
		return core.Chunk{}, ErrNotData
	}
	if !gjson.Valid(payload) {
		return core.Chunk{}, ErrMalformed
	}

	content := gjson.Get(payload, "content")
	if !content.Exists() {
		return core.Chunk{}, fmt.Errorf("%w: content", ErrMissingField)
	}
	if content.Type != gjson.String {
		return core.Chunk{}, fmt.Errorf("%w: content is %s, not a string", ErrMalformed, content.Type)
	}
	metadata := gjson.Get(payload, "metadata")
	if !metadata.Exists() {
		return core.Chunk{}, fmt.Errorf("%w: metadata", ErrMissingField)
	}

	return core.Chunk{
		Content:  content.String(),
		Metadata: core.Metadata(metadata.Raw),
	}, nil
}
