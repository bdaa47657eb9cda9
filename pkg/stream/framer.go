package stream

import "strings"

// Delimiter separates records on the wire.
const Delimiter = "\n\n"

// Framer splits incrementally arriving text into records. Text that
// follows the last delimiter is carried over to the next Feed, so a
// record or a delimiter cut across chunk boundaries is reassembled.
type Framer struct {
	carry strings.Builder
}

// Feed appends text and returns every record completed by it, in order.
func (f *Framer) Feed(text string) []string {
	if text == "" {
		return nil
	}
	f.carry.WriteString(text)
	buf := f.carry.String()

	var records []string
	for {
		i := strings.Index(buf, Delimiter)
		if i < 0 {
			break
		}
		records = append(records, buf[:i])
		buf = buf[i+len(Delimiter):]
	}

	if records != nil {
		f.carry.Reset()
		f.carry.WriteString(buf)
	}
	return records
}

// Flush returns the pending partial record and resets the framer.
func (f *Framer) Flush() string {
	rest := f.carry.String()
	f.carry.Reset()
	return rest
}

// Pending reports how many bytes are waiting for a delimiter.
func (f *Framer) Pending() int {
	return f.carry.Len()
}
