package agui

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// frame is one Server-Sent-Events frame: an optional event name and the
// concatenated data lines.
type frame struct {
	event string
	data  []byte
}

// frameReader incrementally parses SSE frames off a transport stream.
type frameReader struct {
	scanner *bufio.Scanner
}

const maxFrameSize = 4 << 20

func newFrameReader(r io.Reader) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &frameReader{scanner: scanner}
}

// Next returns the next complete frame, io.EOF when the stream ends cleanly,
// or the transport error that broke it.
func (fr *frameReader) Next() (frame, error) {
	var f frame
	var data [][]byte
	dispatch := false

	for fr.scanner.Scan() {
		line := fr.scanner.Bytes()
		switch {
		case len(bytes.TrimSpace(line)) == 0:
			if f.event != "" || len(data) > 0 {
				dispatch = true
			}
		case line[0] == ':':
			// comment line, keep-alive
		default:
			field, value := splitField(line)
			switch field {
			case "event":
				f.event = value
			case "data":
				data = append(data, []byte(value))
			default:
				// id and retry are legal SSE fields we have no use for
			}
		}
		if dispatch {
			f.data = bytes.Join(data, []byte("\n"))
			return f, nil
		}
	}
	if err := fr.scanner.Err(); err != nil {
		return frame{}, err
	}
	if f.event != "" || len(data) > 0 {
		// stream ended without the trailing blank line
		f.data = bytes.Join(data, []byte("\n"))
		return f, nil
	}
	return frame{}, io.EOF
}

func splitField(line []byte) (string, string) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), ""
	}
	field := string(line[:idx])
	value := string(line[idx+1:])
	return field, strings.TrimPrefix(value, " ")
}
