package protocol_test

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"ragbridge/pkg/protocol"
)

// TestReadLine verifies that an oversized line is flagged and skipped and
// reading resumes on the next line.
func TestReadLine(t *testing.T) {
	input := strings.Repeat("x", 100) + "\n" + "short\n" + "tail"
	br := bufio.NewReaderSize(strings.NewReader(input), 16)

	line, tooLong, err := protocol.ReadLine(br, 32)
	if err != nil || !tooLong {
		t.Fatalf("expected an oversized line, got tooLong=%v err=%v", tooLong, err)
	}
	if len(line) > 32 {
		t.Fatalf("expected at most 32 bytes kept, got %d", len(line))
	}

	line, tooLong, err = protocol.ReadLine(br, 32)
	if err != nil || tooLong || string(line) != "short\n" {
		t.Fatalf("expected \"short\\n\", got %q tooLong=%v err=%v", line, tooLong, err)
	}

	line, _, err = protocol.ReadLine(br, 32)
	if !errors.Is(err, io.EOF) || string(line) != "tail" {
		t.Fatalf("expected final \"tail\" with EOF, got %q (%v)", line, err)
	}
}
