package protocol

import (
	"bufio"
	"errors"
)

// MaxLineBytes bounds one protocol line in either direction.
const MaxLineBytes = 32 << 20

// ReadLine reads one '\n'-terminated line from br and keeps at most limit
// bytes of it. tooLong reports that the line was longer; the rest of it is
// consumed and dropped so the next call starts on the following line. err
// is the reader's error, io.EOF included, after any final partial line.
func ReadLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		frag, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(frag) <= limit {
				line = append(line, frag...)
			} else {
				tooLong = true
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}
