package archive

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/couchcryptid/gsod-etl/internal/domain"
)

// maxLineBytes caps how much of one physical line is kept. Longer lines are still delivered,
// cut at the cap, so the decoder reports them as malformed and reading continues.
const maxLineBytes = 4096

// LineReader streams the data lines of local .op and .op.gz files.
type LineReader struct{}

// Extract calls fn for every non-blank, non-header line of src.
func (LineReader) Extract(ctx context.Context, src domain.SourceFile, fn func(lineNo int, line string) error) error {
	rc, err := Open(src.Path)
	if err != nil {
		return err
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	buf := make([]byte, 0, 256)
	lineNo := 0
	for {
		buf = buf[:0]
		chunk, more, err := br.ReadLine()
		for err == nil {
			if room := maxLineBytes - len(buf); room > 0 {
				buf = append(buf, chunk[:min(len(chunk), room)]...)
			}
			if !more {
				break
			}
			chunk, more, err = br.ReadLine()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", src.Path)
		}

		lineNo++
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := string(buf)
		if strings.TrimSpace(line) == "" || domain.IsHeader(line) {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
}
