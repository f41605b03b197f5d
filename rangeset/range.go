// Package rangeset parses the genomic ranges the re-aligner is restricted
// to, in the "name[:begin[-end]]" notation accepted by the -R flag and the
// -Z ranges file.
package rangeset

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/srma/errkind"
)

// Range is a single contiguous genomic interval, 1-based inclusive, as
// written in -R and in a -Z ranges file. End == 0 means "to the end of the
// contig".
type Range struct {
	Contig string
	Begin  int // 1-based, inclusive. 0 means "start of contig".
	End    int // 1-based, inclusive. 0 means "end of contig".
}

func stripDigitSeparators(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	return strings.TrimSpace(s)
}

// ParseRange parses a single "name[:begin[-end]]" range string.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, errkind.New(errkind.CommandLineArgument, "empty range")
	}
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return Range{Contig: s}, nil
	}
	contig := s[:colon]
	if contig == "" {
		return Range{}, errkind.New(errkind.CommandLineArgument, "missing contig name in range:", s)
	}
	rest := s[colon+1:]
	begin, end := rest, ""
	if dash := strings.IndexByte(rest, '-'); dash >= 0 {
		begin, end = rest[:dash], rest[dash+1:]
	}
	r := Range{Contig: contig}
	var err error
	if r.Begin, err = parseCoord(begin); err != nil {
		return Range{}, errkind.Wrap(errkind.CommandLineArgument, err, "range begin:", s)
	}
	if end != "" {
		if r.End, err = parseCoord(end); err != nil {
			return Range{}, errkind.Wrap(errkind.CommandLineArgument, err, "range end:", s)
		}
		if r.End < r.Begin {
			return Range{}, errkind.New(errkind.CommandLineArgument, "range end before begin:", s)
		}
	}
	return r, nil
}

func parseCoord(s string) (int, error) {
	s = stripDigitSeparators(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative coordinate: %q", s)
	}
	return n, nil
}

// ReadRangesFile reads one range per line from path, skipping blank lines.
func ReadRangesFile(path string) ([]Range, error) {
	ctx := vcontext.Background()
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errkind.Wrap(errkind.OpenFileError, err, "ranges file:", path)
	}
	defer f.Close(ctx)

	var ranges []Range
	scanner := bufio.NewScanner(f.Reader(ctx))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := ParseRange(line)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, errkind.Wrap(errkind.ReadFileError, err, "ranges file:", path)
	}
	return ranges, nil
}

// Expand widens r by offset on both ends, clamping Begin at 1. End == 0
// (meaning "to the end of contig") is left unexpanded.
func (r Range) Expand(offset int) Range {
	out := r
	out.Begin -= offset
	if out.Begin < 1 {
		out.Begin = 1
	}
	if out.End != 0 {
		out.End += offset
	}
	return out
}

func (r Range) String() string {
	if r.Begin == 0 && r.End == 0 {
		return r.Contig
	}
	if r.End == 0 {
		return fmt.Sprintf("%s:%d", r.Contig, r.Begin)
	}
	return fmt.Sprintf("%s:%d-%d", r.Contig, r.Begin, r.End)
}
