package registry

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Entry is one line of the signal map.
type Entry struct {
	Path  string
	ID    int
	Width int
	Chunk int
}

// Index maps hierarchical paths to ids.
type Index struct {
	entries []Entry
	byPath  map[string]int
	span    int
}

// LoadFile opens and parses the signal map at path.
func LoadFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open signal map")
	}
	defer f.Close()
	idx, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "signal map %s", path)
	}
	return idx, nil
}

// Load parses a signal map.
func Load(r io.Reader) (*Index, error) {
	idx := &Index{byPath: make(map[string]int)}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		e, err := parseEntry(text)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if _, dup := idx.byPath[e.Path]; dup {
			return nil, errors.Errorf("line %d: duplicate path %q", line, e.Path)
		}
		e.ID = idx.span
		idx.byPath[e.Path] = len(idx.entries)
		idx.entries = append(idx.entries, e)
		idx.span += e.Chunk
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read signal map")
	}
	return idx, nil
}

func parseEntry(text string) (Entry, error) {
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return Entry{}, errors.Errorf("expected <path> <width> <words>, got %q", text)
	}
	width, err := strconv.Atoi(fields[1])
	if err != nil || width < 1 {
		return Entry{}, errors.Errorf("bad bit width %q for %s", fields[1], fields[0])
	}
	chunk, err := strconv.Atoi(fields[2])
	if err != nil || chunk < 1 {
		return Entry{}, errors.Errorf("bad word count %q for %s", fields[2], fields[0])
	}
	return Entry{Path: fields[0], Width: width, Chunk: chunk}, nil
}

// Lookup returns the entry for an exact path match.
func (x *Index) Lookup(path string) (Entry, bool) {
	i, ok := x.byPath[path]
	if !ok {
		return Entry{}, false
	}
	return x.entries[i], true
}

// Entries returns the entries in file order.
func (x *Index) Entries() []Entry {
	out := make([]Entry, len(x.entries))
	copy(out, x.entries)
	return out
}

// Len is the number of signals in the map.
func (x *Index) Len() int { return len(x.entries) }

// Span is the first id not claimed by the map.
func (x *Index) Span() int { return x.span }
