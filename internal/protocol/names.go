package protocol

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

const (
	SuffixIn  = ".in"
	SuffixOut = ".out"
	SuffixCmd = ".cmd"

	bannerPrefix = "sim start on "
)

// ChannelNames holds the three channel file names of one simulator.
type ChannelNames struct {
	In  string
	Out string
	Cmd string
}

// NamesFor derives channel names from a simulator process id, zero padded
// to eight decimal digits.
func NamesFor(pid int) ChannelNames {
	base := fmt.Sprintf("%08d", pid)
	return ChannelNames{
		In:  base + SuffixIn,
		Out: base + SuffixOut,
		Cmd: base + SuffixCmd,
	}
}

// Join prefixes every name with dir.
func (n ChannelNames) Join(dir string) ChannelNames {
	if dir == "" {
		return n
	}
	return ChannelNames{
		In:  filepath.Join(dir, n.In),
		Out: filepath.Join(dir, n.Out),
		Cmd: filepath.Join(dir, n.Cmd),
	}
}

// WriteBanner announces a ready simulator. The time is rendered like C
// ctime(3).
func WriteBanner(w io.Writer, host string, now time.Time, names ChannelNames) error {
	if host == "" {
		host = "<unknown>"
	}
	_, err := fmt.Fprintf(w, "%s%s at %s\n%s\n%s\n%s\n",
		bannerPrefix, host, now.Format(time.ANSIC), names.In, names.Out, names.Cmd)
	return err
}

// Banner is the parsed form of WriteBanner's output.
type Banner struct {
	Host    string
	Started string
	Names   ChannelNames
}

// ReadBanner scans r until it finds a banner and returns it. Lines before the
// banner are skipped, so simulator log output may precede it.
func ReadBanner(r io.Reader) (Banner, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, bannerPrefix) {
			continue
		}
		host, started, ok := strings.Cut(strings.TrimPrefix(line, bannerPrefix), " at ")
		if !ok {
			return Banner{}, fmt.Errorf("%w: %q", ErrBannerMalformed, line)
		}
		var names [3]string
		for i := range names {
			if !sc.Scan() {
				return Banner{}, ErrBannerTruncated
			}
			names[i] = strings.TrimSpace(sc.Text())
		}
		b := Banner{
			Host:    host,
			Started: started,
			Names:   ChannelNames{In: names[0], Out: names[1], Cmd: names[2]},
		}
		if !strings.HasSuffix(b.Names.In, SuffixIn) ||
			!strings.HasSuffix(b.Names.Out, SuffixOut) ||
			!strings.HasSuffix(b.Names.Cmd, SuffixCmd) {
			return Banner{}, fmt.Errorf("%w: unexpected channel names %+v", ErrBannerMalformed, b.Names)
		}
		return b, nil
	}
	if err := sc.Err(); err != nil {
		return Banner{}, err
	}
	return Banner{}, ErrBannerTruncated
}
