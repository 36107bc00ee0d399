package warnings

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

const DeprecationWarning = "DeprecationWarning"

// Notice is a warning emitted by a dependency or a companion tool. Text keeps
// the original line so forwarded notices are passed on unchanged.
type Notice struct {
	Name    string
	ID      string
	Message string
	Text    string
}

type EmitFunc func(notice Notice)

type Filter struct {
	substrings []string
	silenced   map[string]struct{}
}

func NewFilter(substrings, silence []string) *Filter {
	f := &Filter{
		substrings: make([]string, 0, len(substrings)),
		silenced:   make(map[string]struct{}, len(silence)),
	}
	for _, item := range substrings {
		if item != "" {
			f.substrings = append(f.substrings, item)
		}
	}
	for _, item := range silence {
		if item != "" {
			f.silenced[item] = struct{}{}
		}
	}
	return f
}

// Suppressed reports whether the notice is discarded. Deprecations and plain
// string notices are matched by message substring, anything else only by its
// deprecation id.
func (f *Filter) Suppressed(notice Notice) bool {
	if f == nil {
		return false
	}
	if notice.ID != "" {
		if _, ok := f.silenced[notice.ID]; ok {
			return true
		}
	}
	if notice.Name != "" && notice.Name != DeprecationWarning {
		return false
	}
	for _, item := range f.substrings {
		if strings.Contains(notice.Message, item) {
			return true
		}
	}
	return false
}

func (f *Filter) Wrap(emit EmitFunc) EmitFunc {
	return func(notice Notice) {
		if f.Suppressed(notice) {
			return
		}
		emit(notice)
	}
}

var (
	nodeExp  = regexp.MustCompile(`^\(node:\d+\) (?:\[([\w-]+)\] )?(\w+): (.*)$`)
	sassExp  = regexp.MustCompile(`^Deprecation Warning(?: \[([\w-]+)\])?: (.*)$`)
	traceExp = regexp.MustCompile("^\\(Use `node --trace-")
)

// ParseNotice recognises the node runtime and sass deprecation formats. Any
// other line becomes a plain notice carrying the line as its message.
func ParseNotice(line string) Notice {
	if match := nodeExp.FindStringSubmatch(line); match != nil {
		return Notice{ID: match[1], Name: match[2], Message: match[3], Text: line}
	}
	if match := sassExp.FindStringSubmatch(line); match != nil {
		return Notice{ID: match[1], Name: DeprecationWarning, Message: match[2], Text: line}
	}
	return Notice{Message: line, Text: line}
}

// ScanLines parses every line of r into a notice and hands it to emit. The
// "(Use `node --trace-...`)" trailer that follows a node warning is dropped
// together with a suppressed warning.
func ScanLines(r io.Reader, f *Filter, emit EmitFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	dropTrailer := false
	for scanner.Scan() {
		line := scanner.Text()
		if dropTrailer && traceExp.MatchString(line) {
			dropTrailer = false
			continue
		}
		notice := ParseNotice(line)
		dropTrailer = f.Suppressed(notice)
		if dropTrailer {
			continue
		}
		emit(notice)
	}
	return scanner.Err()
}
