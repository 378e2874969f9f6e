package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrConfig matches every configuration error via errors.Is.
var ErrConfig = errors.New("invalid config")

// ConfigError describes one problem at a dotted path inside the document,
// e.g. "agents[1].camera".
type ConfigError struct {
	Path string
	Msg  string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "config: " + e.Msg
	}
	return "config: " + e.Path + ": " + e.Msg
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// problems collects every ConfigError found by one pass.
type problems struct {
	list []error
}

func (p *problems) addf(path, format string, args ...any) {
	p.list = append(p.list, &ConfigError{Path: path, Msg: fmt.Sprintf(format, args...)})
}

func (p *problems) empty() bool { return len(p.list) == 0 }

func (p *problems) err() error {
	if len(p.list) == 0 {
		return nil
	}
	if len(p.list) == 1 {
		return p.list[0]
	}
	return errors.Join(p.list...)
}

// Problems unpacks err into the individual ConfigErrors it carries.
func Problems(err error) []*ConfigError {
	if err == nil {
		return nil
	}
	var out []*ConfigError
	var walk func(error)
	walk = func(e error) {
		if ce, ok := e.(*ConfigError); ok {
			out = append(out, ce)
			return
		}
		if j, ok := e.(interface{ Unwrap() []error }); ok {
			for _, x := range j.Unwrap() {
				walk(x)
			}
			return
		}
		if next := errors.Unwrap(e); next != nil {
			walk(next)
		}
	}
	walk(err)
	return out
}

// pointerPath turns a JSON pointer ("/agents/0/id") into a dotted path ("agents[0].id").
func pointerPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range strings.Split(ptr, "/") {
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(seg); err == nil {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}
