package realtime

import (
	"fmt"
	"strings"
)

// Join builds a store path from segments: Join("messages", key, id) -> "/messages/<key>/<id>".
func Join(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(s)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Clean normalizes and validates a path. The root is "/".
func Clean(path string) (string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/", nil
	}
	parts := strings.Split(trimmed, "/")
	for _, p := range parts {
		if err := ValidSegment(p); err != nil {
			return "", fmt.Errorf("path %q: %w", path, err)
		}
	}
	return "/" + strings.Join(parts, "/"), nil
}

// ValidSegment reports whether s can be used as one path segment.
func ValidSegment(s string) error {
	if s == "" {
		return ErrInvalidPath
	}
	if strings.ContainsAny(s, "/.#$[]") {
		return ErrInvalidPath
	}
	return nil
}

// within reports whether child is path itself or lies under it.
func within(path, child string) bool {
	if path == "/" || path == child {
		return true
	}
	return strings.HasPrefix(child, path+"/")
}

// related reports whether a change at changed is visible to a listener on path.
func related(path, changed string) bool {
	return within(path, changed) || within(changed, path)
}

// relative returns child relative to path as segments. child must be within path.
func relative(path, child string) []string {
	var rest string
	if path == "/" {
		rest = child
	} else {
		rest = strings.TrimPrefix(child, path)
	}
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func lastSegment(path string) string {
	if path == "/" {
		return ""
	}
	i := strings.LastIndexByte(path, '/')
	return path[i+1:]
}
