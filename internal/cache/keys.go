package cache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flightimport/ucsbridge/internal/ucserr"
)

// BuildKey constructs a cache key from an operation name and its
// arguments, the Go equivalent of the original's cache_key_builder:
// any positional argument or keyword whose name/value starts with '_' is
// excluded (these are internal control flags like "_retry" or "_scrape",
// not part of the operation's identity). If the first remaining
// positional argument is the bypass sentinel user id, bypass is true and
// key is meaningless — callers must skip the cache entirely rather than
// use it. It is a programmer error to call BuildKey with nothing left to
// key on after exclusion: every cacheable operation identifies itself by
// at least one real argument.
func BuildKey(opName string, args []any, kwargs map[string]string) (key string, bypass bool, err error) {
	filteredArgs := make([]any, 0, len(args))
	for _, a := range args {
		if s, ok := a.(string); ok && strings.HasPrefix(s, "_") {
			continue
		}
		filteredArgs = append(filteredArgs, a)
	}

	filteredKwargs := make(map[string]string, len(kwargs))
	for k, v := range kwargs {
		if strings.HasPrefix(k, "_") {
			continue
		}
		filteredKwargs[k] = v
	}

	if len(filteredArgs) == 0 && len(filteredKwargs) == 0 {
		return "", false, &ucserr.ProgrammerError{Msg: "cache key for " + opName + " has no contributing args or kwargs"}
	}

	if len(filteredArgs) > 0 {
		if n, ok := asInt(filteredArgs[0]); ok && n == BypassUserID {
			return "", true, nil
		}
	}

	var b strings.Builder
	b.WriteString(opName)
	b.WriteByte(':')
	b.WriteByte('(')
	for i, a := range filteredArgs {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%v", a)
	}
	b.WriteByte(')')

	if len(filteredKwargs) > 0 {
		keys := make([]string, 0, len(filteredKwargs))
		for k := range filteredKwargs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte(':')
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%s=%s", k, filteredKwargs[k])
		}
		b.WriteByte('}')
	}

	return b.String(), false, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
