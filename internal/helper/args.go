package helper

import "fmt"

// Args is the argument mapping of one action request. Values are plain
// strings, byte sequences, or string lists; the transport layer unpacks
// variants into these shapes before the executor sees them.
type Args map[string]any

// String returns a required string argument. Missing or wrongly typed
// values reject the request before any side effect.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("%s argument is missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s argument is not a string", key)
	}
	return s, nil
}

// OptionalString returns a string argument or "" when absent. A present
// value of the wrong type is still an error.
func (a Args) OptionalString(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s argument is not a string", key)
	}
	return s, nil
}

// StringList returns an optional string-list argument; absent means nil.
// Both []string and []any-of-strings are accepted, since generic
// decoders produce the latter.
func (a Args) StringList(key string) ([]string, error) {
	v, ok := a[key]
	if !ok {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s argument contains a non-string element", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s argument is not a string list", key)
	}
}
