package ppid

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Param is one keyword parameter of a pipeline stage. Default carries
// the parameter's type as well as its value; supported types are bool,
// int, float64 and string.
type Param struct {
	Name    string
	Default interface{}
}

// Stage describes one pipeline stage for identifier purposes: its code
// and its ordered parameter groups. Most stages have one group; a
// stage with separate configuration sections (such as a segmenter with
// mask postprocessing parameters) has one group per section, joined by
// ':' in the encoded form.
type Stage struct {
	Code   string
	Groups [][]Param
}

// NewStage creates a single-group stage.
func NewStage(code string, params []Param) Stage {
	return Stage{Code: code, Groups: [][]Param{params}}
}

// UniquePrefixes computes, for every key in the set, the shortest
// prefix that is not a prefix of any other key in the set. A key that
// is itself a prefix of another key abbreviates to its full form.
// The result is stable under reordering of the input.
func UniquePrefixes(keys []string) []string {
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = key
		for plen := 1; plen <= len(key); plen++ {
			prefix := key[:plen]
			unique := true
			for j, other := range keys {
				if j == i {
					continue
				}
				if strings.HasPrefix(other, prefix) {
					unique = false
					break
				}
			}
			if unique {
				out[i] = prefix
				break
			}
		}
	}
	return out
}

// Encode renders the stage identifier with the given overrides applied
// on top of the declared defaults. Override keys must be full
// parameter names; unknown keys or mistyped values are configuration
// errors.
func (s Stage) Encode(overrides map[string]interface{}) (string, error) {
	known := make(map[string]bool)
	for _, group := range s.Groups {
		for _, p := range group {
			known[p.Name] = true
		}
	}
	for key := range overrides {
		if !known[key] {
			return "", fmt.Errorf("ppid: stage %q has no parameter %q", s.Code, key)
		}
	}

	parts := []string{s.Code}
	for _, group := range s.Groups {
		names := make([]string, len(group))
		for i, p := range group {
			names[i] = p.Name
		}
		abbrevs := UniquePrefixes(names)

		segs := make([]string, len(group))
		for i, p := range group {
			value := p.Default
			if ov, ok := overrides[p.Name]; ok {
				value = ov
			}
			rendered, err := formatValue(p.Default, value)
			if err != nil {
				return "", fmt.Errorf("ppid: stage %q parameter %q: %w", s.Code, p.Name, err)
			}
			segs[i] = abbrevs[i] + "=" + rendered
		}
		parts = append(parts, strings.Join(segs, "^"))
	}
	return strings.Join(parts, ":"), nil
}

// Decode parses a stage identifier back into the full defaults-filled
// parameter map. Segments may appear in any order; omitted parameters
// fall back to their declared defaults. A mismatched leading code or a
// malformed key=value segment is a configuration error.
func (s Stage) Decode(id string) (map[string]interface{}, error) {
	parts := strings.Split(id, ":")
	if parts[0] != s.Code {
		return nil, fmt.Errorf("ppid: could not find stage %q (expected code %q)",
			parts[0], s.Code)
	}
	if len(parts)-1 > len(s.Groups) {
		return nil, fmt.Errorf("ppid: identifier %q has %d parameter groups, stage %q has %d",
			id, len(parts)-1, s.Code, len(s.Groups))
	}

	kwargs := make(map[string]interface{})
	for _, group := range s.Groups {
		for _, p := range group {
			kwargs[p.Name] = p.Default
		}
	}

	for gi, part := range parts[1:] {
		group := s.Groups[gi]
		names := make([]string, len(group))
		for i, p := range group {
			names[i] = p.Name
		}
		abbrevs := UniquePrefixes(names)

		if part == "" {
			continue
		}
		for _, seg := range strings.Split(part, "^") {
			key, raw, ok := strings.Cut(seg, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("ppid: malformed segment %q in %q", seg, id)
			}
			pi, err := matchParam(key, names, abbrevs)
			if err != nil {
				return nil, fmt.Errorf("ppid: stage %q: %w", s.Code, err)
			}
			value, err := parseValue(group[pi].Default, raw)
			if err != nil {
				return nil, fmt.Errorf("ppid: stage %q parameter %q: %w",
					s.Code, group[pi].Name, err)
			}
			kwargs[group[pi].Name] = value
		}
	}
	return kwargs, nil
}

// matchParam resolves an abbreviated key: an exact abbreviation match
// wins; otherwise the first declared parameter whose name has the key
// as prefix is taken.
func matchParam(key string, names, abbrevs []string) (int, error) {
	for i, ab := range abbrevs {
		if key == ab {
			return i, nil
		}
	}
	for i, name := range names {
		if strings.HasPrefix(name, key) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown parameter key %q", key)
}

func formatValue(def, value interface{}) (string, error) {
	switch def.(type) {
	case bool:
		v, ok := value.(bool)
		if !ok {
			return "", fmt.Errorf("expected bool, got %T", value)
		}
		if v {
			return "1", nil
		}
		return "0", nil
	case int:
		v, ok := value.(int)
		if !ok {
			return "", fmt.Errorf("expected int, got %T", value)
		}
		return strconv.Itoa(v), nil
	case float64:
		v, ok := value.(float64)
		if !ok {
			return "", fmt.Errorf("expected float64, got %T", value)
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case string:
		v, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("expected string, got %T", value)
		}
		return v, nil
	default:
		return "", fmt.Errorf("unsupported parameter type %T", def)
	}
}

func parseValue(def interface{}, raw string) (interface{}, error) {
	switch def.(type) {
	case bool:
		switch raw {
		case "1", "true", "True":
			return true, nil
		case "0", "false", "False":
			return false, nil
		}
		return nil, fmt.Errorf("invalid bool value %q", raw)
	case int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid int value %q", raw)
		}
		return v, nil
	case float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float value %q", raw)
		}
		return v, nil
	case string:
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %T", def)
	}
}

// Generation is the identifier of the current pipeline algorithm
// generation. It is bumped whenever a change in any stage alters
// computed results, invalidating previously cached artifacts.
const Generation = "7"

// Hash fingerprints a full pipeline configuration: the six stage
// identifiers are concatenated with '|' and content-hashed to a short
// hex string. The result is stable across runs and platforms.
func Hash(genID, datID, bgID, segID, featID, gateID string) string {
	joined := strings.Join([]string{genID, datID, bgID, segID, featID, gateID}, "|")
	sum := md5.Sum([]byte(joined))
	return hex.EncodeToString(sum[:])
}
