package compose

import (
	"bufio"
	"bytes"
	"regexp"
	"sort"
	"strings"
)

// interpolation matches $$, ${...} and $NAME.
var interpolation = regexp.MustCompile(`\$(\$|\{[^}]*\}|[A-Za-z_][A-Za-z0-9_]*)`)

// Reference is one variable interpolated by a compose file.
type Reference struct {
	Name     string
	Required bool
	Default  string

	alt     string
	hasAlt  bool
	colonOp bool
}

// parseReference interprets the body of a ${...} expression.
func parseReference(body string) (Reference, bool) {
	end := 0
	for end < len(body) && (body[end] == '_' || body[end] >= 'A' && body[end] <= 'Z' || body[end] >= 'a' && body[end] <= 'z' || end > 0 && body[end] >= '0' && body[end] <= '9') {
		end++
	}
	if end == 0 {
		return Reference{}, false
	}

	ref := Reference{Name: body[:end], Required: true}
	op := body[end:]
	switch {
	case op == "":
	case strings.HasPrefix(op, ":-"):
		ref.Required, ref.Default, ref.colonOp = false, op[2:], true
	case strings.HasPrefix(op, "-"):
		ref.Required, ref.Default = false, op[1:]
	case strings.HasPrefix(op, ":+"):
		ref.Required, ref.alt, ref.hasAlt, ref.colonOp = false, op[2:], true, true
	case strings.HasPrefix(op, "+"):
		ref.Required, ref.alt, ref.hasAlt = false, op[1:], true
	case strings.HasPrefix(op, ":?"), strings.HasPrefix(op, "?"):
	default:
		return Reference{}, false
	}
	return ref, true
}

// References returns every variable the file interpolates, skipping comment
// lines and $$ escapes. A variable referenced both with and without a default
// is required.
func (f *File) References() []Reference {
	byName := map[string]Reference{}

	scanner := bufio.NewScanner(bytes.NewReader(f.raw))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		for _, m := range interpolation.FindAllStringSubmatch(line, -1) {
			token := m[1]
			if token == "$" {
				continue
			}
			var (
				ref Reference
				ok  bool
			)
			if strings.HasPrefix(token, "{") {
				ref, ok = parseReference(strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}"))
			} else {
				ref, ok = Reference{Name: token, Required: true}, true
			}
			if !ok {
				continue
			}
			if prev, seen := byName[ref.Name]; seen {
				prev.Required = prev.Required || ref.Required
				if prev.Default == "" {
					prev.Default = ref.Default
				}
				ref = prev
			}
			byName[ref.Name] = ref
		}
	}

	refs := make([]Reference, 0, len(byName))
	for _, ref := range byName {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs
}

// RequiredVariables returns the names of variables interpolated without a default.
func (f *File) RequiredVariables() []string {
	var names []string
	for _, ref := range f.References() {
		if ref.Required {
			names = append(names, ref.Name)
		}
	}
	return names
}

// Interpolate substitutes ${VAR}, ${VAR:-default} and $VAR using lookup.
// $$ becomes a literal $.
func Interpolate(s string, lookup func(string) (string, bool)) string {
	return interpolation.ReplaceAllStringFunc(s, func(match string) string {
		token := match[1:]
		if token == "$" {
			return "$"
		}
		if !strings.HasPrefix(token, "{") {
			v, _ := lookup(token)
			return v
		}
		ref, ok := parseReference(strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}"))
		if !ok {
			return match
		}
		v, present := lookup(ref.Name)
		set := present && (v != "" || !ref.colonOp)
		if ref.hasAlt {
			if set {
				return ref.alt
			}
			return ""
		}
		if !set {
			return ref.Default
		}
		return v
	})
}
