package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// jsonStore is a flat key to translation object. Keys starting with $ are
// metadata and kept as they are.
type jsonStore struct {
	path  string
	meta  map[string]json.RawMessage
	units []*jsonUnit
}

func parseJSON(name string, data []byte) (*jsonStore, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: invalid json: %w", name, err)
	}

	s := &jsonStore{path: name, meta: map[string]json.RawMessage{}}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if len(k) > 0 && k[0] == '$' {
			s.meta[k] = m[k]
			continue
		}
		var v string
		if err := json.Unmarshal(m[k], &v); err != nil {
			// nested or non-string values are not translatable
			s.meta[k] = m[k]
			continue
		}
		s.units = append(s.units, &jsonUnit{key: k, value: v})
	}
	return s, nil
}

func (s *jsonStore) Units() []Unit {
	units := make([]Unit, len(s.units))
	for i, u := range s.units {
		units[i] = u
	}
	return units
}

func (s *jsonStore) FindByID(id string) (Unit, error) {
	for _, u := range s.units {
		if u.key == id {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: id %q", ErrUnitNotFound, id)
}

func (s *jsonStore) FindBySource(source string) (Unit, error) {
	return s.FindByID(source)
}

func (s *jsonStore) FindBySourceContext(source, context string) (Unit, error) {
	if context != "" {
		return nil, fmt.Errorf("%w: source %q context %q", ErrUnitNotFound, source, context)
	}
	return s.FindByID(source)
}

func (s *jsonStore) Features() Feature {
	return 0
}

func (s *jsonStore) Header() Header {
	return nil
}

func (s *jsonStore) Path() string {
	return s.path
}

func (s *jsonStore) Bytes() ([]byte, error) {
	out := make(map[string]any, len(s.meta)+len(s.units))
	for k, v := range s.meta {
		out[k] = v
	}
	for _, u := range s.units {
		out[u.key] = u.value
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", s.path, err)
	}
	return append(data, '\n'), nil
}

func (s *jsonStore) Save() error {
	data, err := s.Bytes()
	if err != nil {
		return err
	}
	return writeFile(s.path, data)
}

type jsonUnit struct {
	key   string
	value string
}

func (u *jsonUnit) ID() string { return u.key }
func (u *jsonUnit) Source() string { return u.key }
func (u *jsonUnit) Target() string { return u.value }
func (u *jsonUnit) Context() string { return "" }
func (u *jsonUnit) Notes() string { return "" }
func (u *jsonUnit) Locations() string { return "" }
func (u *jsonUnit) Flags() string { return "" }
func (u *jsonUnit) IsFuzzy() bool { return false }
func (u *jsonUnit) MarkFuzzy(bool) {}
func (u *jsonUnit) IsTranslated() bool { return u.value != "" }
func (u *jsonUnit) IsTranslatable() bool { return true }
func (u *jsonUnit) IsHeader() bool { return false }
func (u *jsonUnit) IsPlural() bool { return false }
func (u *jsonUnit) SetTarget(value string) { u.value = value }

func (u *jsonUnit) Merge(other Unit, overwrite bool) {
	mergeUnit(u, other, overwrite)
}
