// Package meta holds the small, bounded annotations callers may attach to a
// transfer or deposit (a reference, a memo). They are stored with the ledger entry
// and replayed verbatim.
package meta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Metadata is a string map with size limits and a deterministic JSON encoding.
type Metadata map[string]string

const (
	MaxPairs     = 16
	MaxKeyLen    = 64
	MaxValLen    = 256
	MaxTotalJSON = 4096
)

// New copies m; a nil map yields an empty Metadata.
func New(m map[string]string) Metadata {
	out := make(Metadata, len(m))
	maps.Copy(out, m)
	return out
}

func (m Metadata) Clone() Metadata { return New(m) }

// Validate enforces the pair, key, value and encoded size limits.
func (m Metadata) Validate() error {
	if len(m) > MaxPairs {
		return fmt.Errorf("metadata: %d pairs exceeds limit of %d", len(m), MaxPairs)
	}
	for k, v := range m {
		if k == "" || len(k) > MaxKeyLen {
			return fmt.Errorf("metadata: key %q empty or longer than %d", k, MaxKeyLen)
		}
		if len(v) > MaxValLen {
			return fmt.Errorf("metadata: value for %q longer than %d", k, MaxValLen)
		}
	}
	b, err := m.MarshalJSON()
	if err != nil {
		return err
	}
	if len(b) > MaxTotalJSON {
		return fmt.Errorf("metadata: encoded size %d exceeds %d", len(b), MaxTotalJSON)
	}
	return nil
}

// MarshalJSON writes keys in sorted order so equal maps always encode identically.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range slices.Sorted(maps.Keys(m)) {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = Metadata{}
		return nil
	}
	var tmp map[string]string
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*m = New(tmp)
	return nil
}
