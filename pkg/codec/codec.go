// Package codec serializes the stats snapshot and other loosely typed maps
// for the control tool: JSON for people, CBOR and protobuf for programs.
package codec

import (
	"fmt"
	"sort"
	"strings"
)

// Codec marshals values for one content type.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types and short format names to codecs.
type Registry struct {
	byType  map[string]Codec
	aliases map[string]string
}

// NewRegistry returns a registry with JSON, CBOR and protobuf registered
// under "json", "cbor" and "proto".
func NewRegistry() (*Registry, error) {
	r := &Registry{byType: make(map[string]Codec), aliases: make(map[string]string)}
	r.Register("json", JSON())
	r.Register("proto", Proto())
	c, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register("cbor", c)
	return r, nil
}

// Register adds c under its content type and the given short name.
func (r *Registry) Register(name string, c Codec) {
	r.byType[c.ContentType()] = c
	if name != "" {
		r.aliases[strings.ToLower(name)] = c.ContentType()
	}
}

// Get returns a codec by content type or short name, or nil.
func (r *Registry) Get(format string) Codec {
	if c, ok := r.byType[format]; ok {
		return c
	}
	return r.byType[r.aliases[strings.ToLower(format)]]
}

// Names lists the short names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.aliases))
	for n := range r.aliases {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// EncodeMap marshals m with the named codec.
func (r *Registry) EncodeMap(format string, m map[string]any) ([]byte, error) {
	c := r.Get(format)
	if c == nil {
		return nil, fmt.Errorf("codec: unknown format %q (have %s)", format, strings.Join(r.Names(), ", "))
	}
	b, err := c.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return b, nil
}
