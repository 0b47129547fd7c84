package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/xraph/payhook/errs"
)

// Catalog holds the registered event types and validates payloads against
// their schemas. It is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	defs     map[Type]Definition
	compiled map[Type]*jsonschema.Schema
	strict   bool
	logger   *slog.Logger
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithStrict rejects payloads whose eventType is not registered. Without it
// unknown types pass with base checks only.
func WithStrict(strict bool) CatalogOption {
	return func(c *Catalog) { c.strict = strict }
}

// WithCatalogLogger sets the logger.
func WithCatalogLogger(l *slog.Logger) CatalogOption {
	return func(c *Catalog) { c.logger = l }
}

// NewCatalog returns a catalog preloaded with Builtins.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		defs:     make(map[Type]Definition),
		compiled: make(map[Type]*jsonschema.Schema),
		strict:   true,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	for _, def := range Builtins() {
		if err := c.Register(def); err != nil {
			panic(fmt.Sprintf("event: builtin %s: %v", def.Type, err))
		}
	}
	return c
}

// Register adds or replaces a definition. The schema is compiled eagerly so
// that a bad schema fails here and not on the enqueue path.
func (c *Catalog) Register(def Definition) error {
	if def.Type == "" {
		return errs.Invalid("type", "required")
	}

	var compiled *jsonschema.Schema
	if len(def.Schema) > 0 {
		var err error
		compiled, err = compile(string(def.Type), def.Schema)
		if err != nil {
			return fmt.Errorf("event: compile schema for %s: %w", def.Type, err)
		}
	}

	c.mu.Lock()
	c.defs[def.Type] = def
	if compiled != nil {
		c.compiled[def.Type] = compiled
	} else {
		delete(c.compiled, def.Type)
	}
	c.mu.Unlock()

	c.logger.Debug("event type registered", "type", def.Type)
	return nil
}

// Lookup returns the definition for t.
func (c *Catalog) Lookup(t Type) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[t]
	return def, ok
}

// Types returns registered definitions sorted by type.
func (c *Catalog) Types() []Definition {
	c.mu.RLock()
	out := make([]Definition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, def)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Validate checks p against its event type's schema and the timestamp
// format. Failures are *errs.ValidationError.
func (c *Catalog) Validate(p *Payload) error {
	if p == nil {
		return errs.Invalid("payload", "required")
	}
	if p.EventType == "" {
		return errs.Invalid("eventType", "required")
	}
	if p.Timestamp != "" {
		if _, err := p.Instant(); err != nil {
			return err
		}
	}

	c.mu.RLock()
	_, known := c.defs[p.EventType]
	compiled := c.compiled[p.EventType]
	c.mu.RUnlock()

	if !known {
		if c.strict {
			return errs.Invalid("eventType", "unknown event type %q", p.EventType)
		}
		return nil
	}
	if compiled == nil {
		return nil
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return errs.Invalid("payload", "not serializable: %v", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return errs.Invalid("payload", "not serializable: %v", err)
	}

	if err := compiled.Validate(doc); err != nil {
		return schemaError(err)
	}
	return nil
}

func compile(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := "payhook://events/" + name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(url)
}

// schemaError converts the innermost jsonschema failure into a field error.
func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return errs.Invalid("payload", "%v", err)
	}

	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	field := "payload"
	if len(leaf.InstanceLocation) > 0 {
		field = joinPointer(leaf.InstanceLocation)
	}
	return &errs.ValidationError{Field: field, Message: leaf.Error()}
}

func joinPointer(parts []string) string {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p)
	}
	return b.String()
}
