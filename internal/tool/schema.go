package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Property types.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Schema declares a tool's parameters as a JSON-schema object. Arguments
// outside Properties are rejected.
type Schema struct {
	Type                 string               `json:"type"`
	Properties           map[string]*Property `json:"properties"`
	Required             []string             `json:"required"`
	AdditionalProperties bool                 `json:"additionalProperties"`
}

// Property declares one parameter.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
	Default     any       `json:"default,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty"`
	Maximum     *float64  `json:"maximum,omitempty"`
}

// Object builds a schema from named properties. Required lists the names
// that must be present.
func Object(props map[string]*Property, required ...string) Schema {
	if props == nil {
		props = map[string]*Property{}
	}
	if required == nil {
		required = []string{}
	}
	return Schema{Type: TypeObject, Properties: props, Required: required}
}

func StringProperty(description string) *Property {
	return &Property{Type: TypeString, Description: description}
}

func NumberProperty(description string) *Property {
	return &Property{Type: TypeNumber, Description: description}
}

func IntegerProperty(description string) *Property {
	return &Property{Type: TypeInteger, Description: description}
}

func BooleanProperty(description string) *Property {
	return &Property{Type: TypeBoolean, Description: description}
}

func ArrayProperty(description string, items *Property) *Property {
	return &Property{Type: TypeArray, Description: description, Items: items}
}

func EnumProperty(description string, values ...string) *Property {
	return &Property{Type: TypeString, Description: description, Enum: values}
}

// WithDefault sets the value used when the caller omits the property.
func (p *Property) WithDefault(v any) *Property {
	p.Default = v
	return p
}

// Between bounds a numeric property (inclusive).
func (p *Property) Between(lo, hi float64) *Property {
	p.Minimum, p.Maximum = &lo, &hi
	return p
}

// AtLeast sets an inclusive lower bound.
func (p *Property) AtLeast(lo float64) *Property {
	p.Minimum = &lo
	return p
}

// schemaURL names the in-memory resource each Schema compiles from.
const schemaURL = "https://iara.local/schemas/input.json"

var messages = message.NewPrinter(language.English)

// Validator checks call arguments against a compiled Schema.
type Validator struct {
	schema   Schema
	compiled *jsonschema.Schema
}

// Compile prepares s for validation. It fails when s is not a valid JSON
// schema, which registration treats as a programming error.
func (s Schema) Compile() (*Validator, error) {
	if s.Properties == nil {
		s.Properties = map[string]*Property{}
	}
	if s.Required == nil {
		s.Required = []string{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: s, compiled: compiled}, nil
}

// Check validates args and returns a copy with defaults applied and numbers
// normalized: int64 for integer properties, float64 for number properties.
// When several arguments are wrong, the first field in name order is
// reported.
func (v *Validator) Check(args map[string]any) (Arguments, *Error) {
	instance := make(map[string]any, len(args))
	for k, value := range args {
		instance[k] = normalize(value)
	}
	if err := v.compiled.Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, firstProblem(verr)
		}
		return nil, &Error{Kind: KindInvalidArguments, Message: err.Error()}
	}

	out := make(Arguments, len(instance)+len(v.schema.Properties))
	for k, value := range instance {
		out[k] = v.schema.Properties[k].number(value)
	}
	for name, prop := range v.schema.Properties {
		if _, ok := out[name]; !ok && prop.Default != nil {
			out[name] = prop.Default
		}
	}
	return out, nil
}

// normalize rewrites Go-native argument shapes into the JSON data model the
// validator accepts.
func normalize(value any) any {
	switch v := value.(type) {
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalize(item)
		}
		return out
	default:
		return value
	}
}

func (p *Property) number(value any) any {
	if p == nil {
		return value
	}
	f, ok := toFloat(value)
	if !ok {
		return value
	}
	switch p.Type {
	case TypeInteger:
		return int64(f)
	case TypeNumber:
		return f
	default:
		return value
	}
}

type problem struct {
	field   string
	message string
}

// firstProblem flattens the validation tree and names the earliest field.
func firstProblem(verr *jsonschema.ValidationError) *Error {
	var problems []problem
	collectProblems(verr, &problems)
	if len(problems) == 0 {
		return &Error{Kind: KindInvalidArguments, Message: verr.Error()}
	}
	sort.SliceStable(problems, func(i, j int) bool { return problems[i].field < problems[j].field })
	p := problems[0]
	return InvalidArgument(p.field, "%s", p.message)
}

func collectProblems(e *jsonschema.ValidationError, out *[]problem) {
	if len(e.Causes) > 0 {
		for _, cause := range e.Causes {
			collectProblems(cause, out)
		}
		return
	}
	at := fieldName(e.InstanceLocation)
	switch k := e.ErrorKind.(type) {
	case *kind.Required:
		for _, name := range k.Missing {
			*out = append(*out, problem{joinField(at, name), fmt.Sprintf("missing required argument %q", name)})
		}
	case *kind.AdditionalProperties:
		for _, name := range k.Properties {
			*out = append(*out, problem{joinField(at, name), fmt.Sprintf("unknown argument %q", name)})
		}
	default:
		*out = append(*out, problem{at, fmt.Sprintf("argument %q: %s", at, e.ErrorKind.LocalizedString(messages))})
	}
}

// fieldName renders an instance location the way callers spell arguments,
// e.g. operations[1].
func fieldName(location []string) string {
	var b strings.Builder
	for i, tok := range location {
		if _, err := strconv.Atoi(tok); err == nil && i > 0 {
			b.WriteString("[" + tok + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func joinField(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
