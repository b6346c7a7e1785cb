package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Shape is the kind of answer a cell produces.
type Shape string

const (
	ShapeText     Shape = "text"
	ShapeBoolean  Shape = "boolean"
	ShapeNumber   Shape = "number"
	ShapeJSON     Shape = "json"
	ShapeRichText Shape = "rich_text"
	ShapeStatus   Shape = "status"
)

// Shapes lists every supported shape.
var Shapes = []Shape{ShapeText, ShapeBoolean, ShapeNumber, ShapeJSON, ShapeRichText, ShapeStatus}

// ErrShapeMismatch is returned when an answer cannot be read as the
// requested shape.
var ErrShapeMismatch = errors.New("answer does not match output shape")

// ParseShape converts a shape name, accepting a few common aliases.
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string", "":
		return ShapeText, nil
	case "boolean", "bool", "yes_no":
		return ShapeBoolean, nil
	case "number", "numeric", "float", "integer":
		return ShapeNumber, nil
	case "json", "object":
		return ShapeJSON, nil
	case "rich_text", "richtext", "markdown":
		return ShapeRichText, nil
	case "status", "label", "enum":
		return ShapeStatus, nil
	}
	return "", fmt.Errorf("unknown output shape %q", s)
}

// OutputShape is a Shape plus its parameters. Only status shapes carry
// labels.
type OutputShape struct {
	Kind   Shape    `json:"kind" yaml:"kind"`
	Labels []string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

func (o OutputShape) Validate() error {
	switch o.Kind {
	case ShapeText, ShapeBoolean, ShapeNumber, ShapeJSON, ShapeRichText, "":
		if len(o.Labels) > 0 {
			return fmt.Errorf("labels are only valid for the status shape")
		}
		return nil
	case ShapeStatus:
		if len(o.Labels) == 0 {
			return fmt.Errorf("status shape needs at least one label")
		}
		return nil
	}
	return fmt.Errorf("unknown output shape %q", o.Kind)
}

func (o OutputShape) clone() OutputShape {
	return OutputShape{Kind: o.Kind, Labels: append([]string(nil), o.Labels...)}
}

// Value is the typed payload of a completed cell. The set of implementations
// is closed: one per Shape.
type Value interface {
	Shape() Shape
	// String is the concise form shown in a grid cell.
	String() string
	// Raw returns a JSON-encodable form that Decode reads back.
	Raw() any
	sealed()
}

type TextValue struct{ Text string }

type BoolValue struct{ Bool bool }

type NumberValue struct{ Number float64 }

type JSONValue struct{ Data any }

type RichTextValue struct{ Markdown string }

type StatusValue struct{ Label string }

func (TextValue) Shape() Shape     { return ShapeText }
func (BoolValue) Shape() Shape     { return ShapeBoolean }
func (NumberValue) Shape() Shape   { return ShapeNumber }
func (JSONValue) Shape() Shape     { return ShapeJSON }
func (RichTextValue) Shape() Shape { return ShapeRichText }
func (StatusValue) Shape() Shape   { return ShapeStatus }

func (v TextValue) String() string { return v.Text }

func (v BoolValue) String() string {
	if v.Bool {
		return "Yes"
	}
	return "No"
}

func (v NumberValue) String() string { return strconv.FormatFloat(v.Number, 'f', -1, 64) }

func (v JSONValue) String() string {
	b, err := json.Marshal(v.Data)
	if err != nil {
		return fmt.Sprint(v.Data)
	}
	return string(b)
}

func (v RichTextValue) String() string { return v.Markdown }
func (v StatusValue) String() string   { return v.Label }

func (v TextValue) Raw() any     { return v.Text }
func (v BoolValue) Raw() any     { return v.Bool }
func (v NumberValue) Raw() any   { return v.Number }
func (v JSONValue) Raw() any     { return v.Data }
func (v RichTextValue) Raw() any { return v.Markdown }
func (v StatusValue) Raw() any   { return v.Label }

func (TextValue) sealed()     {}
func (BoolValue) sealed()     {}
func (NumberValue) sealed()   {}
func (JSONValue) sealed()     {}
func (RichTextValue) sealed() {}
func (StatusValue) sealed()   {}

// Decode reads a sanitized answer as the given shape.
func Decode(shape OutputShape, answer any) (Value, error) {
	if answer == nil {
		return nil, fmt.Errorf("%w: answer is empty", ErrShapeMismatch)
	}

	switch shape.Kind {
	case ShapeText, "":
		return TextValue{Text: scalarString(answer)}, nil

	case ShapeRichText:
		return RichTextValue{Markdown: scalarString(answer)}, nil

	case ShapeBoolean:
		switch a := answer.(type) {
		case bool:
			return BoolValue{Bool: a}, nil
		case string:
			b, ok := parseBool(a)
			if !ok {
				return nil, fmt.Errorf("%w: %q is not yes/no", ErrShapeMismatch, a)
			}
			return BoolValue{Bool: b}, nil
		}
		return nil, fmt.Errorf("%w: expected boolean, got %T", ErrShapeMismatch, answer)

	case ShapeNumber:
		switch a := answer.(type) {
		case float64:
			return NumberValue{Number: a}, nil
		case int:
			return NumberValue{Number: float64(a)}, nil
		case json.Number:
			f, err := a.Float64()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
			}
			return NumberValue{Number: f}, nil
		case string:
			f, err := parseNumber(a)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a number", ErrShapeMismatch, a)
			}
			return NumberValue{Number: f}, nil
		}
		return nil, fmt.Errorf("%w: expected number, got %T", ErrShapeMismatch, answer)

	case ShapeJSON:
		return JSONValue{Data: answer}, nil

	case ShapeStatus:
		s, ok := answer.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected a status label, got %T", ErrShapeMismatch, answer)
		}
		label, ok := matchLabel(shape.Labels, s)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not one of %v", ErrShapeMismatch, s, shape.Labels)
		}
		return StatusValue{Label: label}, nil
	}

	return nil, fmt.Errorf("unknown output shape %q", shape.Kind)
}

// ParseLiteral reads user-typed text as the given shape.
func ParseLiteral(shape OutputShape, s string) (Value, error) {
	if shape.Kind == ShapeJSON {
		var data any
		if err := json.Unmarshal([]byte(s), &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
		return Decode(shape, data)
	}
	return Decode(shape, s)
}

func scalarString(v any) string {
	switch a := v.(type) {
	case string:
		return a
	case float64:
		return strconv.FormatFloat(a, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(a)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "pass":
		return true, true
	case "no", "n", "false", "fail":
		return false, true
	}
	return false, false
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func matchLabel(labels []string, s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(labels) == 0 {
		return s, s != ""
	}
	for _, l := range labels {
		if strings.EqualFold(l, s) {
			return l, true
		}
	}
	return "", false
}
