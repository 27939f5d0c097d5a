package proposal

import (
	"bytes"
	"encoding/json"
	"fmt"

	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
)

// document is a decoded JSON object walked by the validators
type document map[string]interface{}

func decode(raw []byte, schema *wferrors.SchemaError) document {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		schema.Add("$", "invalid JSON: %v", err)
		return nil
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		schema.Add("$", "must be an object")
		return nil
	}
	return document(obj)
}

func path(parent string, i int, field string) string {
	if field == "" {
		return fmt.Sprintf("%s[%d]", parent, i)
	}
	return fmt.Sprintf("%s[%d].%s", parent, i, field)
}

func requireArray(doc document, key string, s *wferrors.SchemaError) ([]interface{}, bool) {
	v, ok := doc[key]
	if !ok {
		s.Add(key, "required")
		return nil, false
	}
	arr, ok := v.([]interface{})
	if !ok {
		s.Add(key, "must be an array")
		return nil, false
	}
	return arr, true
}

func requireString(obj map[string]interface{}, key, at string, nonEmpty bool, s *wferrors.SchemaError) (string, bool) {
	v, ok := obj[key]
	if !ok {
		s.Add(at, "required")
		return "", false
	}
	str, ok := v.(string)
	if !ok {
		s.Add(at, "must be a string")
		return "", false
	}
	if nonEmpty && str == "" {
		s.Add(at, "must not be empty")
		return "", false
	}
	return str, true
}

func requireNumber(obj map[string]interface{}, key, at string, s *wferrors.SchemaError) (float64, bool) {
	v, ok := obj[key]
	if !ok {
		s.Add(at, "required")
		return 0, false
	}
	n, ok := v.(json.Number)
	if !ok {
		s.Add(at, "must be a number")
		return 0, false
	}
	f, err := n.Float64()
	if err != nil {
		s.Add(at, "must be a number")
		return 0, false
	}
	return f, true
}

func requireBool(obj map[string]interface{}, key, at string, s *wferrors.SchemaError) (bool, bool) {
	v, ok := obj[key]
	if !ok {
		s.Add(at, "required")
		return false, false
	}
	b, ok := v.(bool)
	if !ok {
		s.Add(at, "must be a boolean")
		return false, false
	}
	return b, true
}

func stringArray(v interface{}, at string, nonEmpty bool, s *wferrors.SchemaError) {
	arr, ok := v.([]interface{})
	if !ok {
		s.Add(at, "must be an array")
		return
	}
	if nonEmpty && len(arr) == 0 {
		s.Add(at, "must have at least 1 item")
	}
	for i, item := range arr {
		str, ok := item.(string)
		if !ok {
			s.Add(path(at, i, ""), "must be a string")
			continue
		}
		if nonEmpty && str == "" {
			s.Add(path(at, i, ""), "must not be empty")
		}
	}
}

// sweep checks start/step/stop on a range-like object
func sweep(obj map[string]interface{}, at string, s *wferrors.SchemaError) {
	start, okStart := requireNumber(obj, "start", at+".start", s)
	step, okStep := requireNumber(obj, "step", at+".step", s)
	stop, okStop := requireNumber(obj, "stop", at+".stop", s)
	if okStep && step <= 0 {
		s.Add(at+".step", "must be positive, got: %g", step)
	}
	if okStart && okStop && start > stop {
		s.Add(at+".start", "must not exceed stop (%g > %g)", start, stop)
	}
}

// finish converts collected field errors into a SCHEMA workflow error
func finish(s *wferrors.SchemaError, op string) error {
	if !s.HasErrors() {
		return nil
	}
	return s.AsWorkflowError("proposal", op)
}
