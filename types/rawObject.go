package types

import (
	"encoding/json"
	"strconv"
	"strings"
)

// RawObject walks a decoded json document with dotted keys.
type RawObject struct {
	data map[string]any
}

func LoadAsRawObject(jsonBytes []byte) (*RawObject, error) {
	var data map[string]any
	err := json.Unmarshal(jsonBytes, &data)
	return &RawObject{data}, err
}

func NewRawObject(data map[string]any) *RawObject {
	if data == nil {
		data = map[string]any{}
	}
	return &RawObject{data}
}

func (r *RawObject) GetData() map[string]any {
	return r.data
}

func (r *RawObject) get(key string) (any, bool) {
	keys := strings.Split(key, ".")
	var value any = r.data
	for _, k := range keys {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

// Has reports whether key is present, even with a null value.
func (r *RawObject) Has(key string) bool {
	_, ok := r.get(key)
	return ok
}

func (r *RawObject) Set(key string, value any) {
	r.data[key] = value
}

func (r *RawObject) GetRaw(key string) (*RawObject, bool) {
	value, ok := r.get(key)
	if !ok {
		return nil, false
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	return &RawObject{m}, true
}

func (r *RawObject) GetRawSlice(key string) ([]*RawObject, bool) {
	value, ok := r.get(key)
	if !ok {
		return nil, false
	}
	arr, ok := value.([]any)
	if !ok {
		return nil, false
	}
	result := make([]*RawObject, 0, len(arr))
	for _, v := range arr {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		result = append(result, &RawObject{m})
	}
	return result, true
}

func (r *RawObject) GetString(key string) (string, bool) {
	value, ok := r.get(key)
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

func (r *RawObject) MustGetString(key string) string {
	str, ok := r.GetString(key)
	if !ok {
		return ""
	}
	return str
}

func (r *RawObject) GetStringSlice(key string) ([]string, bool) {
	value, ok := r.get(key)
	if !ok {
		return nil, false
	}
	arr, ok := value.([]any)
	if !ok {
		return nil, false
	}
	result := make([]string, 0, len(arr))
	for _, v := range arr {
		str, ok := v.(string)
		if !ok {
			return nil, false
		}
		result = append(result, str)
	}
	return result, true
}

func (r *RawObject) GetBool(key string) (bool, bool) {
	value, ok := r.get(key)
	if !ok {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// StringValue renders a scalar the way it appears in signature data.
func (r *RawObject) StringValue(key string) string {
	value, ok := r.get(key)
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
