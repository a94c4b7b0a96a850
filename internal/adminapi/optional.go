package adminapi

import "encoding/json"

// optField tracks whether a JSON field was present in the request body at
// all, so PATCH payloads can distinguish "leave unchanged" (absent) from an
// explicit null (clear the value). encoding/json only invokes UnmarshalJSON
// for fields that appear in the document.
type optField[T any] struct {
	value T
	set   bool
}

func (o *optField[T]) UnmarshalJSON(data []byte) error {
	o.set = true
	return json.Unmarshal(data, &o.value)
}

func (o optField[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.value)
}
