package persistence

import (
	"encoding/json"
	"reflect"

	"github.com/pkg/errors"
)

func jsonUnmarshal(data []byte, val interface{}) error {
	return json.Unmarshal(data, val)
}

// assign round-trips through json so memory and redis stores behave the
// same for struct values.
func assign(src, dst interface{}) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr {
		return errors.New("can not assign to a non-pointer value")
	}

	data, err := json.Marshal(src)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dst)
}
