package binder

import (
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/auditdesk/portal/handler"
)

// Query binds URL query parameters into fields tagged `query:"name"`.
// Supported kinds: string, bool, signed and unsigned ints, and slices of
// those. Missing parameters leave fields untouched.
func Query() handler.Bind {
	return func(r *http.Request, v any) error {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
			return fmt.Errorf("%w: target must be a pointer to struct", ErrInvalidQuery)
		}
		rv = rv.Elem()
		rt := rv.Type()
		values := r.URL.Query()

		for i := range rt.NumField() {
			f := rt.Field(i)
			name, _, _ := strings.Cut(f.Tag.Get("query"), ",")
			if name == "" || name == "-" || !f.IsExported() {
				continue
			}
			raw, ok := values[name]
			if !ok || len(raw) == 0 {
				continue
			}
			if err := setField(rv.Field(i), raw); err != nil {
				return badRequest(handler.ErrBadRequest, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, name, err))
			}
		}
		return nil
	}
}

func setField(field reflect.Value, raw []string) error {
	if field.Kind() == reflect.Slice {
		var parts []string
		for _, r := range raw {
			for p := range strings.SplitSeq(r, ",") {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
		}
		s := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			if err := setScalar(s.Index(i), p); err != nil {
				return err
			}
		}
		field.Set(s)
		return nil
	}
	return setScalar(field, raw[0])
}

func setScalar(field reflect.Value, s string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}
