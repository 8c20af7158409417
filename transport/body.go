package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"github.com/gaborage/webqueue/scheduler"
)

// MIME types behind the scheduler's shorthands.
const (
	MIMEJSON = "application/json"
	MIMEForm = "application/x-www-form-urlencoded"
)

// MapContentType expands the "json" and "form" shorthands.
func MapContentType(contentType string) string {
	switch contentType {
	case scheduler.TypeJSON:
		return MIMEJSON
	case scheduler.TypeForm:
		return MIMEForm
	default:
		return contentType
	}
}

func isJSON(mime string) bool {
	return strings.Contains(strings.ToLower(mime), "json")
}

func isForm(mime string) bool {
	return strings.Contains(strings.ToLower(mime), "x-www-form-urlencoded")
}

// EncodeBody renders body for the given MIME type. A nil body yields a nil reader.
func EncodeBody(body any, mime string) (io.Reader, []byte, error) {
	if body == nil {
		return nil, nil, nil
	}

	var raw []byte
	switch v := body.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		var err error
		switch {
		case isForm(mime):
			raw, err = encodeForm(body)
		case isJSON(mime):
			raw, err = json.Marshal(body)
		default:
			err = fmt.Errorf("unsupported body type %T", body)
		}
		if err != nil {
			return nil, nil, &EncodingError{ContentType: mime, Err: err}
		}
	}
	return bytes.NewReader(raw), raw, nil
}

// encodeForm renders keys in sorted order. Empty values produce a bare key.
func encodeForm(body any) ([]byte, error) {
	pairs := map[string][]string{}
	switch v := body.(type) {
	case url.Values:
		pairs = v
	case map[string]string:
		for k, val := range v {
			pairs[k] = []string{val}
		}
	case map[string]any:
		for k, val := range v {
			if val == nil {
				pairs[k] = []string{""}
				continue
			}
			pairs[k] = []string{fmt.Sprint(val)}
		}
	default:
		return nil, fmt.Errorf("form body must be a map or url.Values, got %T", body)
	}

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var buf strings.Builder
	for _, k := range keys {
		for _, val := range pairs[k] {
			if buf.Len() > 0 {
				buf.WriteByte('&')
			}
			buf.WriteString(url.QueryEscape(k))
			if val != "" {
				buf.WriteByte('=')
				buf.WriteString(url.QueryEscape(val))
			}
		}
	}
	return []byte(buf.String()), nil
}
