package api

import (
	"bytes"
	"io"
	"mime"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// JSONSerializer encodes and decodes echo payloads with sonic.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (JSONSerializer) Deserialize(c echo.Context, i interface{}) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, requestBodyMaxSize))
	if err := dec.Decode(i); err != nil {
		return &BadRequestError{Message: msgInvalidBody, Err: err}
	}
	return nil
}

// readBody returns the request body as a generic object. JSON and
// url-encoded forms are parsed; an empty body or any other content type
// reads as an empty object.
func readBody(c echo.Context) (map[string]any, error) {
	req := c.Request()
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get(echo.HeaderContentType))
	switch mediaType {
	case echo.MIMEApplicationForm:
		form, err := c.FormParams()
		if err != nil {
			return nil, &BadRequestError{Message: msgInvalidBody, Err: err}
		}
		body := make(map[string]any, len(form))
		for key, values := range form {
			if len(values) > 0 {
				body[key] = values[0]
			}
		}
		return body, nil
	case echo.MIMEApplicationJSON:
	default:
		return map[string]any{}, nil
	}

	if req.Body == nil {
		return map[string]any{}, nil
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, requestBodyMaxSize))
	if err != nil {
		return nil, &BadRequestError{Message: msgInvalidBody, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var body map[string]any
	if err := sonic.ConfigStd.Unmarshal(data, &body); err != nil {
		return nil, &BadRequestError{Message: msgInvalidBody, Err: err}
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

// optionalString reads a field that is stored as a nullable string.
// Scalars are stored in their string form; absent and null become nil.
func optionalString(body map[string]any, key string) *string {
	switch v := body[key].(type) {
	case string:
		return &v
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		return &s
	case bool:
		s := strconv.FormatBool(v)
		return &s
	default:
		return nil
	}
}

// truthy follows JavaScript truthiness for decoded JSON values.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
