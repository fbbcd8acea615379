package transport

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// Result is the outcome of a typed request: either OK with Data, or not OK
// with Err. Response is set whenever the server answered.
type Result[T any] struct {
	OK       bool
	Data     T
	Err      error
	Response *Response
}

// Unwrap returns Data and Err in the conventional Go form.
func (r Result[T]) Unwrap() (T, error) {
	if !r.OK {
		var zero T
		return zero, r.Err
	}
	return r.Data, nil
}

// Send issues req and decodes a JSON body into T. T may be []byte or string
// to receive the raw body. An empty body leaves Data at its zero value.
func Send[T any](ctx context.Context, c *Client, req Request) Result[T] {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return Result[T]{Err: err, Response: resp}
	}

	var data T
	switch target := any(&data).(type) {
	case *[]byte:
		*target = resp.Body
	case *string:
		*target = string(resp.Body)
	case *Empty:
	default:
		if len(resp.Body) > 0 {
			if err := json.Unmarshal(resp.Body, &data); err != nil {
				return Result[T]{
					Err:      fmt.Errorf("transport: decode %s response: %w", req.Path, err),
					Response: resp,
				}
			}
		}
	}

	return Result[T]{OK: true, Data: data, Response: resp}
}

// Empty is the data type for endpoints whose body is ignored.
type Empty struct{}
