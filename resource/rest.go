package resource

import (
	"context"
	"encoding"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strconv"

	"github.com/connor-davis/threereco-admin/transport"
)

// RESTSource talks to /api/{name} through the transport client.
type RESTSource[T any] struct {
	client *transport.Client
	name   string
}

var _ Source[any] = (*RESTSource[any])(nil)

// NewRESTSource creates a Source for the resource mounted at /api/{name}.
func NewRESTSource[T any](client *transport.Client, name string) *RESTSource[T] {
	return &RESTSource[T]{client: client, name: name}
}

func (s *RESTSource[T]) collectionPath() string {
	return "/api/" + s.name
}

func (s *RESTSource[T]) itemPath(id string) string {
	return s.collectionPath() + "/" + url.PathEscape(id)
}

// List issues GET /api/{name} with params encoded as the query string.
func (s *RESTSource[T]) List(ctx context.Context, params Params) ([]T, error) {
	return transport.Send[[]T](ctx, s.client, transport.Request{
		Method: http.MethodGet,
		Path:   s.collectionPath(),
		Query:  EncodeParams(params),
	}).Unwrap()
}

// GetByID issues GET /api/{name}/{id}.
func (s *RESTSource[T]) GetByID(ctx context.Context, id string) (T, error) {
	return transport.Send[T](ctx, s.client, transport.Request{
		Method: http.MethodGet,
		Path:   s.itemPath(id),
	}).Unwrap()
}

type pagingResponse struct {
	TotalPages int `json:"totalPages"`
}

// PageCount issues GET /api/{name}/paging?pageSize=N.
func (s *RESTSource[T]) PageCount(ctx context.Context, pageSize int) (int, error) {
	paging, err := transport.Send[pagingResponse](ctx, s.client, transport.Request{
		Method: http.MethodGet,
		Path:   s.collectionPath() + "/paging",
		Query:  url.Values{"pageSize": {strconv.Itoa(pageSize)}},
	}).Unwrap()
	if err != nil {
		return 0, err
	}
	if paging.TotalPages < 0 {
		return 0, fmt.Errorf("resource: %s paging returned negative total pages %d", s.name, paging.TotalPages)
	}
	return paging.TotalPages, nil
}

// Create issues POST /api/{name}. An empty response body yields the request body.
func (s *RESTSource[T]) Create(ctx context.Context, body T) (T, error) {
	return s.write(ctx, http.MethodPost, s.collectionPath(), body)
}

// Update issues PUT /api/{name}/{id}. An empty response body yields the request body.
func (s *RESTSource[T]) Update(ctx context.Context, id string, body T) (T, error) {
	return s.write(ctx, http.MethodPut, s.itemPath(id), body)
}

// Remove issues DELETE /api/{name}/{id}.
func (s *RESTSource[T]) Remove(ctx context.Context, id string) error {
	_, err := transport.Send[transport.Empty](ctx, s.client, transport.Request{
		Method: http.MethodDelete,
		Path:   s.itemPath(id),
	}).Unwrap()
	return err
}

func (s *RESTSource[T]) write(ctx context.Context, method, path string, body T) (T, error) {
	res := transport.Send[T](ctx, s.client, transport.Request{
		Method: method,
		Path:   path,
		Body:   body,
	})
	if !res.OK {
		var zero T
		return zero, res.Err
	}
	if len(res.Response.Body) == 0 {
		return body, nil
	}
	return res.Data, nil
}

// EncodeParams renders list params as a query string. Nil values are
// dropped, slices become repeated keys and TextMarshaler values use their text form.
func EncodeParams(params Params) url.Values {
	if len(params) == 0 {
		return nil
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	values := url.Values{}
	for _, name := range names {
		v := params[name]
		if v == nil {
			continue
		}
		rv := reflect.ValueOf(v)
		if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
			for i := 0; i < rv.Len(); i++ {
				values.Add(name, formatParam(rv.Index(i).Interface()))
			}
			continue
		}
		values.Set(name, formatParam(v))
	}
	return values
}

func formatParam(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case encoding.TextMarshaler:
		if text, err := t.MarshalText(); err == nil {
			return string(text)
		}
	}
	return fmt.Sprint(v)
}
