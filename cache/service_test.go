package cache

import (
	"context"
	"errors"
	"testing"
)

// mockCacheService for testing GetOrFetch function
type mockCacheService struct {
	result any
	err    error
	calls  int
}

func (m *mockCacheService) Get(ctx context.Context, key string) (any, bool) {
	return m.result, m.result != nil
}

func (m *mockCacheService) GetOrFetch(ctx context.Context, key string, fetchFn FetchFn[any]) (any, error) {
	m.calls++
	if m.result != nil || m.err != nil {
		return m.result, m.err
	}
	return fetchFn(ctx)
}

func (m *mockCacheService) Delete(ctx context.Context, key string) error {
	return nil
}

func (m *mockCacheService) DeleteByPrefix(ctx context.Context, prefix string) error {
	return nil
}

func (m *mockCacheService) InvalidateKeys(ctx context.Context, keys []string) error {
	return nil
}

func TestGetOrFetch_NilInterfaceNoPanic(t *testing.T) {
	mock := &mockCacheService{}

	type SomeInterface interface {
		DoSomething() string
	}

	result, err := GetOrFetch[SomeInterface](context.Background(), mock, "test-key", func(ctx context.Context) (SomeInterface, error) {
		return nil, nil
	})

	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetch_TypedValue(t *testing.T) {
	mock := &mockCacheService{}

	result, err := GetOrFetch(context.Background(), mock, "test-key", func(ctx context.Context) ([]string, error) {
		return []string{"a", "b"}, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 2 || result[0] != "a" {
		t.Errorf("unexpected result: %v", result)
	}
}

func TestGetOrFetch_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	mock := &mockCacheService{err: want}

	_, err := GetOrFetch(context.Background(), mock, "test-key", func(ctx context.Context) (int, error) {
		return 1, nil
	})

	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

func TestGetOrFetch_WrongType(t *testing.T) {
	mock := &mockCacheService{result: "not an int"}

	_, err := GetOrFetch(context.Background(), mock, "test-key", func(ctx context.Context) (int, error) {
		return 1, nil
	})

	if !errors.Is(err, ErrInvalidType) {
		t.Errorf("expected ErrInvalidType, got %v", err)
	}
}

func TestAs(t *testing.T) {
	if v, err := As[int](nil); err != nil || v != 0 {
		t.Errorf("As(nil) = %v, %v", v, err)
	}
	if v, err := As[int](7); err != nil || v != 7 {
		t.Errorf("As(7) = %v, %v", v, err)
	}
	if _, err := As[int]("7"); !errors.Is(err, ErrInvalidType) {
		t.Errorf("As(\"7\") error = %v", err)
	}
}
