package codec

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/fatih/structs"
	"github.com/gowebpki/jcs"

	"github.com/deferrable-run/deferrable/pkg/item"
)

// Codec encodes item arguments deterministically and decodes them back
// into invocable calls against a Registry.
type Codec struct {
	registry *Registry
}

// New returns a Codec backed by registry.
func New(registry *Registry) *Codec {
	return &Codec{registry: registry}
}

// normalize flattens struct values into plain maps via fatih/structs, so
// that the canonical encoding below sees only JSON-native shapes and is
// not sensitive to struct field ordering.
func normalize(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct && structs.IsStruct(rv.Interface()) {
		return structs.Map(rv.Interface())
	}
	return v
}

// encode produces the RFC 8785 JSON Canonicalization Scheme form of v, so
// that two logically-equal values always encode to the same string
// regardless of map iteration order.
func encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("codec: marshal: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("codec: canonicalize: %w", err)
	}
	return string(canon), nil
}

// EncodeArgs canonically encodes positional arguments, normalizing any
// struct values first.
func (c *Codec) EncodeArgs(args []any) (string, error) {
	normalized := make([]any, len(args))
	for i, a := range args {
		normalized[i] = normalize(a)
	}
	return encode(normalized)
}

// EncodeKwargs canonically encodes named arguments. The result has its
// keys sorted, so the fingerprint derived from it is stable regardless
// of the order kwargs were built in; the ordering comes from the
// marshaling and JCS steps, since the normalized values are collected
// into a plain map.
func (c *Codec) EncodeKwargs(kwargs map[string]any) (string, error) {
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(kwargs))
	for _, k := range keys {
		ordered[k] = normalize(kwargs[k])
	}
	return encode(ordered)
}

// DecodeArgs reverses EncodeArgs.
func DecodeArgs(encoded string) ([]any, error) {
	var out []any
	if encoded == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		return nil, fmt.Errorf("codec: unmarshal args: %w", err)
	}
	return out, nil
}

// DecodeKwargs reverses EncodeKwargs.
func DecodeKwargs(encoded string) (map[string]any, error) {
	out := map[string]any{}
	if encoded == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(encoded), &out); err != nil {
		return nil, fmt.Errorf("codec: unmarshal kwargs: %w", err)
	}
	return out, nil
}

// BuildItem constructs the base envelope for a later() call: it resolves
// the registered name, encodes args/kwargs canonically, and leaves
// scheduling fields (delay, attempts, ttl, metadata) for the caller to
// fill in.
func (c *Codec) BuildItem(method string, object string, args []any, kwargs map[string]any) (item.Item, error) {
	if _, ok := c.registry.Resolve(method); !ok {
		if object == "" {
			return item.Item{}, fmt.Errorf("codec: %q is not a registered callable", method)
		}
	}
	encodedArgs, err := c.EncodeArgs(args)
	if err != nil {
		return item.Item{}, err
	}
	encodedKwargs, err := c.EncodeKwargs(kwargs)
	if err != nil {
		return item.Item{}, err
	}
	return item.Item{
		Method: method,
		Object: object,
		Args:   encodedArgs,
		Kwargs: encodedKwargs,
	}, nil
}

// DecodeCall resolves it back into an invocable Callable plus its
// decoded arguments. When it.Object is set, the call is dispatched as a
// method against the registered receiver (getattr(obj, method) in the
// original); otherwise it.Method is resolved directly as a free
// function.
func (c *Codec) DecodeCall(it item.Item) (Callable, []any, map[string]any, error) {
	args, err := DecodeArgs(it.Args)
	if err != nil {
		return nil, nil, nil, err
	}
	kwargs, err := DecodeKwargs(it.Kwargs)
	if err != nil {
		return nil, nil, nil, err
	}

	if it.Object != "" {
		fn, ok := c.registry.ResolveMethod(it.Object, it.Method)
		if !ok {
			return nil, nil, nil, fmt.Errorf("codec: cannot resolve method %q on object %q", it.Method, it.Object)
		}
		return fn, args, kwargs, nil
	}

	fn, ok := c.registry.Resolve(it.Method)
	if !ok {
		return nil, nil, nil, fmt.Errorf("codec: callable %q is not registered", it.Method)
	}
	return fn, args, kwargs, nil
}

// Invoke decodes it and runs the resulting call against ctx. It is a
// thin convenience wrapper around DecodeCall for callers that don't need
// the decoded args/kwargs themselves.
func (c *Codec) Invoke(ctx context.Context, it item.Item) error {
	fn, args, kwargs, err := c.DecodeCall(it)
	if err != nil {
		return err
	}
	return fn(ctx, args, kwargs)
}

// PrettyDescribe renders a short human-readable summary of it, suitable
// for logging: the callable's registered location plus its decoded
// arguments.
func (c *Codec) PrettyDescribe(it item.Item) string {
	args, err := DecodeArgs(it.Args)
	if err != nil {
		args = nil
	}
	kwargs, err := DecodeKwargs(it.Kwargs)
	if err != nil {
		kwargs = nil
	}
	target := it.Method
	if it.Object != "" {
		target = fmt.Sprintf("%s.%s", it.Object, it.Method)
	} else {
		target = c.registry.Describe(it.Method)
	}
	return fmt.Sprintf("%s(args=%v, kwargs=%v)", target, args, kwargs)
}
