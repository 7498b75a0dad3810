package script

import (
	"reflect"
	"testing"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/manifests/pkg/manifest"
)

func TestConvert_RoundTrip(t *testing.T) {
	input := map[string]interface{}{
		"name":    "nginx",
		"port":    int64(8080),
		"ratio":   0.5,
		"enabled": true,
		"none":    nil,
		"aliases": []interface{}{"www", "web"},
		"nested":  map[string]interface{}{"workers": int64(4)},
	}

	v, err := toStarlarkValue(input)
	if err != nil {
		t.Fatalf("toStarlarkValue failed: %v", err)
	}
	if _, ok := v.(*starlark.Dict); !ok {
		t.Fatalf("Expected *starlark.Dict, got %T", v)
	}

	out, err := fromStarlarkValue(v)
	if err != nil {
		t.Fatalf("fromStarlarkValue failed: %v", err)
	}
	if !reflect.DeepEqual(out, input) {
		t.Errorf("Expected %v, got %v", input, out)
	}
}

func TestConvert_Configuration(t *testing.T) {
	cfg := manifest.NewConfiguration(map[string]interface{}{
		"nginx": map[string]interface{}{"port": 80},
	})

	v, err := toStarlarkValue(cfg)
	if err != nil {
		t.Fatalf("toStarlarkValue failed: %v", err)
	}
	dict := v.(*starlark.Dict)
	nginx, found, _ := dict.Get(starlark.String("nginx"))
	if !found {
		t.Fatal("Expected nginx key")
	}
	port, _, _ := nginx.(*starlark.Dict).Get(starlark.String("port"))
	if port.String() != "80" {
		t.Errorf("Expected port 80, got %s", port)
	}
}

func TestConvert_Special(t *testing.T) {
	tuple, err := fromStarlarkValue(starlark.Tuple{starlark.String("a"), starlark.MakeInt(1)})
	if err != nil || !reflect.DeepEqual(tuple, []interface{}{"a", int64(1)}) {
		t.Errorf("Expected tuple as list, got %v (%v)", tuple, err)
	}

	st := starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{"port": starlark.MakeInt(443)})
	fromStruct, err := fromStarlarkValue(st)
	if err != nil || !reflect.DeepEqual(fromStruct, map[string]interface{}{"port": int64(443)}) {
		t.Errorf("Expected struct as map, got %v (%v)", fromStruct, err)
	}

	list, err := toStarlarkValue([]string{"a", "b"})
	if err != nil || list.String() != `["a", "b"]` {
		t.Errorf("Expected string list, got %v (%v)", list, err)
	}
}

func TestConvert_Errors(t *testing.T) {
	if _, err := toStarlarkValue(struct{}{}); err == nil {
		t.Error("Expected error for unsupported Go type")
	}

	dict := starlark.NewDict(1)
	_ = dict.SetKey(starlark.MakeInt(1), starlark.String("x"))
	if _, err := fromStarlarkValue(dict); err == nil {
		t.Error("Expected error for non-string dict key")
	}

	huge := starlark.MakeInt64(1 << 62)
	huge = huge.Mul(starlark.MakeInt(16))
	if _, err := fromStarlarkValue(huge); err == nil {
		t.Error("Expected error for an integer too large")
	}
}

func TestKwargsToParams(t *testing.T) {
	params, err := kwargsToParams([]starlark.Tuple{
		{starlark.String("ensure"), starlark.String("installed")},
		{starlark.String("mode"), starlark.MakeInt(420)},
	})
	if err != nil {
		t.Fatalf("kwargsToParams failed: %v", err)
	}
	expected := manifest.Params{"ensure": "installed", "mode": int64(420)}
	if !reflect.DeepEqual(params, expected) {
		t.Errorf("Expected %v, got %v", expected, params)
	}
}
