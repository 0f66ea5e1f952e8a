package configtypes

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDurationMarshalJSON(t *testing.T) {
	t.Parallel()
	b, err := Duration(90 * time.Second).MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"1m30s"`, string(b))
}

func TestDurationMarshalText(t *testing.T) {
	t.Parallel()
	b, err := Duration(500 * time.Millisecond).MarshalText()
	require.NoError(t, err)
	require.Equal(t, "500ms", string(b))
}

func TestStringToDurationHookFunc(t *testing.T) {
	t.Parallel()
	hook := StringToDurationHookFunc().(func(reflect.Type, reflect.Type, interface{}) (interface{}, error))

	out, err := hook(reflect.TypeOf(""), reflect.TypeOf(Duration(0)), "30s")
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, out)

	// Non-string sources and non-Duration targets pass through untouched.
	out, err = hook(reflect.TypeOf(0), reflect.TypeOf(Duration(0)), 42)
	require.NoError(t, err)
	require.Equal(t, 42, out)

	out, err = hook(reflect.TypeOf(""), reflect.TypeOf(""), "30s")
	require.NoError(t, err)
	require.Equal(t, "30s", out)

	_, err = hook(reflect.TypeOf(""), reflect.TypeOf(Duration(0)), "not a duration")
	require.Error(t, err)
}

func TestHTTPServerAddr(t *testing.T) {
	t.Parallel()
	s := HTTPServer{Address: "127.0.0.1", Port: 8300}
	require.Equal(t, "127.0.0.1:8300", s.Addr())
}
