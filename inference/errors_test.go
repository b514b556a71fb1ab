package inference

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatus_AllVariantsFailedWrappingStreamingModelTimeoutIs408(t *testing.T) {
	modelErr := NewModelTimeoutError("m1", 5*time.Second, true)
	dispatchErr := NewAllVariantsFailedError("fn", map[string]error{"v1": modelErr}, modelErr)

	require.Equal(t, 408, HTTPStatus(dispatchErr))
}

func TestHTTPStatus_AllVariantsFailedWrappingNonStreamingModelTimeoutIs500(t *testing.T) {
	modelErr := NewModelTimeoutError("m1", 5*time.Second, false)
	dispatchErr := NewAllVariantsFailedError("fn", map[string]error{"v1": modelErr}, modelErr)

	require.Equal(t, 500, HTTPStatus(dispatchErr))
}

func TestHTTPStatus_AllVariantsFailedWithOrdinaryCauseIs500(t *testing.T) {
	cause := errors.New("boom")
	dispatchErr := NewAllVariantsFailedError("fn", map[string]error{"v1": cause}, cause)

	require.Equal(t, 500, HTTPStatus(dispatchErr))
}

func TestHTTPStatus_ValidationKindsMapToStatusCodes(t *testing.T) {
	require.Equal(t, 404, HTTPStatus(NewDispatchError("fn", ErrorKindUnknownFunction, errors.New("x"))))
	require.Equal(t, 404, HTTPStatus(NewDispatchError("fn", ErrorKindUnknownVariant, errors.New("x"))))
	require.Equal(t, 400, HTTPStatus(NewDispatchError("fn", ErrorKindInvalidInput, errors.New("x"))))
	require.Equal(t, 400, HTTPStatus(NewDispatchError("fn", ErrorKindInvalidRequest, errors.New("x"))))
}
