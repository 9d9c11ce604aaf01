package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/layer-3/sessionkit/core"
)

// maxErrorBody bounds how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// Envelope is the wrapped response shape {"data": ..., "error": {...}} used
// by endpoints that report failures in-band.
type Envelope[T any] struct {
	Data  T          `json:"data"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the in-band error member of an Envelope.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// DoJSON sends req through c and decodes a 2xx JSON body into T. Every
// failure is a *core.APIError.
func DoJSON[T any](c *http.Client, req *http.Request) (T, error) {
	resp, err := c.Do(req)
	if err != nil {
		var zero T
		return zero, TransportError(err)
	}
	return Decode[T](resp)
}

// DoEnvelope is DoJSON for endpoints answering with an Envelope.
func DoEnvelope[T any](c *http.Client, req *http.Request) (T, error) {
	resp, err := c.Do(req)
	if err != nil {
		var zero T
		return zero, TransportError(err)
	}
	return DecodeEnvelope[T](resp)
}

// Decode reads and closes resp. A non-2xx status becomes a *core.APIError;
// an empty 2xx body yields the zero T.
func Decode[T any](resp *http.Response) (T, error) {
	defer resp.Body.Close()

	var out T
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, ResponseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, &core.APIError{Kind: core.KindNetwork, Status: resp.StatusCode, Cause: err}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, &core.APIError{
			Kind:    core.KindServer,
			Status:  resp.StatusCode,
			Message: "malformed response body",
			Cause:   err,
		}
	}
	return out, nil
}

// DecodeEnvelope decodes an Envelope and turns its error member into a
// *core.APIError.
func DecodeEnvelope[T any](resp *http.Response) (T, error) {
	status := resp.StatusCode
	env, err := Decode[Envelope[T]](resp)
	if err != nil {
		var zero T
		return zero, err
	}
	if env.Error != nil {
		kind := core.KindForStatus(status)
		if kind == core.KindNone {
			kind = core.KindServer
		}
		return env.Data, &core.APIError{Kind: kind, Status: status, Message: env.Error.Message}
	}
	return env.Data, nil
}

// ResponseError classifies a non-2xx response. The body is read for an
// error message but not closed.
func ResponseError(resp *http.Response) *core.APIError {
	apiErr := &core.APIError{
		Kind:   core.KindForStatus(resp.StatusCode),
		Status: resp.StatusCode,
	}
	if apiErr.Kind == core.KindNone {
		apiErr.Kind = core.KindServer
	}
	if resp.Body != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr.Message = errorMessage(body)
	}
	return apiErr
}

// TransportError classifies an error returned by http.Client.Do.
func TransportError(err error) *core.APIError {
	if errors.Is(err, core.ErrRenewalFailed) || errors.Is(err, core.ErrNoSession) {
		return &core.APIError{Kind: core.KindRenewalFailed, Cause: err}
	}
	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &core.APIError{Kind: core.KindNetwork, Message: core.ErrNetwork.Error(), Cause: err}
}

// errorResponse is the body of a failed response: the error member of an
// Envelope without data.
type errorResponse struct {
	Error *ErrorBody `json:"error"`
}

func errorMessage(body []byte) string {
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == nil {
		return ""
	}
	return payload.Error.Message
}

// drain discards the rest of a response we are not handing back.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

func describe(req *http.Request) string {
	return fmt.Sprintf("%s %s", req.Method, req.URL.Path)
}
