package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/matnpu/pkg/dtype"
	"github.com/samcharles93/matnpu/pkg/layout"
	"github.com/samcharles93/matnpu/pkg/matmul"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, code string) error {
	return writeJSON(c, status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
		},
	})
}

func writeJSON(c *echo.Context, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		if _, ok := v.(map[string]any); ok {
			return err
		}
		return writeError(c, http.StatusInternalServerError, "server_error", "encode response: "+err.Error(), "encode_failed")
	}
	return c.JSONBlob(status, b)
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// toRequest turns the wire form into a dispatch request. Operands stay []float64 and
// are converted to the selected element kinds when the buffers are populated.
func toRequest(req MatmulRequest) (matmul.Request, error) {
	out := matmul.Request{
		Dims: matmul.Dims{M: req.M, K: req.K, N: req.N},
		A:    req.A,
		B:    req.B,
	}
	switch {
	case req.Mode != "":
		mode, err := matmul.ParseMode(req.Mode)
		if errors.Is(err, matmul.ErrUnsupported) {
			return out, err
		}
		if err != nil {
			return out, newInvalidRequest(err.Error())
		}
		out.Mode = mode
	case req.Types != nil:
		t, err := parseTriple(*req.Types)
		if err != nil {
			return out, err
		}
		out.Types = t
	default:
		return out, newInvalidRequest("one of mode or types is required")
	}

	cfg := matmul.Config{
		IOMMUDomain:      req.IOMMUDomain,
		BPerChannelQuant: req.BPerChannelQuant,
		QuantA:           req.QuantA.params(),
		QuantB:           req.QuantB.params(),
		QuantC:           req.QuantC.params(),
	}
	var err error
	if cfg.ACLayout, err = layout.ParseKind(req.ACLayout, false); err != nil {
		return out, newInvalidRequest("ac_layout: " + err.Error())
	}
	if cfg.BLayout, err = layout.ParseKind(req.BLayout, true); err != nil {
		return out, newInvalidRequest("b_layout: " + err.Error())
	}
	if req.CoreMask != "" {
		if cfg.CoreMask, err = matmul.ParseCoreMask(req.CoreMask); err != nil {
			return out, newInvalidRequest("core_mask: " + err.Error())
		}
	}
	out.Config = cfg
	return out, nil
}

func parseTriple(t TypesRequest) (matmul.Triple, error) {
	var out matmul.Triple
	kinds := []*dtype.Kind{&out.A, &out.B, &out.C}
	for i, s := range []string{t.A, t.B, t.C} {
		k, err := dtype.Parse(s)
		if err != nil {
			return out, newInvalidRequest(fmt.Sprintf("types.%c: %v", "abc"[i], err))
		}
		*kinds[i] = k
	}
	return out, nil
}

func newResultID() string {
	return "res_" + uuid.NewString()
}
