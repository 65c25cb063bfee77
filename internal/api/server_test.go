package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/matnpu/internal/backend/sim"
	"github.com/samcharles93/matnpu/pkg/matmul"
)

func newTestEcho(t *testing.T) (*echo.Echo, *sim.Driver, *ResultStore) {
	t.Helper()
	drv := sim.New(sim.Options{})
	store := NewResultStore()
	server := NewServer(drv, store, nil)
	e := echo.New()
	server.Register(e)
	return e, drv, store
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ResponseError {
	t.Helper()
	var env struct {
		Error ResponseError `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v body=%s", err, rec.Body.String())
	}
	return env.Error
}

func TestListModes(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEcho(t)
	rec := doJSON(t, e, http.MethodGet, "/v1/modes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("modes status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp ModesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode modes: %v", err)
	}
	if len(resp.Data) != len(matmul.SupportedModes()) {
		t.Fatalf("expected %d modes, got %d", len(matmul.SupportedModes()), len(resp.Data))
	}
	first := resp.Data[0]
	if first.Tag != 1 || first.A != "float16" || first.C != "float32" {
		t.Fatalf("unexpected first mode: %+v", first)
	}
}

func TestMatmulImmediateRelease(t *testing.T) {
	t.Parallel()

	e, drv, store := newTestEcho(t)
	body := `{"m":2,"k":2,"n":2,"types":{"a":"int8","b":"int8","c":"int32"},"a":[1,2,3,4],"b":[2,1,1,3]}`
	rec := doJSON(t, e, http.MethodPost, "/v1/matmul", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("matmul status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp MatmulResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode matmul: %v", err)
	}
	if resp.ID != "" {
		t.Fatalf("unexpected id for unkept result: %q", resp.ID)
	}
	if resp.Mode != "INT8_MM_INT8_TO_INT32" || resp.Kind != "int32" {
		t.Fatalf("unexpected mode/kind: %s %s", resp.Mode, resp.Kind)
	}
	want := []float64{4, 7, 10, 15}
	for i, v := range want {
		if resp.Data[i] != v {
			t.Fatalf("data[%d]: got %v want %v", i, resp.Data[i], v)
		}
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
	if st := drv.Stats(); st.Contexts != 0 || st.Buffers != 0 {
		t.Fatalf("leaked device resources: %+v", st)
	}
}

func TestKeepGetDeleteLifecycle(t *testing.T) {
	t.Parallel()

	e, drv, store := newTestEcho(t)
	body := `{"m":1,"k":2,"n":2,"mode":"f16,f16,f32","a":[1,2],"b":[1,0,0,1],"keep":true}`
	createRec := doJSON(t, e, http.MethodPost, "/v1/matmul", body)
	if createRec.Code != http.StatusOK {
		t.Fatalf("create status: got %d body=%s", createRec.Code, createRec.Body.String())
	}
	var created MatmulResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !strings.HasPrefix(created.ID, "res_") {
		t.Fatalf("expected res_ id, got %q", created.ID)
	}
	if drv.Stats().Contexts != 1 {
		t.Fatalf("kept result should hold its context")
	}

	getRec := doJSON(t, e, http.MethodGet, "/v1/results/"+created.ID, "")
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status: got %d body=%s", getRec.Code, getRec.Body.String())
	}
	var got MatmulResponse
	if err := json.Unmarshal(getRec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got.ID != created.ID || len(got.Data) != 2 || got.Data[0] != 1 || got.Data[1] != 2 {
		t.Fatalf("unexpected stored result: %+v", got)
	}

	delRec := doJSON(t, e, http.MethodDelete, "/v1/results/"+created.ID, "")
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete status: got %d body=%s", delRec.Code, delRec.Body.String())
	}
	if !strings.Contains(delRec.Body.String(), `"deleted":true`) {
		t.Fatalf("delete response missing deleted=true: %s", delRec.Body.String())
	}

	getDeletedRec := doJSON(t, e, http.MethodGet, "/v1/results/"+created.ID, "")
	if getDeletedRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d body=%s", getDeletedRec.Code, getDeletedRec.Body.String())
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store")
	}
	if st := drv.Stats(); st.Contexts != 0 || st.Buffers != 0 {
		t.Fatalf("leaked device resources: %+v", st)
	}
}

func TestMatmulErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{
			name:   "unsupported",
			body:   `{"m":1,"k":1,"n":1,"types":{"a":"float32","b":"float32","c":"float32"},"a":[1],"b":[1]}`,
			status: http.StatusBadRequest,
			code:   "unsupported_combination",
		},
		{
			name:   "no mode",
			body:   `{"m":1,"k":1,"n":1,"a":[1],"b":[1]}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "bad layout",
			body:   `{"m":1,"k":1,"n":1,"mode":"1","a":[1],"b":[1],"b_layout":"diagonal"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "short operand",
			body:   `{"m":2,"k":2,"n":2,"mode":"INT8_MM_INT8_TO_INT32","a":[1,2,3],"b":[1,2,3,4]}`,
			status: http.StatusConflict,
			code:   "usage",
		},
		{
			name:   "malformed",
			body:   `{"m":`,
			status: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, drv, _ := newTestEcho(t)
			rec := doJSON(t, e, http.MethodPost, "/v1/matmul", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d body=%s", tc.status, rec.Code, rec.Body.String())
			}
			if tc.code != "" {
				if got := decodeError(t, rec); got.Code != tc.code {
					t.Fatalf("expected code %q, got %+v", tc.code, got)
				}
			}
			if st := drv.Stats(); st.Contexts != 0 || st.Buffers != 0 {
				t.Fatalf("leaked device resources: %+v", st)
			}
		})
	}
}

func TestDriverFailureIsBadGateway(t *testing.T) {
	t.Parallel()

	e, drv, _ := newTestEcho(t)
	drv.FailOn(matmul.OpAllocate, matmul.StatusMallocFail, 0)
	body := `{"m":1,"k":1,"n":1,"mode":"INT8_MM_INT8_TO_INT32","a":[1],"b":[1]}`
	rec := doJSON(t, e, http.MethodPost, "/v1/matmul", body)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeError(t, rec); got.Code != "RKNN_ERR_MALLOC_FAIL" || got.Type != "driver_error" {
		t.Fatalf("unexpected error: %+v", got)
	}
}

func TestFloat16OverflowIsTypedError(t *testing.T) {
	t.Parallel()

	e, drv, store := newTestEcho(t)
	body := `{"m":1,"k":2,"n":1,"types":{"a":"float16","b":"float16","c":"float16"},"a":[60000,60000],"b":[1,1],"keep":true}`
	rec := doJSON(t, e, http.MethodPost, "/v1/matmul", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overflow status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decodeError(t, rec); got.Type != "result_error" || got.Code != "non_finite_output" {
		t.Fatalf("unexpected error envelope: %+v", got)
	}
	if store.Len() != 0 {
		t.Fatalf("overflowed result should not be stored")
	}
	if st := drv.Stats(); st.Contexts != 0 || st.Buffers != 0 {
		t.Fatalf("leaked device resources: %+v", st)
	}
}

func TestUnknownResult(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEcho(t)
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := doJSON(t, e, method, "/v1/results/res_missing", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", method, rec.Code)
		}
	}
}

func TestStoreCloseReleases(t *testing.T) {
	t.Parallel()

	e, drv, store := newTestEcho(t)
	body := `{"m":1,"k":1,"n":1,"mode":"INT8_MM_INT8_TO_INT32","a":[3],"b":[5],"keep":true}`
	for range 3 {
		if rec := doJSON(t, e, http.MethodPost, "/v1/matmul", body); rec.Code != http.StatusOK {
			t.Fatalf("create status: got %d body=%s", rec.Code, rec.Body.String())
		}
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 stored results, got %d", store.Len())
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := drv.Stats(); st.Contexts != 0 || st.Buffers != 0 {
		t.Fatalf("leaked device resources: %+v", st)
	}
}
