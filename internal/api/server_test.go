package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/strata/internal/device"
	"github.com/samcharles93/strata/internal/mempool"
	"github.com/samcharles93/strata/internal/version"
)

func newTestEcho(t *testing.T) (*echo.Echo, *device.Context) {
	t.Helper()
	ctx, err := device.Open(device.Config{Backend: device.Sim, SimBytes: 1 << 20})
	if err != nil {
		t.Fatalf("open device: %v", err)
	}
	t.Cleanup(func() { _ = ctx.Close() })
	e := echo.New()
	NewServer(ctx, nil).Register(e)
	return e, ctx
}

func doGet(t *testing.T, e *echo.Echo, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	rec := doGet(t, e, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	rec := doGet(t, e, "/v1/version")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	info := decodeBody[version.Info](t, rec)
	if info.Version == "" {
		t.Fatalf("expected a resolved version, got %s", rec.Body.String())
	}
}

func TestDeviceEndpoint(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	rec := doGet(t, e, "/v1/device")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	info := decodeBody[DeviceInfo](t, rec)
	if info.Backend != "sim" {
		t.Fatalf("unexpected backend: %q", info.Backend)
	}
	if info.Devices != 1 {
		t.Fatalf("unexpected device count: %d", info.Devices)
	}
	if info.WarpSize != 32 || info.MaxBlocks != 4096 {
		t.Fatalf("unexpected launch limits: warp=%d blocks=%d", info.WarpSize, info.MaxBlocks)
	}
	if info.TotalBytes != 1<<20 || info.FreeBytes != 1<<20 {
		t.Fatalf("unexpected heap: free=%d total=%d", info.FreeBytes, info.TotalBytes)
	}
}

func TestGeometryEndpoint(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	cases := []struct {
		name  string
		query string
		want  GeometryResponse
	}{
		{
			name:  "1d small",
			query: "n=100",
			want:  GeometryResponse{Warps: 4, Block: [3]int{128, 1, 1}, Grid: [3]int{1, 1, 1}},
		},
		{
			name:  "1d large",
			query: "n=100000&warps=8",
			want:  GeometryResponse{Warps: 8, Block: [3]int{256, 1, 1}, Grid: [3]int{390, 1, 1}},
		},
		{
			name:  "2d",
			query: "h=64&w=100",
			want:  GeometryResponse{Warps: 4, Block: [3]int{32, 4, 1}, Grid: [3]int{1, 64, 1}},
		},
		{
			name:  "3d",
			query: "d=2&h=8&w=8&warps=2",
			want:  GeometryResponse{Warps: 2, Block: [3]int{32, 2, 1}, Grid: [3]int{1, 8, 1}},
		},
	}
	for _, tc := range cases {
		rec := doGet(t, e, "/v1/geometry?"+tc.query)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d body=%s", tc.name, rec.Code, rec.Body.String())
		}
		got := decodeBody[GeometryResponse](t, rec)
		if got != tc.want {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestGeometryValidation(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t)
	cases := []struct {
		query string
		want  string
	}{
		{"", "supply n for 1d"},
		{"h=4", "2d geometry needs both h and w"},
		{"d=2&h=4", "3d geometry needs d, h and w"},
		{"n=abc", "not an integer"},
		{"n=10&warps=0", "warps must be at least 1"},
	}
	for _, tc := range cases {
		rec := doGet(t, e, "/v1/geometry?"+tc.query)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400, got %d body=%s", tc.query, rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), tc.want) {
			t.Fatalf("query %q: body %s missing %q", tc.query, rec.Body.String(), tc.want)
		}
	}
}

func TestPoolEndpoint(t *testing.T) {
	e, ctx := newTestEcho(t)

	rec := doGet(t, e, "/v1/pool")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if info := decodeBody[PoolInfo](t, rec); info.Active {
		t.Fatalf("expected inactive pool, got %+v", info)
	}

	err := mempool.With(mempool.Config{Driver: ctx.Driver()}, func(p *mempool.Pool) error {
		a, err := p.Alloc(2048)
		if err != nil {
			return err
		}
		defer p.Free(a)

		rec := doGet(t, e, "/v1/pool")
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
		}
		info := decodeBody[PoolInfo](t, rec)
		if !info.Active {
			t.Fatalf("expected active pool, got %+v", info)
		}
		if info.Allocs != 1 || info.InUseBytes != 2048 {
			t.Fatalf("unexpected pool counters: %+v", info)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("pool scope: %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e, ctx := newTestEcho(t)

	rec := doGet(t, e, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "strata_pool_active 0") {
		t.Fatalf("metrics missing inactive pool gauge:\n%s", rec.Body.String())
	}

	err := mempool.With(mempool.Config{Driver: ctx.Driver()}, func(p *mempool.Pool) error {
		a, err := p.Alloc(1024)
		if err != nil {
			return err
		}
		defer p.Free(a)

		body := doGet(t, e, "/metrics").Body.String()
		for _, want := range []string{
			"strata_pool_active 1",
			"strata_pool_allocs_total 1",
			"strata_pool_in_use_bytes 1024",
			`strata_device_total_bytes{backend="sim"} 1.048576e+06`,
		} {
			if !strings.Contains(body, want) {
				t.Fatalf("metrics missing %q:\n%s", want, body)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("pool scope: %v", err)
	}
}
