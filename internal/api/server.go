// Package api serves the diagnostics surface: device and pool state,
// launch geometry queries, and Prometheus metrics.
package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/strata/internal/device"
	"github.com/samcharles93/strata/internal/grid"
	"github.com/samcharles93/strata/internal/logger"
	"github.com/samcharles93/strata/internal/mempool"
	"github.com/samcharles93/strata/internal/version"
)

type Server struct {
	ctx *device.Context
	log logger.Logger
	reg *prometheus.Registry
}

func NewServer(ctx *device.Context, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(ctx))
	return &Server{
		ctx: ctx,
		log: log.With("component", "api"),
		reg: reg,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", s.handleMetrics)

	// Diagnostics API
	e.GET("/v1/version", s.handleVersion)
	e.GET("/v1/device", s.handleDevice)
	e.GET("/v1/pool", s.handlePool)
	e.GET("/v1/geometry", s.handleGeometry)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handleMetrics(c *echo.Context) error {
	h := promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})
	h.ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) handleVersion(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, version.Resolve())
}

func (s *Server) handleDevice(c *echo.Context) error {
	drv := s.ctx.Driver()
	count, err := drv.DeviceCount()
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "driver_error", err.Error())
	}
	free, total, err := drv.MemInfo()
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "driver_error", err.Error())
	}
	props := s.ctx.Props()
	return writeJSON(c, http.StatusOK, DeviceInfo{
		Backend:    drv.Name(),
		Devices:    count,
		WarpSize:   props.WarpSize,
		MaxBlocks:  props.MaxBlocks,
		FreeBytes:  free,
		TotalBytes: total,
	})
}

func (s *Server) handlePool(c *echo.Context) error {
	info := PoolInfo{}
	if p := mempool.Active(); p != nil {
		st := p.Stats()
		info = PoolInfo{
			Active:         true,
			Allocs:         st.Allocs,
			Frees:          st.Frees,
			DeferredFrees:  st.DeferredFrees,
			HostPins:       st.HostPins,
			HostUnpins:     st.HostUnpins,
			DeferredUnpins: st.DeferredUnpins,
			InUseBytes:     st.InUseBytes,
			PeakBytes:      st.PeakBytes,
			PinnedBytes:    st.PinnedBytes,
			Reclaims:       st.Reclaims,
			OOMRecoveries:  st.OOMRecoveries,
			OOMFailures:    st.OOMFailures,
		}
	}
	return writeJSON(c, http.StatusOK, info)
}

// handleGeometry answers launch-geometry queries. The rank is inferred
// from which extent parameters are present: n for 1D, h and w for 2D,
// d plus h and w for 3D.
func (s *Server) handleGeometry(c *echo.Context) error {
	warps := 4
	if v, ok, err := queryInt(c, "warps"); err != nil {
		return writeBadRequest(c, err.Error())
	} else if ok {
		if v < 1 {
			return writeBadRequest(c, "warps must be at least 1")
		}
		warps = v
	}

	n, hasN, err := queryInt(c, "n")
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	h, hasH, err := queryInt(c, "h")
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	w, hasW, err := queryInt(c, "w")
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	d, hasD, err := queryInt(c, "d")
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	pl := s.ctx.Planner()
	var block, gridDim grid.Dim3
	switch {
	case hasD:
		if !hasH || !hasW {
			return writeBadRequest(c, "3d geometry needs d, h and w")
		}
		block, gridDim = pl.Choose3D(d, h, w, warps)
	case hasH || hasW:
		if !hasH || !hasW {
			return writeBadRequest(c, "2d geometry needs both h and w")
		}
		block, gridDim = pl.Choose2D(h, w, warps)
	case hasN:
		block, gridDim = pl.Choose1D(n, warps)
	default:
		return writeBadRequest(c, "supply n for 1d, h and w for 2d, or d, h and w for 3d")
	}

	return writeJSON(c, http.StatusOK, GeometryResponse{
		Warps: block.X * block.Y * block.Z / s.ctx.Props().WarpSize,
		Block: [3]int{block.X, block.Y, block.Z},
		Grid:  [3]int{gridDim.X, gridDim.Y, gridDim.Z},
	})
}

func queryInt(c *echo.Context, name string) (int, bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("parameter %q is not an integer", name)
	}
	return v, true, nil
}
