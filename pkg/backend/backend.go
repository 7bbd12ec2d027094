// Package backend implements the simulated server side of the transport
// channel: an in-process request router over the persistent store. Routes
// follow the (method, path-with-params, JSON body) contract; every list
// reply uses the Page envelope and every failure carries a status-like
// code with an {"error": "..."} payload.
//
// Server-assigned fields (id, slug, order, timestamps) are computed here,
// which is what makes a committed record diverge from its optimistic
// preview until the post-commit refetch reconciles it.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hireloop/hireloop/pkg/reorder"
	"github.com/hireloop/hireloop/pkg/store"
	"github.com/hireloop/hireloop/pkg/transport"
)

// ValidationError rejects malformed input before any store write.
// It surfaces as a 400 reply and is never retried automatically.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Page is the envelope every list endpoint returns.
type Page struct {
	Data     []map[string]any `json:"data"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

// Candidate pipeline stages, in pipeline order.
var Stages = []string{"applied", "screen", "tech", "offer", "hired", "rejected"}

// Job statuses.
var Statuses = []string{"active", "archived"}

// ValidStage reports whether s is a known pipeline stage.
func ValidStage(s string) bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known job status.
func ValidStatus(s string) bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

type handlerFunc func(ctx context.Context, req *transport.Request, params map[string]string) (*transport.Response, error)

type route struct {
	method   string
	segments []string
	handler  handlerFunc
}

// Backend answers transport requests from the store.
type Backend struct {
	engine store.Engine
	routes []route
}

// New builds the router over an open store engine.
func New(engine store.Engine) *Backend {
	b := &Backend{engine: engine}
	b.registerJobRoutes()
	b.registerCandidateRoutes()
	b.registerAssessmentRoutes()
	return b
}

// Engine exposes the underlying store, for direct collaborators
// (seed loading, consistency checks) that are allowed to bypass the
// transport channel.
func (b *Backend) Engine() store.Engine { return b.engine }

func (b *Backend) handle(method, pattern string, h handlerFunc) {
	b.routes = append(b.routes, route{
		method:   method,
		segments: splitPath(pattern),
		handler:  h,
	})
}

// Handle implements transport.Handler: match a route, run its handler,
// normalize any failure into a *transport.ServerError.
func (b *Backend) Handle(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	segs := splitPath(req.Path)
	for _, rt := range b.routes {
		if rt.method != req.Method {
			continue
		}
		params, ok := matchRoute(rt.segments, segs)
		if !ok {
			continue
		}
		resp, err := rt.handler(ctx, req, params)
		if err != nil {
			return nil, wireError(err)
		}
		return resp, nil
	}
	return nil, &transport.ServerError{
		Status:  404,
		Message: fmt.Sprintf("no route for %s %s", req.Method, req.Path),
	}
}

// wireError maps typed failures onto status-carrying server errors while
// keeping the cause reachable through Unwrap.
func wireError(err error) error {
	var serr *transport.ServerError
	if errors.As(err, &serr) {
		return err
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return &transport.ServerError{Status: 400, Message: verr.Message, Cause: err}
	}
	var rverr *reorder.ValidationError
	if errors.As(err, &rverr) {
		return &transport.ServerError{Status: 400, Message: rverr.Error(), Cause: err}
	}
	var rerr *reorder.RepairError
	if errors.As(err, &rerr) {
		return &transport.ServerError{Status: 409, Message: rerr.Error(), Cause: err}
	}
	if errors.Is(err, store.ErrNotFound) {
		return &transport.ServerError{Status: 404, Message: "not found", Cause: err}
	}
	return &transport.ServerError{Status: 500, Message: err.Error(), Cause: err}
}

// ============================================================================
// Route matching
// ============================================================================

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// matchRoute binds pattern segments (":name" matches any one segment) to
// path segments.
func matchRoute(pattern, path []string) (map[string]string, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[seg[1:]] = path[i]
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}
	return params, true
}

// ============================================================================
// Reply and payload helpers
// ============================================================================

func respond(status int, v any) (*transport.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &transport.Response{Status: status, Body: body}, nil
}

func decodeBody(req *transport.Request, into any) error {
	if len(req.Body) == 0 {
		return validationf("missing request body")
	}
	if err := json.Unmarshal(req.Body, into); err != nil {
		return validationf("invalid JSON body: %v", err)
	}
	return nil
}

// wireRecord flattens a store record into its wire object: the field map
// plus id and timestamps.
func wireRecord(rec *store.Record) map[string]any {
	out := make(map[string]any, len(rec.Fields)+3)
	for k, v := range rec.Fields {
		out[k] = v
	}
	out["id"] = string(rec.ID)
	out["createdAt"] = rec.CreatedAt
	out["updatedAt"] = rec.UpdatedAt
	return out
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pageParams parses page / pageSize with defaults, rejecting malformed or
// non-positive values.
func pageParams(req *transport.Request) (page, size int, err error) {
	page, size = 1, defaultPageSize
	if req.Params == nil {
		return page, size, nil
	}
	if raw := req.Params.Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, validationf("invalid page %q", raw)
		}
	}
	if raw := req.Params.Get("pageSize"); raw != "" {
		size, err = strconv.Atoi(raw)
		if err != nil || size < 1 {
			return 0, 0, validationf("invalid pageSize %q", raw)
		}
		if size > maxPageSize {
			size = maxPageSize
		}
	}
	return page, size, nil
}

// paginate windows a wire object list into a Page envelope.
func paginate(items []map[string]any, page, size int) *Page {
	total := len(items)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return &Page{
		Data:     items[start:end],
		Total:    total,
		Page:     page,
		PageSize: size,
	}
}

func param(req *transport.Request, name string) string {
	if req.Params == nil {
		return ""
	}
	return req.Params.Get(name)
}
