package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/pkg/reorder"
	"github.com/hireloop/hireloop/pkg/store"
	"github.com/hireloop/hireloop/pkg/transport"
)

func (b *Backend) registerJobRoutes() {
	b.handle("GET", "/jobs", b.listJobs)
	b.handle("GET", "/jobs/:id", b.getJob)
	b.handle("POST", "/jobs", b.createJob)
	b.handle("PATCH", "/jobs/:id", b.patchJob)
	b.handle("PATCH", "/jobs/:id/reorder", b.reorderJob)
}

// listJobs filters by status and tags, sorts by order and paginates.
// The tags parameter is comma-separated; a job matches when it carries
// every requested tag.
func (b *Backend) listJobs(ctx context.Context, req *transport.Request, _ map[string]string) (*transport.Response, error) {
	page, size, err := pageParams(req)
	if err != nil {
		return nil, err
	}
	if s := param(req, "sort"); s != "" && s != "order" {
		return nil, validationf("unsupported sort %q", s)
	}
	status := param(req, "status")
	if status != "" && !ValidStatus(status) {
		return nil, validationf("unknown status %q", status)
	}
	var wantTags []string
	if raw := param(req, "tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				wantTags = append(wantTags, t)
			}
		}
	}

	var recs []*store.Record
	if status != "" {
		recs, err = b.engine.ListIndexed(store.Jobs, "status", status)
	} else {
		recs, err = b.engine.List(store.Jobs, nil)
	}
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		if !hasAllTags(rec, wantTags) {
			continue
		}
		items = append(items, wireRecord(rec))
	}
	sort.Slice(items, func(i, j int) bool {
		return wireOrder(items[i]) < wireOrder(items[j])
	})

	return respond(200, paginate(items, page, size))
}

func (b *Backend) getJob(ctx context.Context, req *transport.Request, params map[string]string) (*transport.Response, error) {
	rec, err := b.engine.Get(store.Jobs, store.RecordID(params["id"]))
	if err != nil {
		return nil, err
	}
	return respond(200, wireRecord(rec))
}

type jobPayload struct {
	Title  *string   `json:"title"`
	Status *string   `json:"status"`
	Tags   *[]string `json:"tags"`
}

// createJob assigns everything the client cannot know: id, a unique slug,
// order at the end of the board, timestamps.
func (b *Backend) createJob(ctx context.Context, req *transport.Request, _ map[string]string) (*transport.Response, error) {
	var in jobPayload
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return nil, validationf("title is required")
	}
	status := "active"
	if in.Status != nil {
		if !ValidStatus(*in.Status) {
			return nil, validationf("unknown status %q", *in.Status)
		}
		status = *in.Status
	}
	var tags []string
	if in.Tags != nil {
		tags = *in.Tags
	}

	title := strings.TrimSpace(*in.Title)
	slug, err := b.uniqueSlug(title)
	if err != nil {
		return nil, err
	}
	n, err := b.engine.Count(store.Jobs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &store.Record{
		ID: store.RecordID(uuid.New().String()),
		Fields: map[string]any{
			"title":  title,
			"slug":   slug,
			"status": status,
			"tags":   tags,
			"order":  n,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.engine.Put(store.Jobs, rec); err != nil {
		return nil, err
	}
	return respond(201, wireRecord(rec))
}

// patchJob updates title, status or tags. The slug is assigned at creation
// and never changes afterwards.
func (b *Backend) patchJob(ctx context.Context, req *transport.Request, params map[string]string) (*transport.Response, error) {
	var in jobPayload
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}

	patch := make(map[string]any, 3)
	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return nil, validationf("title cannot be empty")
		}
		patch["title"] = strings.TrimSpace(*in.Title)
	}
	if in.Status != nil {
		if !ValidStatus(*in.Status) {
			return nil, validationf("unknown status %q", *in.Status)
		}
		patch["status"] = *in.Status
	}
	if in.Tags != nil {
		patch["tags"] = *in.Tags
	}
	if len(patch) == 0 {
		return nil, validationf("empty patch")
	}

	rec, err := b.engine.UpdateFields(store.Jobs, store.RecordID(params["id"]), patch)
	if err != nil {
		return nil, err
	}
	return respond(200, wireRecord(rec))
}

type reorderPayload struct {
	FromOrder *int `json:"fromOrder"`
	ToOrder   *int `json:"toOrder"`
}

// reorderJob moves a job to a new position, shifting the members between
// the two positions by one. The collection's density is checked first;
// a broken order set refuses the reorder until repaired.
func (b *Backend) reorderJob(ctx context.Context, req *transport.Request, params map[string]string) (*transport.Response, error) {
	var in reorderPayload
	if err := decodeBody(req, &in); err != nil {
		return nil, err
	}
	if in.FromOrder == nil || in.ToOrder == nil {
		return nil, validationf("fromOrder and toOrder are required")
	}

	id := store.RecordID(params["id"])
	rec, err := b.engine.Get(store.Jobs, id)
	if err != nil {
		return nil, err
	}
	if current, ok := rec.Int(reorder.OrderField); !ok || current != *in.FromOrder {
		return nil, validationf("fromOrder %d does not match current order", *in.FromOrder)
	}

	all, err := b.engine.List(store.Jobs, nil)
	if err != nil {
		return nil, err
	}
	if err := reorder.CheckDense(reorder.Orders(all)); err != nil {
		return nil, err
	}

	plan, err := reorder.Plan(*in.FromOrder, *in.ToOrder, len(all))
	if err != nil {
		return nil, err
	}
	if err := reorder.Apply(b.engine, store.Jobs, plan); err != nil {
		return nil, err
	}

	moved, err := b.engine.Get(store.Jobs, id)
	if err != nil {
		return nil, err
	}
	return respond(200, wireRecord(moved))
}

// uniqueSlug derives a URL slug from the title, suffixing -2, -3, ... on
// collision.
func (b *Backend) uniqueSlug(title string) (string, error) {
	base := Slugify(title)
	taken := make(map[string]struct{})
	recs, err := b.engine.List(store.Jobs, nil)
	if err != nil {
		return "", err
	}
	for _, rec := range recs {
		taken[rec.String("slug")] = struct{}{}
	}

	slug := base
	for i := 2; ; i++ {
		if _, exists := taken[slug]; !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

// Slugify lowercases a title and collapses every non-alphanumeric run
// into a single dash. Uniqueness is the caller's concern.
func Slugify(s string) string {
	var sb strings.Builder
	prevDash := true // trims leading dashes
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
			prevDash = false
		case !prevDash:
			sb.WriteByte('-')
			prevDash = true
		}
	}
	return strings.TrimRight(sb.String(), "-")
}

func hasAllTags(rec *store.Record, want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := make(map[string]struct{})
	switch tags := rec.Fields["tags"].(type) {
	case []string:
		for _, t := range tags {
			have[t] = struct{}{}
		}
	case []any:
		for _, t := range tags {
			if s, ok := t.(string); ok {
				have[s] = struct{}{}
			}
		}
	}
	for _, t := range want {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// wireOrder reads the order field of a wire object for sorting.
func wireOrder(item map[string]any) int {
	switch v := item[reorder.OrderField].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
