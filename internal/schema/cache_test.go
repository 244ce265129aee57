package schema

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/fieldadmin/internal/platformtest"
	"github.com/pitabwire/fieldadmin/model"
)

func testModel(id string, slugs ...string) model.DataModel {
	m := model.DataModel{ID: id, Name: id, Slug: id, IsActive: true}
	for i, s := range slugs {
		m.Fields = append(m.Fields, model.DataModelField{
			ID: fmt.Sprintf("%s-f%d", id, i), Slug: s, Type: model.FieldText, DataModelID: id, DisplayOrder: i,
		})
	}
	return m
}

func TestScopeOf(t *testing.T) {
	if got := ScopeOf(&model.RequestContext{TenantID: "t1"}); got != "t1" {
		t.Errorf("ScopeOf(t1) = %q", got)
	}
	if got := ScopeOf(&model.RequestContext{}); got != "platform" {
		t.Errorf("ScopeOf(platform caller) = %q, want platform", got)
	}
	if got := ScopeOf(nil); got != "platform" {
		t.Errorf("ScopeOf(nil) = %q, want platform", got)
	}
}

// --- MemoryCache ---

func TestMemoryCache_PutGet(t *testing.T) {
	c := NewMemoryCache(time.Minute, 10)
	ctx := context.Background()

	if _, ok, _ := c.Get(ctx, "t1", "dm-1"); ok {
		t.Fatal("empty cache returned a hit")
	}
	if err := c.Put(ctx, "t1", testModel("dm-1", "title")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "t1", "dm-1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.Slugs()[0] != "title" {
		t.Errorf("slugs = %v", got.Slugs())
	}
	if _, ok, _ := c.Get(ctx, "t2", "dm-1"); ok {
		t.Error("other scope must miss")
	}
}

func TestMemoryCache_returnsCopies(t *testing.T) {
	c := NewMemoryCache(time.Minute, 10)
	ctx := context.Background()
	c.Put(ctx, "t1", testModel("dm-1", "title"))

	got, _, _ := c.Get(ctx, "t1", "dm-1")
	got.Fields[0].Slug = "mutated"

	again, _, _ := c.Get(ctx, "t1", "dm-1")
	if again.Fields[0].Slug != "title" {
		t.Errorf("cached model was mutated through a returned copy")
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache(time.Second, 10)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	c.Put(ctx, "t1", testModel("dm-1", "title"))

	now = now.Add(2 * time.Second)
	if _, ok, _ := c.Get(ctx, "t1", "dm-1"); ok {
		t.Error("expired model returned")
	}
	if _, ok, _ := c.FieldOwner(ctx, "t1", "dm-1-f0"); ok {
		t.Error("expired owner returned")
	}
}

func TestMemoryCache_FieldOwner(t *testing.T) {
	c := NewMemoryCache(time.Minute, 10)
	ctx := context.Background()
	c.Put(ctx, "t1", testModel("dm-1", "title", "priority"))

	owner, ok, _ := c.FieldOwner(ctx, "t1", "dm-1-f1")
	if !ok || owner != "dm-1" {
		t.Errorf("FieldOwner() = %q, %v", owner, ok)
	}

	// A newer read without the field drops its owner entry.
	c.Put(ctx, "t1", testModel("dm-1", "title"))
	if _, ok, _ := c.FieldOwner(ctx, "t1", "dm-1-f1"); ok {
		t.Error("owner of a removed field still cached")
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(time.Minute, 10)
	ctx := context.Background()
	c.Put(ctx, "t1", testModel("dm-1", "title"))

	c.Delete(ctx, "t1", "dm-1")
	if _, ok, _ := c.Get(ctx, "t1", "dm-1"); ok {
		t.Error("deleted model returned")
	}
	if _, ok, _ := c.FieldOwner(ctx, "t1", "dm-1-f0"); ok {
		t.Error("deleted model's field owner returned")
	}
}

func TestMemoryCache_evictsAtCapacity(t *testing.T) {
	c := NewMemoryCache(time.Minute, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Put(ctx, "t1", testModel("dm-1"))
	now = now.Add(time.Second)
	c.Put(ctx, "t1", testModel("dm-2"))
	now = now.Add(time.Second)
	c.Put(ctx, "t1", testModel("dm-3"))

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "t1", "dm-1"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok, _ := c.Get(ctx, "t1", "dm-3"); !ok {
		t.Error("newest entry missing")
	}
}

// --- RedisCache ---

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func TestRedisCache_PutGet(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewRedisCache(client, time.Minute, "")
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "t1", "dm-1"); ok || err != nil {
		t.Fatalf("Get() on empty = %v, %v", ok, err)
	}
	if err := c.Put(ctx, "t1", testModel("dm-1", "title", "priority")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "t1", "dm-1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if len(got.Fields) != 2 || got.Fields[1].Slug != "priority" {
		t.Errorf("fields = %+v", got.Fields)
	}
	if !mr.Exists("fieldadmin:schema:t1:model:dm-1") {
		t.Error("expected namespaced model key")
	}

	owner, ok, err := c.FieldOwner(ctx, "t1", "dm-1-f1")
	if err != nil || !ok || owner != "dm-1" {
		t.Errorf("FieldOwner() = %q, %v, %v", owner, ok, err)
	}
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewRedisCache(client, time.Second, "fa")
	ctx := context.Background()
	c.Put(ctx, "t1", testModel("dm-1", "title"))

	mr.FastForward(2 * time.Second)

	if _, ok, _ := c.Get(ctx, "t1", "dm-1"); ok {
		t.Error("expired model returned")
	}
	if _, ok, _ := c.FieldOwner(ctx, "t1", "dm-1-f0"); ok {
		t.Error("expired owner returned")
	}
}

func TestRedisCache_Delete(t *testing.T) {
	_, client := newTestRedis(t)
	c := NewRedisCache(client, time.Minute, "")
	ctx := context.Background()
	c.Put(ctx, "t1", testModel("dm-1", "title"))

	if err := c.Delete(ctx, "t1", "dm-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, "t1", "dm-1"); ok {
		t.Error("deleted model returned")
	}
}

func TestRedisCache_corruptEntryIsError(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewRedisCache(client, time.Minute, "")
	mr.Set("fieldadmin:schema:t1:model:dm-1", "{not json")

	if _, _, err := c.Get(context.Background(), "t1", "dm-1"); err == nil {
		t.Error("expected error for corrupt entry")
	}
}

func TestRedisCache_Ping(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewRedisCache(client, time.Minute, "")

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	mr.Close()
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping() after close should fail")
	}
}

func TestDescriptor_sharedRedisCacheAcrossReplicas(t *testing.T) {
	_, client := newTestRedis(t)
	p := platformtest.New(t)
	ctx := context.Background()

	first := NewDescriptor(newTestClient(t, p.URL()), NewRedisCache(client, time.Minute, ""))
	second := NewDescriptor(newTestClient(t, p.URL()), NewRedisCache(client, time.Minute, ""))

	m, err := first.Define(ctx, testCaller(), ticketInput())
	if err != nil {
		t.Fatalf("Define() error = %v", err)
	}

	_, err = second.AddField(ctx, testCaller(), m.ID, model.CreateFieldInput{Name: "Title", Slug: "title", Type: model.FieldText})
	if !model.IsCode(err, model.ErrDuplicateSlug) {
		t.Fatalf("AddField() error = %v, want DUPLICATE_SLUG", err)
	}
	p.AssertCalled(t, "getDataModel", 0)
}

func TestDescriptor_cacheFailureFallsBackToRemote(t *testing.T) {
	mr, client := newTestRedis(t)
	p := platformtest.New(t)
	d := NewDescriptor(newTestClient(t, p.URL()), NewRedisCache(client, time.Minute, ""))
	m := p.PutModel(model.DataModel{Name: "Ticket", Slug: "ticket", IsActive: true})
	mr.Close()

	got, err := d.Lookup(context.Background(), testCaller(), m.ID)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.ID != m.ID {
		t.Errorf("id = %q", got.ID)
	}
}
