package registry

import (
	"testing"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/config"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
)

type storeComp struct {
	*core.BaseComponent
}

type consumerComp struct {
	*core.BaseComponent
	Store *storeComp `infra:"dep:test_store"`
	Cache *storeComp `infra:"dep:test_cache?"`
}

func TestTopoSortBuilders(t *testing.T) {
	list := []*Builder{
		{Name: "worker_pool", Deps: []string{"queue", "executor"}},
		{Name: "executor", Deps: []string{"queue"}},
		{Name: "queue", Deps: []string{"gorm"}},
	}
	ordered, err := topoSortBuilders(list)
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	var names []string
	for _, b := range ordered {
		names = append(names, b.Name)
	}
	want := []string{"queue", "executor", "worker_pool"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order = %v, want %v", names, want)
		}
	}
}

func TestTopoSortBuildersCycle(t *testing.T) {
	list := []*Builder{
		{Name: "a", Deps: []string{"b"}},
		{Name: "b", Deps: []string{"a"}},
	}
	if _, err := topoSortBuilders(list); err == nil {
		t.Fatalf("expected cycle error")
	}
}

func TestBuildAndRegisterAllInjectsAutoComponents(t *testing.T) {
	RegisterAuto(func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, &consumerComp{BaseComponent: core.NewBaseComponent("test_consumer")}, nil
	})
	Register("test_store", func(cfg *config.AppConfig, c *core.Container) (bool, core.Component, error) {
		return true, &storeComp{BaseComponent: core.NewBaseComponent("test_store")}, nil
	})
	ExtendRuntimeDependencies("test_store", "logging")

	c := core.NewContainer()
	if err := BuildAndRegisterAll(&config.AppConfig{APPInfo: &config.APPInfo{}}, c); err != nil {
		t.Fatalf("build: %v", err)
	}
	comp, err := c.Resolve("test_consumer")
	if err != nil {
		t.Fatalf("resolve consumer: %v", err)
	}
	consumer := comp.(*consumerComp)
	if consumer.Store == nil {
		t.Fatalf("required dependency not injected")
	}
	if consumer.Cache != nil {
		t.Fatalf("optional dependency should stay nil")
	}
	found := false
	for _, d := range consumer.Dependencies() {
		if d == "test_store" {
			found = true
		}
	}
	if !found {
		t.Fatalf("injected dependency missing from runtime deps: %v", consumer.Dependencies())
	}
	store, _ := c.Resolve("test_store")
	if deps := store.Dependencies(); len(deps) != 1 || deps[0] != "logging" {
		t.Fatalf("runtime extension not applied: %v", deps)
	}
	if _, err := c.Resolve("logging"); err == nil {
		t.Fatalf("disabled logging builder should not register")
	}
}
