// Package autowire 基于 struct tag 的轻量依赖注入。
//
// 支持的 tag: `infra:"dep:<component_name>"`, 以 '?' 结尾表示可选依赖
// (例如 `infra:"dep:redis?"`), 容器中不存在时跳过。字段必须导出。
// 注入成功后会把依赖名追加到目标组件的运行时依赖, 以保证启动/停止顺序正确。
package autowire

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/core"
)

type runtimeDepAdder interface {
	AddDependencies(...string)
}

// Tag 解析结果
type Tag struct {
	Name     string
	Optional bool
}

// ParseTag 解析 infra tag, 非 dep 类 tag 返回 ok=false
func ParseTag(tag string) (Tag, bool) {
	if !strings.HasPrefix(tag, "dep:") {
		return Tag{}, false
	}
	name := strings.TrimSpace(strings.TrimPrefix(tag, "dep:"))
	optional := strings.HasSuffix(name, "?")
	name = strings.TrimSpace(strings.TrimSuffix(name, "?"))
	if name == "" {
		return Tag{}, false
	}
	return Tag{Name: name, Optional: optional}, true
}

// InjectAll 扫描容器内所有组件并注入依赖
func InjectAll(c *core.Container) error {
	registered := c.ListRegistered()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []string
	for _, name := range names {
		if err := Inject(c, registered[name]); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("autowire errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Inject 对单个组件执行注入
func Inject(c *core.Container, comp core.Component) error {
	if comp == nil {
		return nil
	}
	val := reflect.ValueOf(comp)
	if val.Kind() != reflect.Ptr {
		return nil
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return nil
	}
	adder, _ := comp.(runtimeDepAdder)

	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.PkgPath != "" {
			continue
		}
		tag, ok := ParseTag(field.Tag.Get("infra"))
		if !ok {
			continue
		}
		resolved, err := c.Resolve(tag.Name)
		if err != nil {
			if tag.Optional {
				continue
			}
			return fmt.Errorf("resolve %s failed: %w", tag.Name, err)
		}
		fv := val.Field(i)
		if !fv.CanSet() {
			return fmt.Errorf("field %s not settable (must be exported)", field.Name)
		}
		if err := assignValue(fv, resolved); err != nil {
			return fmt.Errorf("assign %s -> field %s failed: %w", tag.Name, field.Name, err)
		}
		if adder != nil {
			adder.AddDependencies(tag.Name)
		}
	}
	return nil
}

// TagDependencies 返回组件上声明的所有依赖名 (含可选依赖), 供 registry 推断构建顺序
func TagDependencies(comp core.Component) []string {
	v := reflect.ValueOf(comp)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	seen := map[string]struct{}{}
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		tag, ok := ParseTag(f.Tag.Get("infra"))
		if !ok {
			continue
		}
		if _, dup := seen[tag.Name]; dup {
			continue
		}
		seen[tag.Name] = struct{}{}
		out = append(out, tag.Name)
	}
	return out
}

func assignValue(dst reflect.Value, src interface{}) error {
	sv := reflect.ValueOf(src)
	if dst.Kind() == reflect.Interface {
		if sv.Type().Implements(dst.Type()) {
			dst.Set(sv)
			return nil
		}
		return fmt.Errorf("%s does not implement %s", sv.Type(), dst.Type())
	}
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}
	return fmt.Errorf("incompatible types: %s -> %s", sv.Type(), dst.Type())
}
