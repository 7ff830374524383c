package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/config"
	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
)

// HTTPProvider POSTs {"unit_ref": ...} to a refresh endpoint.
type HTTPProvider struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func NewHTTPProvider(url string, headers map[string]string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (p *HTTPProvider) Process(ctx context.Context, unitRef string) error {
	body, err := json.Marshal(map[string]string{"unit_ref": unitRef})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("refresh endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// ClientSource yields the redis client once the redis component has started.
type ClientSource interface {
	Client() goredis.UniversalClient
}

// RedisProvider publishes the unit reference on a channel.
type RedisProvider struct {
	src     ClientSource
	channel string
}

func NewRedisProvider(src ClientSource, channel string) *RedisProvider {
	return &RedisProvider{src: src, channel: channel}
}

func (p *RedisProvider) Process(ctx context.Context, unitRef string) error {
	c := p.src.Client()
	if c == nil {
		return errors.New("redis client not connected")
	}
	if err := c.Publish(ctx, p.channel, unitRef).Err(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", p.channel, err)
	}
	return nil
}

// Resolve builds the bindings from configuration. redisSrc may be nil when
// the redis component is disabled; a redis-kind slot then fails resolution.
func Resolve(cfgs map[string]*config.CapabilityConfig, redisSrc ClientSource) (*Bindings, error) {
	slots := make([]Slot, 0, len(cfgs))
	for name, cc := range cfgs {
		if cc == nil {
			slots = append(slots, Unbound(name))
			continue
		}
		switch strings.ToLower(cc.Kind) {
		case "", "none":
			slots = append(slots, Unbound(name))
		case "http":
			slots = append(slots, Bound(name, NewHTTPProvider(cc.URL, cc.Headers, cc.Timeout)))
		case "redis":
			if redisSrc == nil {
				return nil, fmt.Errorf("capability %s requires the redis component", name)
			}
			slots = append(slots, Bound(name, NewRedisProvider(redisSrc, cc.Channel)))
		default:
			return nil, fmt.Errorf("capability %s: unknown kind %q", name, cc.Kind)
		}
		logging.Info(context.Background(), "capability slot resolved", zap.String("slot", name), zap.String("kind", cc.Kind))
	}
	return NewBindings(slots...), nil
}
