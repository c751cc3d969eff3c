package fxrate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeSource struct {
	name  string
	rate  decimal.Decimal
	err   error
	delay time.Duration
	calls int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return decimal.Decimal{}, ctx.Err()
		}
	}
	if f.err != nil {
		return decimal.Decimal{}, f.err
	}
	return f.rate, nil
}

type recordingObserver struct {
	mu    sync.Mutex
	tiers []string
}

func (r *recordingObserver) ObserveRate(tier string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers = append(r.tiers, tier)
}

func TestProviderPrimaryIsCached(t *testing.T) {
	primary := &fakeSource{name: "primary", rate: decimal.RequireFromString("7.1")}
	secondary := &fakeSource{name: "secondary", rate: decimal.RequireFromString("7.0")}
	p := New(Options{TTL: time.Hour}, []Source{primary, secondary}, nil, zerolog.Nop())

	first := p.Resolve(context.Background())
	if first.Tier != "primary" || !first.Rate.Equal(decimal.RequireFromString("7.1")) {
		t.Fatalf("首次应来自主源: %+v", first)
	}

	second := p.Resolve(context.Background())
	if second.Tier != TierCache {
		t.Fatalf("第二次应命中缓存, 实际 %s", second.Tier)
	}
	if atomic.LoadInt32(&primary.calls) != 1 {
		t.Fatalf("主源只应调用一次, 实际 %d", primary.calls)
	}
	if atomic.LoadInt32(&secondary.calls) != 0 {
		t.Fatalf("主源成功时不应调用备用源")
	}
}

func TestProviderFallsBackToSecondary(t *testing.T) {
	primary := &fakeSource{name: "primary", err: errors.New("boom")}
	secondary := &fakeSource{name: "secondary", rate: decimal.RequireFromString("7.105")}
	p := New(Options{TTL: time.Hour}, []Source{primary, secondary}, nil, zerolog.Nop())

	res := p.Resolve(context.Background())
	if res.Tier != "secondary" || !res.Rate.Equal(decimal.RequireFromString("7.105")) {
		t.Fatalf("应回退到备用源: %+v", res)
	}

	// cached: neither source is hit again
	p.Rate(context.Background())
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("回退结果应被缓存, primary=%d secondary=%d", primary.calls, secondary.calls)
	}
}

func TestProviderDefaultIsNotCached(t *testing.T) {
	primary := &fakeSource{name: "primary", err: errors.New("down")}
	secondary := &fakeSource{name: "secondary", err: errors.New("down")}
	p := New(Options{TTL: time.Hour, Default: decimal.RequireFromString("7.2")}, []Source{primary, secondary}, nil, zerolog.Nop())

	res := p.Resolve(context.Background())
	if res.Tier != TierDefault || !res.Rate.Equal(decimal.RequireFromString("7.2")) {
		t.Fatalf("全部失败应返回默认值: %+v", res)
	}

	p.Rate(context.Background())
	if primary.calls != 2 || secondary.calls != 2 {
		t.Fatalf("默认值不应被缓存, primary=%d secondary=%d", primary.calls, secondary.calls)
	}
}

func TestProviderRejectsNonPositiveRate(t *testing.T) {
	primary := &fakeSource{name: "primary", rate: decimal.Zero}
	secondary := &fakeSource{name: "secondary", rate: decimal.RequireFromString("7.05")}
	p := New(Options{}, []Source{primary, secondary}, nil, zerolog.Nop())

	if res := p.Resolve(context.Background()); res.Tier != "secondary" {
		t.Fatalf("非正汇率应被跳过, 实际 %+v", res)
	}
}

func TestProviderRefreshesAfterTTL(t *testing.T) {
	primary := &fakeSource{name: "primary", rate: decimal.RequireFromString("7.1")}
	p := New(Options{TTL: time.Hour}, []Source{primary}, nil, zerolog.Nop())

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Rate(context.Background())
	now = now.Add(59 * time.Minute)
	p.Rate(context.Background())
	if primary.calls != 1 {
		t.Fatalf("TTL 内不应刷新, 实际 %d", primary.calls)
	}

	now = now.Add(2 * time.Minute)
	primary.rate = decimal.RequireFromString("7.3")
	if got := p.Rate(context.Background()); !got.Equal(decimal.RequireFromString("7.3")) {
		t.Fatalf("过期后应刷新, got %s", got)
	}
	if primary.calls != 2 {
		t.Fatalf("过期后应再次调用主源, 实际 %d", primary.calls)
	}
}

func TestProviderCollapsesConcurrentRefreshes(t *testing.T) {
	primary := &fakeSource{name: "primary", rate: decimal.RequireFromString("7.1"), delay: 100 * time.Millisecond}
	obs := &recordingObserver{}
	p := New(Options{TTL: time.Hour}, []Source{primary}, obs, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := p.Rate(context.Background()); !got.Equal(decimal.RequireFromString("7.1")) {
				t.Errorf("并发调用得到错误汇率 %s", got)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&primary.calls); got != 1 {
		t.Fatalf("并发刷新应只请求一次, 实际 %d", got)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.tiers) != 8 {
		t.Fatalf("每次解析都应上报, 实际 %d", len(obs.tiers))
	}
}

func TestProviderCancelledWaiterGetsDefault(t *testing.T) {
	primary := &fakeSource{name: "primary", rate: decimal.RequireFromString("7.1"), delay: 300 * time.Millisecond}
	p := New(Options{TTL: time.Hour, Default: decimal.RequireFromString("7.2")}, []Source{primary}, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := p.Resolve(ctx)
	if res.Tier != TierDefault || !res.Rate.Equal(decimal.RequireFromString("7.2")) {
		t.Fatalf("等待方取消时应得到默认值: %+v", res)
	}

	// the detached refresh still lands in the cache
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := p.fresh(); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("后台刷新应写入缓存")
}

func TestStoreKeepsNewest(t *testing.T) {
	p := New(Options{}, nil, nil, zerolog.Nop())
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	p.store(decimal.RequireFromString("7.1"), t0.Add(time.Minute))
	p.store(decimal.RequireFromString("7.0"), t0)

	if !p.cached.rate.Equal(decimal.RequireFromString("7.1")) {
		t.Fatalf("较旧的结果不应覆盖缓存, got %s", p.cached.rate)
	}
}
