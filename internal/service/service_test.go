package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldwatch/internal/events"
	"goldwatch/internal/fetcher"
	"goldwatch/internal/storage"
)

type fakeSource struct {
	id    string
	delay time.Duration

	mu    sync.Mutex
	price decimal.Decimal
	err   error
	calls int
}

func newFake(id string, price string) *fakeSource {
	return &fakeSource{id: id, price: decimal.RequireFromString(price)}
}

func (f *fakeSource) ID() string             { return f.id }
func (f *fakeSource) Name() string           { return "name-" + f.id }
func (f *fakeSource) Kind() fetcher.Kind     { return fetcher.KindPolling }
func (f *fakeSource) Timeout() time.Duration { return 50 * time.Millisecond }

func (f *fakeSource) Fetch(ctx context.Context) (fetcher.Point, error) {
	f.mu.Lock()
	f.calls++
	price, err, delay := f.price, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fetcher.Point{}, &fetcher.FetchError{Kind: fetcher.ErrKindNetwork, SourceID: f.id, Err: ctx.Err()}
		}
	}
	if err != nil {
		return fetcher.Point{}, err
	}
	return fetcher.Point{SourceID: f.id, Value: price, Unit: fetcher.UnitLocalPerGram, ObservedAt: time.Now()}, nil
}

func (f *fakeSource) set(price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = decimal.RequireFromString(price)
	f.err = nil
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Handle(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) drain() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func alertsIn(evs []events.Event) []events.AlertRaised {
	var out []events.AlertRaised
	for _, ev := range evs {
		if a, ok := ev.(events.AlertRaised); ok {
			out = append(out, a)
		}
	}
	return out
}

func lastDisplay(t *testing.T, evs []events.Event) events.DisplayUpdate {
	t.Helper()
	for i := len(evs) - 1; i >= 0; i-- {
		if d, ok := evs[i].(events.DisplayUpdate); ok {
			return d
		}
	}
	t.Fatalf("未找到 DisplayUpdate: %#v", evs)
	return events.DisplayUpdate{}
}

func newTestAggregator(t *testing.T, threshold string, deps Dependencies, sources ...fetcher.Source) (*Aggregator, *recordingSink) {
	t.Helper()
	reg, err := NewRegistry(sources, "")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	sink := &recordingSink{}
	agg := New(Options{ThresholdPct: decimal.RequireFromString(threshold), Location: time.UTC}, reg, sink, deps, zerolog.Nop())
	return agg, sink
}

func TestTickAlertScenario(t *testing.T) {
	src := newFake("jd", "500")
	agg, sink := newTestAggregator(t, "1.0", Dependencies{}, src)
	ctx := context.Background()

	steps := []struct {
		price string
		alert bool
	}{
		{"500", false},
		{"504", false},
		{"506", true},
		{"507", false},
	}

	for _, step := range steps {
		src.set(step.price)
		if err := agg.Tick(ctx); err != nil {
			t.Fatalf("tick %s: %v", step.price, err)
		}
		evs := sink.drain()
		alerts := alertsIn(evs)
		if step.alert != (len(alerts) == 1) {
			t.Fatalf("价格 %s 告警预期 %v, 实际 %d 条", step.price, step.alert, len(alerts))
		}
		if step.alert {
			a := alerts[0]
			if !a.ChangePercent.Equal(decimal.RequireFromString("1.2")) {
				t.Fatalf("告警涨幅应为 1.2%%, got %s", a.ChangePercent)
			}
			if !a.Reference.Equal(decimal.NewFromInt(500)) {
				t.Fatalf("参考价应为基线 500, got %s", a.Reference)
			}
			if _, ok := evs[0].(events.AlertRaised); !ok {
				t.Fatalf("告警应先于显示更新发出")
			}
		}
	}

	st, _ := agg.State("jd")
	if !st.LastAlert.Valid || !st.LastAlert.Decimal.Equal(decimal.NewFromInt(506)) {
		t.Fatalf("lastAlert 应为 506, got %+v", st.LastAlert)
	}

	src.set("507")
	_ = agg.Tick(ctx)
	d := lastDisplay(t, sink.drain())
	if !d.ChangeVsBaseline.Equal(decimal.NewFromInt(7)) || d.ColorClass != events.ColorUp {
		t.Fatalf("显示应为相对基线 +7 up, got %s %s", d.ChangeVsBaseline, d.ColorClass)
	}
	if !d.ChangePercent.Equal(decimal.RequireFromString("1.4")) {
		t.Fatalf("相对基线涨幅应为 1.4, got %s", d.ChangePercent)
	}
}

func TestTickResetsBaselineOnNewDay(t *testing.T) {
	src := newFake("jd", "500")
	agg, sink := newTestAggregator(t, "1.0", Dependencies{}, src)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	agg.now = func() time.Time { return now }

	_ = agg.Tick(ctx)
	src.set("506")
	_ = agg.Tick(ctx)
	if len(alertsIn(sink.drain())) != 1 {
		t.Fatal("首日应触发告警")
	}

	now = now.Add(2 * time.Minute)
	src.set("490")
	_ = agg.Tick(ctx)
	evs := sink.drain()
	if len(alertsIn(evs)) != 0 {
		t.Fatal("新一天首个价格应重置基线且不告警")
	}

	st, _ := agg.State("jd")
	if !st.Baseline.Decimal.Equal(decimal.NewFromInt(490)) || st.BaselineDate != "2026-03-02" {
		t.Fatalf("基线应重置为 490@2026-03-02, got %s@%s", st.Baseline.Decimal, st.BaselineDate)
	}
	if st.LastAlert.Valid {
		t.Fatal("新一天应清除 lastAlert")
	}
	if d := lastDisplay(t, evs); d.ColorClass != events.ColorNeutral {
		t.Fatalf("重置后颜色应为 neutral, got %s", d.ColorClass)
	}
}

func TestTickIsolatesFailures(t *testing.T) {
	a := newFake("a", "500")
	b := newFake("b", "510")
	c := newFake("c", "520")
	b.fail(&fetcher.FetchError{Kind: fetcher.ErrKindHTTP, SourceID: "b", Status: 502})

	agg, sink := newTestAggregator(t, "1.0", Dependencies{}, a, b, c)
	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	latest := agg.Latest()
	if len(latest) != 2 || latest[0].SourceID != "a" || latest[1].SourceID != "c" {
		t.Fatalf("缓存应只包含 a 和 c: %+v", latest)
	}
	if _, ok := agg.State("b"); ok {
		t.Fatal("失败的源不应创建告警状态")
	}
	if _, ok := agg.State("c"); !ok {
		t.Fatal("未选中的源也应维护基线")
	}

	d := lastDisplay(t, sink.drain())
	if d.SourceID != "a" || d.FromCache {
		t.Fatalf("应显示 a 的新鲜价格: %+v", d)
	}
}

func TestTickSlowSourceDoesNotBlockOthers(t *testing.T) {
	fast := newFake("fast", "500")
	slow := newFake("slow", "510")
	slow.delay = time.Second

	agg, _ := newTestAggregator(t, "1.0", Dependencies{}, fast, slow)

	start := time.Now()
	_ = agg.Tick(context.Background())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("慢源应在自身超时内被放弃, 耗时 %s", elapsed)
	}
	if got := agg.Latest(); len(got) != 1 || got[0].SourceID != "fast" {
		t.Fatalf("快源结果应被缓存: %+v", got)
	}
}

func TestTickSelectedFailureFallsBackToCache(t *testing.T) {
	src := newFake("jd", "500")
	agg, sink := newTestAggregator(t, "1.0", Dependencies{}, src)
	ctx := context.Background()

	_ = agg.Tick(ctx)
	sink.drain()

	src.fail(&fetcher.FetchError{Kind: fetcher.ErrKindNetwork, SourceID: "jd"})
	_ = agg.Tick(ctx)
	evs := sink.drain()
	if len(alertsIn(evs)) != 0 {
		t.Fatal("使用缓存时不应评估告警")
	}
	d := lastDisplay(t, evs)
	if !d.FromCache || !d.Degraded || !d.Price.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("应显示降级的缓存值: %+v", d)
	}
}

func TestTickSelectedUnavailableWithoutCache(t *testing.T) {
	src := newFake("jd", "500")
	src.fail(&fetcher.FetchError{Kind: fetcher.ErrKindDecode, SourceID: "jd"})
	agg, sink := newTestAggregator(t, "1.0", Dependencies{}, src)

	_ = agg.Tick(context.Background())
	evs := sink.drain()
	if len(evs) != 1 {
		t.Fatalf("期望 1 个事件, got %d", len(evs))
	}
	u, ok := evs[0].(events.SourceUnavailable)
	if !ok || u.SourceID != "jd" || u.Reason == "" {
		t.Fatalf("应发出 SourceUnavailable: %#v", evs[0])
	}
}

func TestSwitchEmitsFromCacheWithoutFetching(t *testing.T) {
	a := newFake("a", "500")
	b := newFake("b", "510")
	agg, sink := newTestAggregator(t, "1.0", Dependencies{}, a, b)
	ctx := context.Background()

	_ = agg.Tick(ctx)
	sink.drain()
	callsBefore := b.callCount()

	agg.SwitchNext(ctx)
	evs := sink.drain()
	d := lastDisplay(t, evs)
	if d.SourceID != "b" || !d.FromCache || d.Degraded || !d.Price.Equal(decimal.NewFromInt(510)) {
		t.Fatalf("切换后应立即显示 b 的缓存值: %+v", d)
	}
	if b.callCount() != callsBefore {
		t.Fatal("切换不应触发网络请求")
	}

	agg.SwitchNext(ctx)
	if d := lastDisplay(t, sink.drain()); d.SourceID != "a" {
		t.Fatalf("应循环回到 a, got %s", d.SourceID)
	}

	if err := agg.Select(ctx, "missing"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("期望 ErrUnknownSource, got %v", err)
	}
}

func TestSwitchDuringTickKeepsDisplayOnSelection(t *testing.T) {
	a, b := newFake("a", "500"), newFake("b", "600")
	agg, sink := newTestAggregator(t, "0", Dependencies{}, a, b)
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := agg.Tick(ctx); err != nil {
				t.Errorf("tick: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			agg.SwitchNext(ctx)
		}()
		wg.Wait()

		evs := sink.drain()
		if len(evs) == 0 {
			t.Fatalf("第 %d 轮没有事件", round)
		}
		want := agg.Registry().Selected().ID()
		if got := evs[len(evs)-1].EventSource(); got != want {
			t.Fatalf("第 %d 轮最后展示的源为 %s, 当前选择为 %s", round, got, want)
		}
	}
}

func TestSwitchWithoutCacheEmitsUnavailable(t *testing.T) {
	agg, sink := newTestAggregator(t, "1.0", Dependencies{}, newFake("a", "1"), newFake("b", "2"))

	if err := agg.Select(context.Background(), "b"); err != nil {
		t.Fatalf("select: %v", err)
	}
	evs := sink.drain()
	if _, ok := evs[0].(events.SourceUnavailable); !ok {
		t.Fatalf("无缓存时应发出 SourceUnavailable: %#v", evs)
	}
}

func TestOnlySelectedSourceAlerts(t *testing.T) {
	a := newFake("a", "500")
	b := newFake("b", "500")
	agg, sink := newTestAggregator(t, "1.0", Dependencies{}, a, b)
	ctx := context.Background()

	_ = agg.Tick(ctx)
	b.set("600")
	_ = agg.Tick(ctx)
	if len(alertsIn(sink.drain())) != 0 {
		t.Fatal("未选中的源不应告警")
	}
	if st, _ := agg.State("b"); st.LastAlert.Valid {
		t.Fatal("未选中的源不应记录 lastAlert")
	}
}

func TestThresholdZeroDisablesAlerts(t *testing.T) {
	src := newFake("jd", "500")
	agg, sink := newTestAggregator(t, "0", Dependencies{}, src)

	_ = agg.Tick(context.Background())
	src.set("600")
	_ = agg.Tick(context.Background())
	if len(alertsIn(sink.drain())) != 0 {
		t.Fatal("阈值为 0 时应关闭告警")
	}
}

func TestCloseStopsEmission(t *testing.T) {
	agg, sink := newTestAggregator(t, "1.0", Dependencies{}, newFake("a", "1"), newFake("b", "2"))

	agg.Close()
	agg.Close()

	if err := agg.Tick(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("关闭后 Tick 应返回 ErrClosed, got %v", err)
	}
	agg.SwitchNext(context.Background())
	if evs := sink.drain(); len(evs) != 0 {
		t.Fatalf("关闭后不应再发出事件: %#v", evs)
	}
}

func TestTickCancelledEmitsNothing(t *testing.T) {
	agg, sink := newTestAggregator(t, "1.0", Dependencies{}, newFake("a", "1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := agg.Tick(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled, got %v", err)
	}
	if evs := sink.drain(); len(evs) != 0 {
		t.Fatalf("取消的 tick 不应发出事件: %#v", evs)
	}
}

type memoryJournal struct {
	mu      sync.Mutex
	samples []storage.PriceSample
	alerts  []storage.AlertRecord
}

func (m *memoryJournal) InsertSamples(_ context.Context, samples []storage.PriceSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, samples...)
	return nil
}

func (m *memoryJournal) ListRecentSamples(context.Context, string, int) ([]storage.PriceSample, error) {
	return nil, nil
}

func (m *memoryJournal) DeleteSamplesBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (m *memoryJournal) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *memoryJournal) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return nil, nil
}

type memoryMirror struct {
	points []fetcher.Point
}

func (m *memoryMirror) Publish(_ context.Context, points []fetcher.Point) error {
	m.points = points
	return nil
}

func TestTickJournalsSamplesAndAlerts(t *testing.T) {
	a := newFake("a", "500")
	b := newFake("b", "510")
	b.fail(errors.New("boom"))

	journal := &memoryJournal{}
	mirror := &memoryMirror{}
	agg, _ := newTestAggregator(t, "1.0", Dependencies{Samples: journal, Alerts: journal, Mirror: mirror}, a, b)
	ticks := []string{"tick-1", "tick-2"}
	agg.newTickID = func() string {
		id := ticks[0]
		ticks = ticks[1:]
		return id
	}

	_ = agg.Tick(context.Background())
	a.set("490")
	_ = agg.Tick(context.Background())

	if len(journal.samples) != 4 {
		t.Fatalf("每个 tick 应为每个源记录一条样本, got %d", len(journal.samples))
	}
	failed := journal.samples[1]
	if failed.SourceID != "b" || failed.Status != storage.SampleStatusFailed || failed.Error == nil || failed.Price.Valid {
		t.Fatalf("失败样本记录错误: %+v", failed)
	}

	if len(journal.alerts) != 1 {
		t.Fatalf("应记录 1 条告警, got %d", len(journal.alerts))
	}
	rec := journal.alerts[0]
	if rec.TickID != "tick-2" || rec.Direction != "down" || !rec.ChangePct.Equal(decimal.NewFromInt(-2)) {
		t.Fatalf("告警记录错误: %+v", rec)
	}

	if len(mirror.points) != 1 || !mirror.points[0].Value.Equal(decimal.NewFromInt(490)) {
		t.Fatalf("镜像应发布最新缓存: %+v", mirror.points)
	}
}

func TestOutcomeLabels(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&fetcher.FetchError{Kind: fetcher.ErrKindPriceNotFound}, "price_not_found"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("x"), "error"},
	}
	for _, tc := range cases {
		if got := outcome(tc.err); got != tc.want {
			t.Fatalf("outcome(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
