package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"goldwatch/internal/config"
	"goldwatch/internal/metrics"
)

func TestStartMetricsJoinsOnCancel(t *testing.T) {
	cfg := &config.Config{Metrics: config.MetricsConfig{Enabled: true, Addr: "127.0.0.1:0"}}
	a := NewApp(cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	a.startMetrics(ctx, metrics.New(), &wg)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("取消后指标服务应退出")
	}
}

func TestStartMetricsDisabled(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	var wg sync.WaitGroup
	a.startMetrics(context.Background(), nil, &wg)
	// 未启用时不应登记后台任务
	wg.Wait()
}
