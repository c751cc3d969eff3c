package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestPolling(url string, timeout time.Duration) *Polling {
	return NewPolling(PollingOptions{
		ID:      "zheshang",
		Name:    "浙商银行",
		URL:     url,
		Timeout: timeout,
		Headers: map[string]string{"User-Agent": "goldwatch-test"},
	}, noopLogger())
}

func TestPollingFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "goldwatch-test" {
			t.Errorf("请求头未透传: %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"data":{"price":"500.00"}}`))
	}))
	defer srv.Close()

	point, err := newTestPolling(srv.URL, time.Second).Fetch(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !point.Value.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("期望价格 500, 实际 %s", point.Value)
	}
	if point.SourceID != "zheshang" || point.Unit != UnitLocalPerGram {
		t.Fatalf("point 元数据不正确: %+v", point)
	}
	if point.ObservedAt.IsZero() {
		t.Fatal("ObservedAt 应被设置")
	}
}

func TestPollingFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := newTestPolling(srv.URL, time.Second).Fetch(context.Background())
	if !errors.Is(err, ErrHTTP) {
		t.Fatalf("HTTP 502 应返回 ErrHTTP, 实际 %v", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusBadGateway {
		t.Fatalf("应携带状态码 502: %v", err)
	}
}

func TestPollingFetchDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":`))
	}))
	defer srv.Close()

	_, err := newTestPolling(srv.URL, time.Second).Fetch(context.Background())
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("非法 JSON 应返回 ErrDecode, 实际 %v", err)
	}
}

func TestPollingFetchPriceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"list":[{"name":"gold"}]}}`))
	}))
	defer srv.Close()

	_, err := newTestPolling(srv.URL, time.Second).Fetch(context.Background())
	if !errors.Is(err, ErrPriceNotFound) {
		t.Fatalf("缺少价格字段应返回 ErrPriceNotFound, 实际 %v", err)
	}
}

func TestPollingFetchNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"data":{"price":"1"}}`))
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newTestPolling(srv.URL, 50*time.Millisecond).Fetch(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("超时应返回 ErrNetwork, 实际 %v", err)
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Fatal("fetch 不应超过配置的超时时间")
	}

	closed := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := closed.URL
	closed.Close()
	if _, err := newTestPolling(url, time.Second).Fetch(context.Background()); !errors.Is(err, ErrNetwork) {
		t.Fatalf("连接失败应返回 ErrNetwork, 实际 %v", err)
	}
}
