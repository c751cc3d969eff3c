package events

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestColorFor(t *testing.T) {
	cases := map[string]ColorClass{
		"1.5":   ColorUp,
		"-0.01": ColorDown,
		"0":     ColorNeutral,
	}
	for in, want := range cases {
		if got := ColorFor(decimal.RequireFromString(in)); got != want {
			t.Fatalf("ColorFor(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestFanoutDeliversInOrder(t *testing.T) {
	var got []string
	record := func(name string) Sink {
		return SinkFunc(func(_ context.Context, ev Event) {
			got = append(got, name+":"+ev.EventSource())
		})
	}

	f := Fanout{record("a"), nil, record("b")}
	f.Handle(context.Background(), SourceUnavailable{SourceID: "jd"})

	if len(got) != 2 || got[0] != "a:jd" || got[1] != "b:jd" {
		t.Fatalf("分发顺序错误: %v", got)
	}
}

func TestAlertDirection(t *testing.T) {
	if (AlertRaised{ChangePercent: decimal.RequireFromString("-1.2")}).Direction() != "down" {
		t.Fatal("负变化应为 down")
	}
	if (AlertRaised{ChangePercent: decimal.RequireFromString("1.2")}).Direction() != "up" {
		t.Fatal("正变化应为 up")
	}
}
