package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNilStoreNotConfigured(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if err := s.EnsureSchema(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("EnsureSchema 应返回 ErrNotConfigured, got %v", err)
	}
	if err := s.InsertSamples(ctx, []PriceSample{{SourceID: "a"}}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("InsertSamples 应返回 ErrNotConfigured, got %v", err)
	}
	if _, err := s.ListRecentSamples(ctx, "", 10); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("ListRecentSamples 应返回 ErrNotConfigured, got %v", err)
	}
	if _, err := s.DeleteSamplesBefore(ctx, time.Now()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("DeleteSamplesBefore 应返回 ErrNotConfigured, got %v", err)
	}
	if _, err := s.InsertAlert(ctx, AlertRecord{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("InsertAlert 应返回 ErrNotConfigured, got %v", err)
	}
	if _, err := s.ListRecentAlerts(ctx, 10); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("ListRecentAlerts 应返回 ErrNotConfigured, got %v", err)
	}
	s.Close()
}

func TestNullableDecimal(t *testing.T) {
	if v := nullableDecimal(decimal.NullDecimal{}); v != nil {
		t.Fatalf("无效值应写入 NULL, got %v", v)
	}
	if v := nullableDecimal(decimal.NewNullDecimal(decimal.RequireFromString("612.35"))); v != "612.35" {
		t.Fatalf("应写入十进制字符串, got %v", v)
	}
}

func TestParseNullDecimal(t *testing.T) {
	d, err := parseNullDecimal(sql.NullString{})
	if err != nil || d.Valid {
		t.Fatalf("NULL 应解析为无效值: %v %v", d, err)
	}

	d, err = parseNullDecimal(sql.NullString{String: "7.123400", Valid: true})
	if err != nil || !d.Valid || !d.Decimal.Equal(decimal.RequireFromString("7.1234")) {
		t.Fatalf("解析错误: %v %v", d, err)
	}

	if _, err := parseNullDecimal(sql.NullString{String: "abc", Valid: true}); err == nil {
		t.Fatal("非法数字应报错")
	}
}
