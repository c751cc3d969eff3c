package fetcher

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestExtractPriceTiers(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"nested path", `{"data":{"resultData":{"datas":{"price":"612.30"}},"price":"1"}}`, "612.30"},
		{"shallow path", `{"code":0,"data":{"price":"500.00"}}`, "500.00"},
		{"numeric shallow", `{"data":{"price":501.5}}`, "501.5"},
		{"recursive", `{"result":[{"meta":{}},{"quote":{"price":" 498.1 "}}]}`, "498.1"},
		{"nested path not numeric", `{"data":{"resultData":{"datas":{"price":"--"}},"price":"497"}}`, "497"},
	}

	for _, tc := range cases {
		got, ok := ExtractPrice(gjson.Parse(tc.body), DefaultPricePaths)
		if !ok {
			t.Fatalf("%s: 未找到价格", tc.name)
		}
		if got.String() != mustDecimalString(t, tc.want) {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestFindPriceDepthFirstOrder(t *testing.T) {
	body := `{"a":{"b":[{"x":1},{"price":"12.5"}]},"price":99}`
	got, ok := FindPrice(gjson.Parse(body))
	if !ok || got.String() != "12.5" {
		t.Fatalf("应按键顺序深度优先返回 12.5, 实际 %s (ok=%v)", got, ok)
	}

	body = `{"price":"n/a","data":{"price":3}}`
	got, ok = FindPrice(gjson.Parse(body))
	if !ok || got.String() != "3" {
		t.Fatalf("非数值 price 应被跳过, 实际 %s", got)
	}

	body = `{"price":{"price":7}}`
	got, ok = FindPrice(gjson.Parse(body))
	if !ok || got.String() != "7" {
		t.Fatalf("对象类型的 price 应继续向下查找, 实际 %s", got)
	}

	body = `[[],[{"p":1}],[{"price":true},{"price":2}]]`
	got, ok = FindPrice(gjson.Parse(body))
	if !ok || got.String() != "2" {
		t.Fatalf("数组应按下标顺序查找, 实际 %s", got)
	}
}

func TestFindPriceMissing(t *testing.T) {
	for _, body := range []string{`{}`, `[]`, `{"data":{"value":1}}`, `"price"`, `42`} {
		if _, ok := FindPrice(gjson.Parse(body)); ok {
			t.Fatalf("%s 不应找到价格", body)
		}
	}
}

func mustDecimalString(t *testing.T, v string) string {
	t.Helper()
	got, ok := numericValue(gjson.Parse(`"` + v + `"`))
	if !ok {
		t.Fatalf("invalid decimal %q", v)
	}
	return got.String()
}
