package fetcher

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// DefaultPricePaths are tried in order before falling back to the recursive search.
var DefaultPricePaths = []string{
	"data.resultData.datas.price",
	"data.price",
}

const priceKey = "price"

// ExtractPrice pulls a price out of an undocumented JSON body. Each gjson path in
// paths is tried in turn; when none yields a numeric value the document is searched
// depth-first for the first "price" key holding a number or numeric text.
func ExtractPrice(doc gjson.Result, paths []string) (decimal.Decimal, bool) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if d, ok := numericValue(doc.Get(path)); ok {
			return d, true
		}
	}
	return FindPrice(doc)
}

// FindPrice walks objects in key order and arrays in index order.
func FindPrice(v gjson.Result) (decimal.Decimal, bool) {
	var (
		found decimal.Decimal
		ok    bool
	)

	switch {
	case v.IsObject():
		v.ForEach(func(key, value gjson.Result) bool {
			if key.String() == priceKey {
				if d, isNum := numericValue(value); isNum {
					found, ok = d, true
					return false
				}
			}
			if value.IsObject() || value.IsArray() {
				found, ok = FindPrice(value)
				return !ok
			}
			return true
		})
	case v.IsArray():
		v.ForEach(func(_, value gjson.Result) bool {
			found, ok = FindPrice(value)
			return !ok
		})
	}

	return found, ok
}

func numericValue(v gjson.Result) (decimal.Decimal, bool) {
	var raw string
	switch v.Type {
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = strings.TrimSpace(v.Str)
	default:
		return decimal.Decimal{}, false
	}
	if raw == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
