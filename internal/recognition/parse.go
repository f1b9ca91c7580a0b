package recognition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Parse validates the text of a model response. Required fields that are
// missing or of the wrong type produce a ParseError; unknown fields are
// ignored.
func Parse(raw string) (*Result, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return nil, &ParseError{Reason: "empty response"}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}

	res := &Result{Raw: raw}
	var err error

	if res.MerchantName, err = getString(obj, "merchant_name"); err != nil {
		return nil, err
	}
	if res.Date, err = getString(obj, "date"); err != nil {
		return nil, err
	}
	if res.TotalAmount, err = getAmount(obj, "total_amount"); err != nil {
		return nil, err
	}
	if res.Currency, err = getOptionalString(obj, "currency"); err != nil {
		return nil, err
	}
	res.Currency = strings.ToUpper(res.Currency)
	if res.PaymentAccountName, err = getOptionalString(obj, "payment_account_name"); err != nil {
		return nil, err
	}
	if res.Tax, err = getOptionalAmount(obj, "tax"); err != nil {
		return nil, err
	}
	if res.Confidence, err = getOptionalFloat(obj, "confidence"); err != nil {
		return nil, err
	}

	itemsAny, ok := obj["items"]
	if !ok {
		return nil, &ParseError{Field: "items", Reason: "missing"}
	}
	list, ok := itemsAny.([]any)
	if !ok {
		return nil, &ParseError{Field: "items", Reason: fmt.Sprintf("has type %s, want array", jsonType(itemsAny))}
	}

	res.Items = make([]Item, 0, len(list))
	for i, v := range list {
		item, err := parseItem(v)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Field = strings.TrimSuffix(fmt.Sprintf("items[%d].%s", i, pe.Field), ".")
			}
			return nil, err
		}
		res.Items = append(res.Items, item)
	}

	return res, nil
}

func parseItem(v any) (Item, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Item{}, &ParseError{Reason: fmt.Sprintf("has type %s, want object", jsonType(v))}
	}

	var (
		item Item
		err  error
	)
	if item.Name, err = getString(obj, "name"); err != nil {
		return Item{}, err
	}
	if item.CategoryName, err = getString(obj, "category_name"); err != nil {
		return Item{}, err
	}
	if item.Price, err = getAmount(obj, "price"); err != nil {
		return Item{}, err
	}
	if item.Purpose, err = getOptionalString(obj, "purpose"); err != nil {
		return Item{}, err
	}
	if item.IsAsset, err = getOptionalBool(obj, "is_asset"); err != nil {
		return Item{}, err
	}
	if item.Confidence, err = getOptionalFloat(obj, "confidence"); err != nil {
		return Item{}, err
	}
	return item, nil
}

// cleanModelJSON strips Markdown fences and any chatter around the outer
// JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return ""
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

func getString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", &ParseError{Field: key, Reason: "missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ParseError{Field: key, Reason: fmt.Sprintf("has type %s, want string", jsonType(v))}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ParseError{Field: key, Reason: "empty"}
	}
	return s, nil
}

func getOptionalString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ParseError{Field: key, Reason: fmt.Sprintf("has type %s, want string or null", jsonType(v))}
	}
	return strings.TrimSpace(s), nil
}

// getAmount accepts a JSON number or a string. Strings are kept as written
// so the reconciler can reject them field by field.
func getAmount(m map[string]any, key string) (Amount, error) {
	v, ok := m[key]
	if !ok {
		return "", &ParseError{Field: key, Reason: "missing"}
	}
	switch val := v.(type) {
	case json.Number:
		return Amount(val.String()), nil
	case string:
		return Amount(strings.TrimSpace(val)), nil
	default:
		return "", &ParseError{Field: key, Reason: fmt.Sprintf("has type %s, want number", jsonType(v))}
	}
}

func getOptionalAmount(m map[string]any, key string) (*Amount, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	a, err := getAmount(m, key)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func getOptionalFloat(m map[string]any, key string) (*float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return nil, &ParseError{Field: key, Reason: fmt.Sprintf("has type %s, want number or null", jsonType(v))}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, &ParseError{Field: key, Reason: err.Error()}
	}
	return &f, nil
}

func getOptionalBool(m map[string]any, key string) (*bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, &ParseError{Field: key, Reason: fmt.Sprintf("has type %s, want boolean or null", jsonType(v))}
	}
	return &b, nil
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
