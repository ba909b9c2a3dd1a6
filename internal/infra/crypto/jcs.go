package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"certnode/internal/domain"
)

// maxCanonicalDepth bounds nesting so hostile payloads cannot exhaust the stack.
const maxCanonicalDepth = 256

// CanonicalizeJSON re-encodes a JSON document in RFC 8785 form. Input that
// cannot be represented without loss (invalid UTF-8, numbers outside float64
// precision) is rejected.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	if !utf8.Valid(input) {
		return nil, fmt.Errorf("%w: invalid UTF-8", domain.ErrInvalidPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidPayload, err)
	}
	if err := ensureEOF(dec); err != nil {
		return nil, err
	}

	return encode(value)
}

// CanonicalizeAny canonicalizes a Go value. Typed values, at the top level or
// nested in maps and slices, go through encoding/json so their json tags
// decide field names.
func CanonicalizeAny(v any) ([]byte, error) {
	switch value := v.(type) {
	case json.RawMessage:
		return CanonicalizeJSON([]byte(value))
	case []byte:
		return CanonicalizeJSON(value)
	default:
		return encode(value)
	}
}

// toJSONValue converts a typed Go value into the generic form produced by a
// UseNumber decoder. Strings are checked first because encoding/json would
// replace invalid UTF-8 with U+FFFD.
func toJSONValue(v any) (any, error) {
	if err := checkUTF8(reflect.ValueOf(v), 0); err != nil {
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return out, nil
}

func checkUTF8(v reflect.Value, depth int) error {
	if depth > maxCanonicalDepth {
		return fmt.Errorf("%w: nesting exceeds %d levels", domain.ErrInvalidPayload, maxCanonicalDepth)
	}
	switch v.Kind() {
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return fmt.Errorf("%w: invalid UTF-8 in string", domain.ErrInvalidPayload)
		}
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return checkUTF8(v.Elem(), depth+1)
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if f := t.Field(i); !f.IsExported() && !f.Anonymous {
				continue
			}
			if err := checkUTF8(v.Field(i), depth+1); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkUTF8(v.Index(i), depth+1); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkUTF8(iter.Key(), depth+1); err != nil {
				return err
			}
			if err := checkUTF8(iter.Value(), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func encode(value any) ([]byte, error) {
	w := &canonicalWriter{
		buf:      &bytes.Buffer{},
		visiting: map[uintptr]struct{}{},
	}
	if err := w.write(value, 0); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

func ensureEOF(dec *json.Decoder) error {
	var extra any
	if err := dec.Decode(&extra); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidPayload, err)
	}
	return fmt.Errorf("%w: invalid JSON: trailing data", domain.ErrInvalidPayload)
}

type canonicalWriter struct {
	buf      *bytes.Buffer
	visiting map[uintptr]struct{}
}

func (w *canonicalWriter) write(value any, depth int) error {
	if depth > maxCanonicalDepth {
		return fmt.Errorf("%w: nesting exceeds %d levels", domain.ErrInvalidPayload, maxCanonicalDepth)
	}
	buf := w.buf
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		if !utf8.ValidString(v) {
			return fmt.Errorf("%w: invalid UTF-8 in string", domain.ErrInvalidPayload)
		}
		writeString(buf, v)
	case json.Number:
		num, err := canonicalizeNumberString(v.String())
		if err != nil {
			return err
		}
		buf.WriteString(num)
	case float64:
		num, err := canonicalizeFloat(v)
		if err != nil {
			return err
		}
		buf.WriteString(num)
	case float32:
		num, err := canonicalizeFloat(float64(v))
		if err != nil {
			return err
		}
		buf.WriteString(num)
	case int:
		return w.writeInteger(strconv.FormatInt(int64(v), 10))
	case int8:
		return w.writeInteger(strconv.FormatInt(int64(v), 10))
	case int16:
		return w.writeInteger(strconv.FormatInt(int64(v), 10))
	case int32:
		return w.writeInteger(strconv.FormatInt(int64(v), 10))
	case int64:
		return w.writeInteger(strconv.FormatInt(v, 10))
	case uint:
		return w.writeInteger(strconv.FormatUint(uint64(v), 10))
	case uint8:
		return w.writeInteger(strconv.FormatUint(uint64(v), 10))
	case uint16:
		return w.writeInteger(strconv.FormatUint(uint64(v), 10))
	case uint32:
		return w.writeInteger(strconv.FormatUint(uint64(v), 10))
	case uint64:
		return w.writeInteger(strconv.FormatUint(v, 10))
	case map[string]any:
		return w.writeObject(v, depth)
	case []any:
		return w.writeArray(v, depth)
	default:
		generic, err := toJSONValue(value)
		if err != nil {
			return err
		}
		return w.write(generic, depth+1)
	}
	return nil
}

// writeInteger emits an integer through the number path so values beyond
// 2^53 are rejected instead of rounded.
func (w *canonicalWriter) writeInteger(literal string) error {
	num, err := canonicalizeNumberString(literal)
	if err != nil {
		return err
	}
	w.buf.WriteString(num)
	return nil
}

func (w *canonicalWriter) enter(ref any) (uintptr, error) {
	ptr := reflect.ValueOf(ref).Pointer()
	if ptr == 0 {
		return 0, nil
	}
	if _, ok := w.visiting[ptr]; ok {
		return 0, fmt.Errorf("%w: cyclic reference", domain.ErrInvalidPayload)
	}
	w.visiting[ptr] = struct{}{}
	return ptr, nil
}

func (w *canonicalWriter) leave(ptr uintptr) {
	if ptr != 0 {
		delete(w.visiting, ptr)
	}
}

func (w *canonicalWriter) writeObject(obj map[string]any, depth int) error {
	ptr, err := w.enter(obj)
	if err != nil {
		return err
	}
	defer w.leave(ptr)

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return utf16Less(keys[i], keys[j])
	})

	w.buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		if !utf8.ValidString(k) {
			return fmt.Errorf("%w: invalid UTF-8 in object key", domain.ErrInvalidPayload)
		}
		writeString(w.buf, k)
		w.buf.WriteByte(':')
		if err := w.write(obj[k], depth+1); err != nil {
			return err
		}
	}
	w.buf.WriteByte('}')
	return nil
}

func (w *canonicalWriter) writeArray(arr []any, depth int) error {
	if len(arr) > 0 {
		ptr, err := w.enter(arr)
		if err != nil {
			return err
		}
		defer w.leave(ptr)
	}

	w.buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			w.buf.WriteByte(',')
		}
		if err := w.write(item, depth+1); err != nil {
			return err
		}
	}
	w.buf.WriteByte(']')
	return nil
}

// utf16Less orders object keys by UTF-16 code units as RFC 8785 requires.
func utf16Less(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	for i := 0; i < len(ra) && i < len(rb); i++ {
		ua, ub := utf16Units(ra[i]), utf16Units(rb[i])
		for j := 0; j < len(ua) && j < len(ub); j++ {
			if ua[j] != ub[j] {
				return ua[j] < ub[j]
			}
		}
		if len(ua) != len(ub) {
			return len(ua) < len(ub)
		}
	}
	return len(ra) < len(rb)
}

func utf16Units(r rune) []uint16 {
	if r < 0x10000 {
		return []uint16{uint16(r)}
	}
	r -= 0x10000
	return []uint16{uint16(0xd800 + (r >> 10)), uint16(0xdc00 + (r & 0x3ff))}
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")

func canonicalizeNumberString(number string) (string, error) {
	f, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid JSON number: %v", domain.ErrInvalidPayload, err)
	}
	if !exactFloat(number, f) {
		return "", fmt.Errorf("%w: number %s is not exactly representable as a 64-bit float", domain.ErrInvalidPayload, number)
	}
	return canonicalizeFloat(f)
}

// exactFloat reports whether literal denotes the same decimal value as the
// shortest round-trip form of f.
func exactFloat(literal string, f float64) bool {
	if f == 0 {
		mantissa := literal
		if i := strings.IndexAny(literal, "eE"); i >= 0 {
			mantissa = literal[:i]
		}
		return strings.Trim(mantissa, "+-0.") == ""
	}
	want, ok := new(big.Rat).SetString(literal)
	if !ok {
		return false
	}
	got, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
	return ok && want.Cmp(got) == 0
}

func canonicalizeFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: non-finite number", domain.ErrInvalidPayload)
	}
	if f == 0 {
		return "0", nil
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = math.Abs(f)
	}

	mantissa, exp, err := splitScientific(f)
	if err != nil {
		return "", err
	}

	digits := strings.ReplaceAll(mantissa, ".", "")

	if exp <= -7 || exp >= 21 {
		expStr := strconv.Itoa(exp)
		if exp > 0 {
			expStr = "+" + expStr
		}
		if len(digits) == 1 {
			return sign + digits + "e" + expStr, nil
		}
		return sign + digits[:1] + "." + digits[1:] + "e" + expStr, nil
	}

	point := exp + 1
	if point >= len(digits) {
		return sign + digits + strings.Repeat("0", point-len(digits)), nil
	}
	if point <= 0 {
		return sign + "0." + strings.Repeat("0", -point) + digits, nil
	}
	return sign + digits[:point] + "." + digits[point:], nil
}

func splitScientific(f float64) (string, int, error) {
	s := strconv.FormatFloat(f, 'e', -1, 64)
	parts := strings.SplitN(s, "e", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("invalid float format: %q", s)
	}
	exp, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid float exponent: %w", err)
	}
	return parts[0], exp, nil
}
