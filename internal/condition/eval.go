package condition

import (
	"context"
	"strings"

	"github.com/vireopay/dialog/internal/observability"
)

// Missing is the sentinel for an unresolved identifier or path. It compares
// unequal to every concrete value, is falsy under boolean coercion, and has
// special membership semantics: Missing(k) in map is true iff k is a key of
// the map.
type Missing struct {
	Path string
}

// Evaluator evaluates condition strings against a context mapping.
// Evaluation is total: any parse or evaluation failure yields false.
type Evaluator struct {
	logger *observability.Logger
}

// NewEvaluator creates an Evaluator. A nil logger disables warnings.
func NewEvaluator(logger *observability.Logger) *Evaluator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Evaluator{logger: logger}
}

// Evaluate returns the boolean value of the condition under ctx. An empty
// condition is vacuously true.
func (e *Evaluator) Evaluate(cond string, ctx map[string]any) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true
	}
	tokens, err := lex(cond)
	if err != nil {
		e.logger.Warn(context.Background(), "condition lex failed", "condition", cond, "error", err.Error())
		return false
	}
	ast, err := parse(tokens)
	if err != nil {
		e.logger.Warn(context.Background(), "condition parse failed", "condition", cond, "error", err.Error())
		return false
	}
	return truthy(e.eval(ast, ctx))
}

func (e *Evaluator) eval(node expr, ctx map[string]any) any {
	switch n := node.(type) {
	case literalExpr:
		return n.value
	case identExpr:
		if v, ok := lookupKey(ctx, n.name); ok {
			return v
		}
		return Missing{Path: n.name}
	case attrExpr:
		base := e.eval(n.base, ctx)
		if m, ok := base.(Missing); ok {
			return Missing{Path: m.Path + "." + n.name}
		}
		if mp, ok := asMap(base); ok {
			if v, ok := lookupKey(mp, n.name); ok {
				return v
			}
		}
		return Missing{Path: describePath(n.base) + "." + n.name}
	case indexExpr:
		base := e.eval(n.base, ctx)
		key := e.eval(n.key, ctx)
		if m, ok := base.(Missing); ok {
			return Missing{Path: m.Path + "[...]"}
		}
		if ks, ok := key.(string); ok {
			if mp, ok := asMap(base); ok {
				if v, ok := lookupKey(mp, ks); ok {
					return v
				}
			}
			return Missing{Path: describePath(n.base) + "[" + ks + "]"}
		}
		if kf, ok := toFloat(key); ok {
			if list, ok := asList(base); ok {
				idx := int(kf)
				if idx >= 0 && idx < len(list) {
					return list[idx]
				}
			}
		}
		return Missing{Path: describePath(n.base) + "[...]"}
	case listExpr:
		items := make([]any, 0, len(n.items))
		for _, item := range n.items {
			items = append(items, e.eval(item, ctx))
		}
		return items
	case mapExpr:
		result := make(map[string]any, len(n.keys))
		for i := range n.keys {
			key := e.eval(n.keys[i], ctx)
			ks, ok := key.(string)
			if !ok {
				continue
			}
			result[ks] = e.eval(n.values[i], ctx)
		}
		return result
	case notExpr:
		return !truthy(e.eval(n.operand, ctx))
	case binaryExpr:
		switch n.op {
		case "and":
			left := e.eval(n.left, ctx)
			if !truthy(left) {
				return left
			}
			return e.eval(n.right, ctx)
		case "or":
			left := e.eval(n.left, ctx)
			if truthy(left) {
				return left
			}
			return e.eval(n.right, ctx)
		}
		left := e.eval(n.left, ctx)
		right := e.eval(n.right, ctx)
		switch n.op {
		case "==", "is":
			return equal(left, right)
		case "!=", "is not":
			return !equal(left, right)
		case "<", "<=", ">", ">=":
			return ordered(n.op, left, right)
		case "in":
			return contains(left, right)
		case "not in":
			return !contains(left, right)
		}
		return false
	}
	return false
}

// describePath renders the static path of an expression for Missing tracking.
func describePath(node expr) string {
	switch n := node.(type) {
	case identExpr:
		return n.name
	case attrExpr:
		return describePath(n.base) + "." + n.name
	case indexExpr:
		return describePath(n.base) + "[...]"
	default:
		return "<expr>"
	}
}

// ResolvePath resolves a dotted path against ctx with snake/camel-case
// fallback at every segment. The template renderer shares this resolver.
func ResolvePath(ctx map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = ctx
	for _, segment := range segments {
		mp, ok := asMap(current)
		if !ok {
			return nil, false
		}
		value, ok := lookupKey(mp, segment)
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}

// lookupKey finds key in m, trying the exact name, then the snake/camel
// counterpart, then an underscore-insensitive case-insensitive match.
func lookupKey(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	if alt := snakeToCamel(key); alt != key {
		if v, ok := m[alt]; ok {
			return v, true
		}
	}
	if alt := camelToSnake(key); alt != key {
		if v, ok := m[alt]; ok {
			return v, true
		}
	}
	want := normalizeKey(key)
	for k, v := range m {
		if normalizeKey(k) == want {
			return v, true
		}
	}
	return nil, false
}

func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var sb strings.Builder
	sb.WriteString(parts[0])
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(part[:1]))
		sb.WriteString(part[1:])
	}
	return sb.String()
}

func camelToSnake(s string) string {
	var sb strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r - 'A' + 'a')
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// truthy implements boolean coercion. Missing, nil, zero numbers, empty
// strings, and empty containers are falsy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case Missing:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}

// equal compares values. Missing compares unequal to every concrete value
// and equal to nil/null ("is null" on a missing path holds).
func equal(a, b any) bool {
	_, aMissing := a.(Missing)
	_, bMissing := b.(Missing)
	if aMissing || bMissing {
		other := a
		if aMissing {
			other = b
		}
		if aMissing && bMissing {
			return false
		}
		return other == nil
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
		return false
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
		return false
	}
	if al, ok := asList(a); ok {
		bl, ok := asList(b)
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !equal(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	if am, ok := asMap(a); ok {
		bm, ok := asMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// ordered compares with < <= > >=. Missing or incomparable operands yield
// false.
func ordered(op string, a, b any) bool {
	if _, ok := a.(Missing); ok {
		return false
	}
	if _, ok := b.(Missing); ok {
		return false
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return orderedFloat(op, af, bf)
		}
		return false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch op {
		case "<":
			return as < bs
		case "<=":
			return as <= bs
		case ">":
			return as > bs
		case ">=":
			return as >= bs
		}
	}
	return false
}

func orderedFloat(op string, a, b float64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}

// contains implements "x in container". For maps the membership test is over
// keys; Missing(k) in map is true iff the map has key k (last path segment).
func contains(needle, haystack any) bool {
	if _, ok := haystack.(Missing); ok {
		return false
	}
	if mp, ok := asMap(haystack); ok {
		key := ""
		switch n := needle.(type) {
		case Missing:
			segments := strings.Split(n.Path, ".")
			key = segments[len(segments)-1]
		case string:
			key = n
		default:
			return false
		}
		_, found := lookupKey(mp, key)
		return found
	}
	if _, ok := needle.(Missing); ok {
		return false
	}
	if list, ok := asList(haystack); ok {
		for _, item := range list {
			if equal(needle, item) {
				return true
			}
		}
		return false
	}
	if hs, ok := haystack.(string); ok {
		ns, ok := needle.(string)
		return ok && strings.Contains(hs, ns)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
