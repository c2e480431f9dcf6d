package store

import (
	"fmt"
	"strings"
	"time"
)

// OpType enumerates transaction operation kinds.
type OpType int

const (
	OpCheck OpType = iota + 1
	OpPut
	OpDelete
	OpUpdate
)

func (t OpType) String() string {
	switch t {
	case OpCheck:
		return "check"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

type conditionKind int

const (
	condAlways conditionKind = iota
	condExists
	condNotExists
	condLive
	condAttrEquals
)

// Condition is a predicate on the current state of an operation's record.
type Condition struct {
	kind  conditionKind
	now   time.Time
	path  string
	value string
}

// Always is the empty condition.
var Always = Condition{}

// Exists holds when the record is present.
func Exists() Condition { return Condition{kind: condExists} }

// NotExists holds when the record is absent.
func NotExists() Condition { return Condition{kind: condNotExists} }

// Live holds when the record is present and its expiry is strictly after now.
// Records without expiry never satisfy Live.
func Live(now time.Time) Condition { return Condition{kind: condLive, now: now} }

// AttrEquals holds when the record is present and the string attribute at the
// dot-separated path equals value.
func AttrEquals(path, value string) Condition {
	return Condition{kind: condAttrEquals, path: path, value: value}
}

// IsAlways reports whether the condition is the empty condition.
func (c Condition) IsAlways() bool { return c.kind == condAlways }

// RequiresExisting reports whether the condition can only hold for a present record.
func (c Condition) RequiresExisting() bool {
	return c.kind == condExists || c.kind == condLive || c.kind == condAttrEquals
}

// RequiresAbsent reports whether the condition can only hold for an absent record.
func (c Condition) RequiresAbsent() bool { return c.kind == condNotExists }

// IsLive reports whether the condition checks expiry, and the cutoff it uses.
func (c Condition) IsLive() (time.Time, bool) { return c.now, c.kind == condLive }

// AttrEquality reports whether the condition compares an attribute, and the
// path and value it compares.
func (c Condition) AttrEquality() (path, value string, ok bool) {
	return c.path, c.value, c.kind == condAttrEquals
}

// Holds evaluates the condition against current, which is nil when absent.
func (c Condition) Holds(current *Record) bool {
	switch c.kind {
	case condExists:
		return current != nil
	case condNotExists:
		return current == nil
	case condLive:
		return current != nil && !current.ExpiresAt.IsZero() && current.ExpiresAt.After(c.now)
	case condAttrEquals:
		if current == nil {
			return false
		}
		got, ok := GetPath(current.Attributes, c.path).(string)
		return ok && got == c.value
	default:
		return true
	}
}

// Op is one operation of a transaction.
type Op struct {
	Tag    Tag
	Type   OpType
	Key    Key
	Cond   Condition
	Record *Record
	// Set maps dot-separated attribute paths to new values for OpUpdate.
	Set map[string]any
}

// Tx is an ordered list of operations committed all-or-nothing.
type Tx struct {
	ops []Op
}

// NewTx starts an empty transaction.
func NewTx() *Tx {
	return &Tx{}
}

// Check adds a condition check that mutates nothing.
func (t *Tx) Check(tag Tag, key Key, cond Condition) *Tx {
	t.ops = append(t.ops, Op{Tag: tag, Type: OpCheck, Key: key, Cond: cond})
	return t
}

// Put adds a full record write.
func (t *Tx) Put(tag Tag, record Record, cond Condition) *Tx {
	rec := record
	t.ops = append(t.ops, Op{Tag: tag, Type: OpPut, Key: record.Key, Cond: cond, Record: &rec})
	return t
}

// Delete adds a record removal.
func (t *Tx) Delete(tag Tag, key Key, cond Condition) *Tx {
	t.ops = append(t.ops, Op{Tag: tag, Type: OpDelete, Key: key, Cond: cond})
	return t
}

// Update adds a partial attribute update.
func (t *Tx) Update(tag Tag, key Key, set map[string]any, cond Condition) *Tx {
	t.ops = append(t.ops, Op{Tag: tag, Type: OpUpdate, Key: key, Cond: cond, Set: set})
	return t
}

// Ops returns the operations in submission order.
func (t *Tx) Ops() []Op {
	return t.ops
}

// Len returns the number of operations.
func (t *Tx) Len() int {
	return len(t.ops)
}

// Validate rejects transactions no backend could execute atomically.
func (t *Tx) Validate() error {
	if t == nil || len(t.ops) == 0 {
		return ErrEmptyTransaction
	}
	seen := make(map[Key]struct{}, len(t.ops))
	for i, op := range t.ops {
		if op.Key == "" {
			return fmt.Errorf("%w: operation %d (%s) has no key", ErrInvalidOperation, i, op.Tag)
		}
		if _, dup := seen[op.Key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, op.Key)
		}
		seen[op.Key] = struct{}{}

		if path, _, ok := op.Cond.AttrEquality(); ok && strings.Contains("."+path+".", "..") {
			return fmt.Errorf("%w: %q compares invalid attribute path %q", ErrInvalidOperation, op.Tag, path)
		}

		switch op.Type {
		case OpCheck:
			if op.Cond.IsAlways() {
				return fmt.Errorf("%w: check %q has no condition", ErrInvalidOperation, op.Tag)
			}
		case OpPut:
			if op.Record == nil {
				return fmt.Errorf("%w: put %q has no record", ErrInvalidOperation, op.Tag)
			}
		case OpUpdate:
			if len(op.Set) == 0 {
				return fmt.Errorf("%w: update %q sets nothing", ErrInvalidOperation, op.Tag)
			}
			if op.Cond.RequiresAbsent() {
				return fmt.Errorf("%w: update %q requires an absent record", ErrInvalidOperation, op.Tag)
			}
		case OpDelete:
		default:
			return fmt.Errorf("%w: operation %d has unknown type", ErrInvalidOperation, i)
		}
	}
	return nil
}

// Evaluate checks every operation's condition against the records read for
// it (nil for absent) and returns the failed tags in operation order.
func Evaluate(ops []Op, current []*Record) []Tag {
	var failed []Tag
	for i, op := range ops {
		if !op.Cond.Holds(current[i]) {
			failed = append(failed, op.Tag)
		}
	}
	return failed
}

// Apply computes the state of an operation's record after it runs. The
// returned record is nil when the record no longer exists. Check operations
// return current unchanged.
func Apply(op Op, current *Record) (*Record, error) {
	switch op.Type {
	case OpCheck:
		return current, nil
	case OpDelete:
		return nil, nil
	case OpPut:
		next := &Record{
			Key:        op.Key,
			Attributes: cloneAttributes(op.Record.Attributes),
			ExpiresAt:  op.Record.ExpiresAt,
		}
		return next, nil
	case OpUpdate:
		next := &Record{Key: op.Key, Attributes: map[string]any{}}
		if current != nil {
			next.Attributes = cloneAttributes(current.Attributes)
			next.ExpiresAt = current.ExpiresAt
		}
		for path, value := range op.Set {
			if err := SetPath(next.Attributes, path, value); err != nil {
				return nil, err
			}
		}
		return next, nil
	default:
		return nil, fmt.Errorf("%w: unknown operation type", ErrInvalidOperation)
	}
}

// SetPath assigns value at a dot-separated path, creating intermediate maps.
func SetPath(attrs map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("%w: invalid attribute path %q", ErrInvalidOperation, path)
		}
	}
	node := attrs
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
	return nil
}

// GetPath returns the value at a dot-separated path, or nil when any segment
// is missing.
func GetPath(attrs map[string]any, path string) any {
	parts := strings.Split(path, ".")
	node := attrs
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			return nil
		}
		node = child
	}
	return node[parts[len(parts)-1]]
}

func cloneAttributes(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		if nested, ok := v.(map[string]any); ok {
			dst[k] = cloneAttributes(nested)
			continue
		}
		dst[k] = v
	}
	return dst
}

// Keys returns the distinct keys touched by a transaction, in order.
func (t *Tx) Keys() []Key {
	keys := make([]Key, 0, len(t.ops))
	seen := map[Key]struct{}{}
	for _, op := range t.ops {
		if _, ok := seen[op.Key]; ok {
			continue
		}
		seen[op.Key] = struct{}{}
		keys = append(keys, op.Key)
	}
	return keys
}
