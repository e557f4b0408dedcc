package logging

import (
	"fmt"
	"time"
)

func String(key, value string) Field             { return Field{Key: key, Value: value} }
func Int(key string, value int) Field            { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field        { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field    { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field          { return Field{Key: key, Value: value} }
func Any(key string, value any) Field            { return Field{Key: key, Value: value} }
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d.String()} }

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Domain field helpers

func Component(name string) Field   { return String("component", name) }
func Session(id string) Field       { return String("session", id) }
func EntityID(id int64) Field       { return Int64("entity_id", id) }
func ParentID(id int64) Field       { return Int64("parent_id", id) }
func Topic(name string) Field       { return String("topic", name) }
func Kind(name string) Field        { return String("kind", name) }
func State(name string) Field       { return String("state", name) }
func Batch(index int) Field         { return Int("batch", index) }
func Count(n int) Field             { return Int("count", n) }
func Latency(d time.Duration) Field { return Duration("latency", d) }

// Pair formats an ordered link endpoint pair as "src->dst"
func Pair(src, dst int64) Field {
	return String("pair", fmt.Sprintf("%d->%d", src, dst))
}
