package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// TagField holds the component tag. Console and chat output render it as a
// "[TAG]" prefix instead of a key=value pair.
const TagField = "comp"

// Field adds one key to an event. When a key repeats, the last write wins.
type Field func(e *zerolog.Event)

// Tag marks the component that produced the event.
func Tag(tag string) Field { return String(TagField, tag) }

func String(k, v string) Field           { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field          { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field      { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint32(k string, v uint32) Field    { return func(e *zerolog.Event) { e.Uint32(k, v) } }
func Uint64(k string, v uint64) Field    { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field        { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Time(k string, v time.Time) Field   { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field          { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}

// Err attaches err under "err". A nil error adds nothing.
func Err(err error) Field {
	if err == nil {
		return nil
	}
	return func(e *zerolog.Event) { e.Err(err) }
}

func applyFields(e *zerolog.Event, sets ...[]Field) {
	for _, fs := range sets {
		for _, f := range fs {
			if f != nil {
				f(e)
			}
		}
	}
}
