package workflow

import "maps"

// Context is the mutable key-value payload threaded through the steps of one
// execution. Steps receive a copy and return a partial update that the engine
// merges; it is snapshotted into the execution metadata after every step.
//
// Keys are a contract by convention. The ones the engine and the digest steps
// agree on:
//
//	should_stop        bool      request a cooperative stop before the next step
//	stop_reason        string    machine-readable stop cause, e.g. "no_update"
//	message            string    human-readable stop explanation
//	force              bool      run even when no new announcement exists
//	categories         []string  archive categories to crawl
//	announcement_date  string    announcement day being processed (YYYY-MM-DD)
//	has_update         bool      set by check_update
//	user_ids           []string  restrict personalised steps to these users
//
// Values restored from storage went through JSON, so numbers come back as
// float64 and lists as []any; use the typed accessors below.
type Context map[string]any

// Context keys shared by the engine and the steps.
const (
	KeyShouldStop       = "should_stop"
	KeyStopReason       = "stop_reason"
	KeyMessage          = "message"
	KeyForce            = "force"
	KeyCategories       = "categories"
	KeyAnnouncementDate = "announcement_date"
	KeyHasUpdate        = "has_update"
	KeyUserIDs          = "user_ids"
)

// Clone returns a shallow copy.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	maps.Copy(out, c)

	return out
}

// Merge copies every key of update into c.
func (c Context) Merge(update Context) {
	maps.Copy(c, update)
}

// Bool reads a boolean key; missing or mistyped keys are false.
func (c Context) Bool(key string) bool {
	v, _ := c[key].(bool)

	return v
}

// String reads a string key.
func (c Context) String(key string) string {
	v, _ := c[key].(string)

	return v
}

// Int reads an integer key stored either natively or as a JSON number.
func (c Context) Int(key string) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Strings reads a list-of-strings key stored as []string or []any.
func (c Context) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

// ShouldStop reports whether a step asked for a cooperative stop.
func (c Context) ShouldStop() bool {
	return c.Bool(KeyShouldStop)
}

// Stop builds the partial update a step returns to end the run early.
func Stop(reason, message string) Context {
	return Context{KeyShouldStop: true, KeyStopReason: reason, KeyMessage: message}
}
