package munbox

import "errors"

// Format constructors in detection order. SIT first so a bare .sit is not
// mistaken for anything else, SIT5 right behind it, then the transport
// envelopes, then Compact Pro. Each round restarts from the top so an
// envelope's payload gets the full list again.
var constructors = []struct {
	name  string
	build func(Layer) (Layer, error)
}{
	{"sit", NewSit},
	{"sit5", NewSit5},
	{"hqx", NewHQX},
	{"bin", NewBin},
	{"cpt", NewCpt},
}

// Process stacks format layers on top of l until no constructor recognizes
// the stream, and returns the top of the stack. An unrecognized raw stream
// is a valid result, not an error: the returned layer replays it from the
// start.
//
// Process takes ownership of l: the returned layer wraps it, and on error
// the partial stack (including l) is closed.
func Process(l Layer) (Layer, error) {
	cur := asPeek(l)
	for {
		matched := false
		for _, c := range constructors {
			next, err := c.build(cur)
			if errors.Is(err, ErrFormat) {
				continue
			}
			if err != nil {
				cur.Close()
				return nil, err
			}
			cur = asPeek(next)
			matched = true
			break
		}
		if !matched {
			return cur, nil
		}
	}
}
