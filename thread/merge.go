package thread

import "reflect"

// overlay copies every non-zero field of src onto a copy of dst and
// returns it. Used to implement the three-level precedence spec.md §4.7
// describes for query/CRDT/data/license parameter objects: per-call
// overlays thread defaults, which overlay the template, and a field only
// takes effect once it is actually set (non-zero) in some layer —
// "empty byte strings ... allowed to be overwritten by non-empty values
// only in this direction" falls straight out of that rule for []byte
// fields the same as it does for any other zero value.
func overlay[T any](dst T, src T) T {
	dv := reflect.ValueOf(&dst).Elem()
	sv := reflect.ValueOf(src)
	for i := 0; i < sv.NumField(); i++ {
		sf := sv.Field(i)
		if sf.IsZero() {
			continue
		}
		dv.Field(i).Set(sf)
	}
	return dst
}

// merge3 applies template, then defaults, then perCall in that order,
// each layer overriding only the fields it actually sets.
func merge3[T any](template, defaults, perCall T) T {
	return overlay(overlay(template, defaults), perCall)
}
