package ot

// Transform adjusts op for the effect of a concurrent operation that was
// resolved before it (resolution order is server-arrival order). It is pure:
// neither argument is mutated, the adjusted copy is returned.
//
// Rules:
//   - insert vs earlier insert: an earlier insert at or before op's position
//     shifts op right by the inserted length (ties favor the earlier arrival).
//   - delete vs earlier insert: same shift rule as above.
//   - insert vs earlier delete: an insert at or past the deleted range shifts
//     left by the deleted length; an insert inside the range clamps to the
//     range start — the text it targeted no longer exists.
//   - delete vs earlier delete: both endpoints are mapped through the earlier
//     delete's collapse, so an overlapping span is removed exactly once and
//     the length never goes negative.
func Transform(op, earlier Operation) Operation {
	switch {
	case earlier.Kind == Insert:
		if earlier.Position <= op.Position {
			op.Position += len(earlier.Content)
		}
	case earlier.Kind == Delete && op.Kind == Insert:
		switch {
		case op.Position >= earlier.End():
			op.Position -= earlier.Length
		case op.Position > earlier.Position:
			op.Position = earlier.Position
		}
	case earlier.Kind == Delete && op.Kind == Delete:
		start := collapse(op.Position, earlier)
		end := collapse(op.End(), earlier)
		op.Position = start
		op.Length = end - start
	}
	return op
}

// collapse maps a document offset through an earlier delete: offsets past
// the deleted span shift left, offsets inside it land on the span start.
func collapse(pos int, del Operation) int {
	switch {
	case pos <= del.Position:
		return pos
	case pos >= del.End():
		return pos - del.Length
	default:
		return del.Position
	}
}
