package state

import "encoding/json"

// applyPatch applies one structural edit against the conversation
// document and returns the (possibly replaced) root. A path that does
// not exist in the document makes the patch a no-op: arrival order over
// the wire is not guaranteed, so an inapplicable edit is absorbed
// rather than raised.
func applyPatch(doc any, patch Patch) any {
	var value any
	if len(patch.Value) > 0 {
		if err := json.Unmarshal(patch.Value, &value); err != nil {
			return doc
		}
	}
	return applyOp(doc, patch.Op, patch.Path, value)
}

func applyOp(node any, op string, path []Segment, value any) any {
	if len(path) == 0 {
		switch op {
		case OpAdd, OpReplace:
			return value
		default:
			return node
		}
	}

	seg := path[0]
	switch container := node.(type) {
	case map[string]any:
		if seg.IsIndex {
			return node
		}
		if len(path) > 1 {
			child, ok := container[seg.Key]
			if !ok {
				return node
			}
			container[seg.Key] = applyOp(child, op, path[1:], value)
			return node
		}
		switch op {
		case OpAdd:
			container[seg.Key] = value
		case OpReplace:
			if _, ok := container[seg.Key]; ok {
				container[seg.Key] = value
			}
		case OpRemove:
			delete(container, seg.Key)
		}
		return node

	case []any:
		if !seg.IsIndex {
			return node
		}
		i := seg.Index
		if len(path) > 1 {
			if i < 0 || i >= len(container) {
				return node
			}
			container[i] = applyOp(container[i], op, path[1:], value)
			return node
		}
		switch op {
		case OpAdd:
			// Insertion shifts subsequent elements; appending at len is
			// allowed, like JSON Patch's "-" position.
			if i < 0 || i > len(container) {
				return node
			}
			container = append(container, nil)
			copy(container[i+1:], container[i:])
			container[i] = value
			return container
		case OpReplace:
			if i < 0 || i >= len(container) {
				return node
			}
			container[i] = value
			return container
		case OpRemove:
			if i < 0 || i >= len(container) {
				return node
			}
			return append(container[:i], container[i+1:]...)
		}
		return container

	default:
		return node
	}
}
