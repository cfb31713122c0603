package vm

// patchSite is a single pending backpatch: Width bytes starting at Offset
// within Buf must be overwritten, big-endian, once the label they target is
// defined. A relative jump stores target-minus-base rather than the label's
// raw absolute offset (spec §4.7's relative-jump convention), so base is the
// byte offset of the jump instruction itself.
type patchSite struct {
	buf      []byte
	offset   int
	width    Width
	relative bool
	base     uint64
}

// labelTable is the label resolver of spec §4.6: a definition table plus a
// multimap of pending patch sites awaiting a not-yet-defined label.
type labelTable struct {
	defs    map[string]uint64
	pending map[string][]patchSite
}

func newLabelTable() *labelTable {
	return &labelTable{
		defs:    make(map[string]uint64),
		pending: make(map[string][]patchSite),
	}
}

// define installs ℓ → offset and immediately drains (patches) any sites
// registered against ℓ before it was defined. Redefining an already-defined
// label is a bug in the caller (spec invariant: no two labels share a name)
// and is reported rather than silently overwritten.
func (lt *labelTable) define(label string, offset uint64) error {
	if _, ok := lt.defs[label]; ok {
		return &CompileError{Kind: UnresolvedLabel, Label: label, What: "label redefined"}
	}
	lt.defs[label] = offset
	for _, site := range lt.pending[label] {
		patchSite0(site, offset)
	}
	delete(lt.pending, label)
	return nil
}

// setTarget patches immediately if label is already defined, else enqueues
// the site to be patched on a later define() call. base is the byte offset
// of the jump instruction itself, needed only for relative jumps.
func (lt *labelTable) setTarget(label string, buf []byte, offset int, w Width, relative bool, base uint64) {
	site := patchSite{buf: buf, offset: offset, width: w, relative: relative, base: base}
	if off, ok := lt.defs[label]; ok {
		patchSite0(site, off)
		return
	}
	lt.pending[label] = append(lt.pending[label], site)
}

func patchSite0(site patchSite, target uint64) {
	value := target
	if site.relative {
		value = target - site.base
	}
	packInto(site.buf[site.offset:site.offset+int(site.width)], Value{Width: site.width, Payload: int64(value)})
}

// unresolved returns the labels that still have pending patch sites — spec
// §4.9 step 4 / §3 "pending sites after finalization indicate a bug".
func (lt *labelTable) unresolved() []string {
	var out []string
	for label, sites := range lt.pending {
		if len(sites) > 0 {
			out = append(out, label)
		}
	}
	return out
}
