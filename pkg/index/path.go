package index

// Path locates a single item by its storage address: an object key, a
// primary key, a file path. Reads through a Path yield the item
// itself, not a one-item list.
type Path string

func (Path) Kind() Kind    { return KindPath }
func (Path) searchIndex() {}

func (p Path) String() string { return string(p) }
