package graph

var (
	_ Store = (*WireStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Graph = (*WireClient)(nil)
	_ Graph = (*FakeGraph)(nil)
)
