// Package layer composes protocol layers into a graph. Every node is named by
// a (name, number) pair and keeps references to the nodes stacked above and
// below it.
package layer

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Well known node names.
const (
	NameTransport = "NI"
	NameEthernet  = "Ethernet"
	NameARP       = "ARP"
	NameIP        = "IP"
	NameRouter    = "Router"
	NameIdentity  = "Identity"
)

// ID identifies a node. Its text form is the name immediately followed by the
// decimal number, e.g. "Ethernet0".
type ID struct {
	Name   string
	Number int
}

func (id ID) String() string {
	return id.Name + strconv.Itoa(id.Number)
}

// ParseID splits "Ethernet12" into ("Ethernet", 12).
func ParseID(s string) (ID, error) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == 0 || i == len(s) {
		return ID{}, &ParseError{Token: s, Reason: "expected a name followed by a number"}
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return ID{}, &ParseError{Token: s, Reason: err.Error()}
	}
	return ID{Name: s[:i], Number: n}, nil
}

// Node is a vertex of the layer graph.
type Node interface {
	ID() ID

	AddUpper(n Node)
	AddLower(n Node)
	RemoveUpper(id ID)
	RemoveLower(id ID)

	// Upper and Lower return nil when no such neighbour exists.
	Upper(name string, number int) Node
	Lower(name string, number int) Node
	Uppers() []Node
	Lowers() []Node
}

// Base implements the neighbour bookkeeping of Node. Concrete layers embed a
// *Base.
type Base struct {
	id ID

	mu    sync.RWMutex
	upper map[string]map[int]Node
	lower map[string]map[int]Node
}

func NewBase(name string, number int) *Base {
	return &Base{
		id:    ID{Name: name, Number: number},
		upper: make(map[string]map[int]Node),
		lower: make(map[string]map[int]Node),
	}
}

func (b *Base) ID() ID { return b.id }

func (b *Base) String() string { return b.id.String() }

func (b *Base) AddUpper(n Node) { b.add(b.upper, n) }
func (b *Base) AddLower(n Node) { b.add(b.lower, n) }

func (b *Base) RemoveUpper(id ID) { b.remove(b.upper, id) }
func (b *Base) RemoveLower(id ID) { b.remove(b.lower, id) }

func (b *Base) Upper(name string, number int) Node { return b.get(b.upper, name, number) }
func (b *Base) Lower(name string, number int) Node { return b.get(b.lower, name, number) }

func (b *Base) Uppers() []Node { return b.list(b.upper) }
func (b *Base) Lowers() []Node { return b.list(b.lower) }

func (b *Base) add(m map[string]map[int]Node, n Node) {
	id := n.ID()
	b.mu.Lock()
	defer b.mu.Unlock()
	byNum, ok := m[id.Name]
	if !ok {
		byNum = make(map[int]Node)
		m[id.Name] = byNum
	}
	byNum[id.Number] = n
}

func (b *Base) remove(m map[string]map[int]Node, id ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if byNum, ok := m[id.Name]; ok {
		delete(byNum, id.Number)
		if len(byNum) == 0 {
			delete(m, id.Name)
		}
	}
}

func (b *Base) get(m map[string]map[int]Node, name string, number int) Node {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return m[name][number]
}

func (b *Base) list(m map[string]map[int]Node) []Node {
	b.mu.RLock()
	nodes := make([]Node, 0, len(m))
	for _, byNum := range m {
		for _, n := range byNum {
			nodes = append(nodes, n)
		}
	}
	b.mu.RUnlock()
	sortNodes(nodes)
	return nodes
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i].ID(), nodes[j].ID()
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Number < b.Number
	})
}

// ParseError is returned for malformed wiring text.
type ParseError struct {
	Token  string
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Pos > 0 {
		return fmt.Sprintf("wiring token %d %q: %s", e.Pos, e.Token, e.Reason)
	}
	return fmt.Sprintf("wiring token %q: %s", e.Token, e.Reason)
}
