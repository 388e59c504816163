package layer

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"firestige.xyz/strouter/internal/addr"
)

var (
	ErrUnknownNode   = errors.New("unknown layer")
	ErrDuplicateNode = errors.New("layer already registered")
	ErrEmptyStack    = errors.New("wiring stack is empty")
	ErrNoIdentity    = errors.New("no identity for instance")
)

// Identity is the node that owns an interface's local addresses.
type Identity interface {
	Node
	MAC() addr.LinkAddress
	IP() addr.NetworkAddress
	// Interface is the name of the bound physical device.
	Interface() string
}

// Transmitter is implemented by the transports at the bottom of the graph.
// A transport ignores frames addressed to an instance other than its own.
type Transmitter interface {
	Transmit(instance int, frame []byte) error
}

// Receiver accepts bytes travelling up the graph.
type Receiver interface {
	Receive(instance int, data []byte)
}

// Registry maps identities to nodes and performs wiring. It is built once at
// start-up and passed to every layer that has to find its peers.
type Registry struct {
	mu    sync.RWMutex
	nodes map[ID]Node
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[ID]Node)}
}

// Put registers n. Registering the same identity twice fails.
func (r *Registry) Put(n Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[n.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID())
	}
	r.nodes[n.ID()] = n
	return nil
}

func (r *Registry) Lookup(id ID) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// Get returns nil when nothing is registered under (name, number).
func (r *Registry) Get(name string, number int) Node {
	n, _ := r.Lookup(ID{Name: name, Number: number})
	return n
}

// ByName lists the nodes registered under name ordered by number.
func (r *Registry) ByName(name string) []Node {
	r.mu.RLock()
	var nodes []Node
	for id, n := range r.nodes {
		if id.Name == name {
			nodes = append(nodes, n)
		}
	}
	r.mu.RUnlock()
	sortNodes(nodes)
	return nodes
}

func (r *Registry) All() []Node {
	r.mu.RLock()
	nodes := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, n)
	}
	r.mu.RUnlock()
	sortNodes(nodes)
	return nodes
}

func (r *Registry) Identity(instance int) (Identity, error) {
	n := r.Get(NameIdentity, instance)
	if n == nil {
		return nil, fmt.Errorf("%w %d", ErrNoIdentity, instance)
	}
	id, ok := n.(Identity)
	if !ok {
		return nil, fmt.Errorf("%w %d: %s does not carry addresses", ErrNoIdentity, instance, n.ID())
	}
	return id, nil
}

func (r *Registry) Identities() []Identity {
	var out []Identity
	for _, n := range r.ByName(NameIdentity) {
		if id, ok := n.(Identity); ok {
			out = append(out, id)
		}
	}
	return out
}

// Connect wires registered nodes from a whitespace separated description.
// The first token names the base node. "(" pushes the current node, ")" pops
// it, "+X" stacks X above the node on top of the stack and "-X" stacks X
// below it. Every attachment is made on both nodes and X becomes the current
// node.
//
//	Ethernet0 ( +ARP0 +IP0 ( -ARP0 +Router0 ) )
func (r *Registry) Connect(wiring string) error {
	tokens := strings.Fields(wiring)
	if len(tokens) == 0 {
		return &ParseError{Reason: "empty wiring"}
	}
	current, err := r.resolve(tokens[0], 1)
	if err != nil {
		return err
	}
	var stack []Node
	for i, tok := range tokens[1:] {
		pos := i + 2
		switch tok[0] {
		case '(':
			if tok != "(" {
				return &ParseError{Token: tok, Pos: pos, Reason: "expected a lone '('"}
			}
			stack = append(stack, current)
		case ')':
			if tok != ")" {
				return &ParseError{Token: tok, Pos: pos, Reason: "expected a lone ')'"}
			}
			if len(stack) == 0 {
				return fmt.Errorf("token %d: %w", pos, ErrEmptyStack)
			}
			stack = stack[:len(stack)-1]
		case '+', '-':
			if len(stack) == 0 {
				return fmt.Errorf("token %d %q: %w", pos, tok, ErrEmptyStack)
			}
			n, err := r.resolve(tok[1:], pos)
			if err != nil {
				return err
			}
			top := stack[len(stack)-1]
			if tok[0] == '+' {
				top.AddUpper(n)
				n.AddLower(top)
			} else {
				top.AddLower(n)
				n.AddUpper(top)
			}
			current = n
		default:
			return &ParseError{Token: tok, Pos: pos, Reason: fmt.Sprintf("unknown mode %q", tok[0])}
		}
	}
	return nil
}

func (r *Registry) resolve(tok string, pos int) (Node, error) {
	id, err := ParseID(tok)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Pos = pos
		}
		return nil, err
	}
	n, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("token %d: %w: %s", pos, ErrUnknownNode, id)
	}
	return n, nil
}
