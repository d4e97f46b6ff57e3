package frontrun

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"
)

type Selector [4]byte

// SelectorOf returns the first four bytes of the Keccak-256 hash of a method signature.
func SelectorOf(signature string) Selector {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	var s Selector
	copy(s[:], h.Sum(nil))
	return s
}

// SelectorFromData extracts the selector from call data.
func SelectorFromData(data []byte) (Selector, bool) {
	var s Selector
	if len(data) < len(s) {
		return s, false
	}
	copy(s[:], data)
	return s, true
}

func (s Selector) String() string {
	return hexutil.Encode(s[:])
}

// Handler runs one frontrun session for an already decoded candidate.
type Handler interface {
	Handle(ctx context.Context) error
}

// HandlerFactory decodes a candidate into a Handler, decode failures wrap ErrDecode.
type HandlerFactory func(c Candidate) (Handler, error)

// Registry maps (router, selector) to the factory handling that method.
// It must be fully populated before dispatching starts.
type Registry struct {
	handlers map[common.Address]map[Selector]HandlerFactory
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[common.Address]map[Selector]HandlerFactory)}
}

func (r *Registry) Register(router common.Address, selector Selector, factory HandlerFactory) {
	methods, ok := r.handlers[router]
	if !ok {
		methods = make(map[Selector]HandlerFactory)
		r.handlers[router] = methods
	}
	methods[selector] = factory
}

func (r *Registry) IsRouter(address common.Address) bool {
	_, ok := r.handlers[address]
	return ok
}

func (r *Registry) Lookup(router common.Address, selector Selector) (HandlerFactory, bool) {
	factory, ok := r.handlers[router][selector]
	return factory, ok
}
