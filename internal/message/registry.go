// Package message provides the application message decoders that the
// dispatcher binds to transport ports, and the registry they are built from.
package message

import (
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/pcap-analyser/internal/config"
	"firestige.xyz/pcap-analyser/internal/core"
	"firestige.xyz/pcap-analyser/internal/core/decoder"
	"firestige.xyz/pcap-analyser/internal/log"
)

// Factory builds a message decoder from its dispatch options.
type Factory func(options map[string]any, logger log.Logger) (decoder.MessageDecoder, error)

// Registry maps decoder names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("message decoder '%s' already registered", name)
	}
	r.factories[name] = f
	return nil
}

// New builds the named decoder.
func (r *Registry) New(name string, options map[string]any, logger log.Logger) (decoder.MessageDecoder, error) {
	r.mu.RLock()
	f, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: '%s'", core.ErrDecoderNotFound, name)
	}
	return f(options, logger)
}

// Names lists registered decoders in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildDispatcher builds every configured binding. Any invalid binding
// fails the whole table.
func (r *Registry) BuildDispatcher(bindings []config.DispatchConfig, logger log.Logger) (*decoder.Dispatcher, error) {
	d := decoder.NewDispatcher()
	for i, b := range bindings {
		transport, err := core.ParseTransport(b.Transport)
		if err != nil {
			return nil, fmt.Errorf("decoder.dispatch[%d]: %w", i, err)
		}
		md, err := r.New(b.Decoder, b.Options, logger)
		if err != nil {
			return nil, fmt.Errorf("decoder.dispatch[%d]: %w", i, err)
		}
		d.Register(transport, b.Port, md)
		logger.WithFields(map[string]interface{}{
			"transport": transport.String(),
			"port":      b.Port,
			"decoder":   md.Name(),
		}).Debug("Message decoder bound")
	}
	return d, nil
}

var defaultRegistry = NewRegistry()

func init() {
	if err := defaultRegistry.Register(LayoutName, NewLayout); err != nil {
		panic(err)
	}
}

// Register adds a factory to the default registry.
func Register(name string, f Factory) error {
	return defaultRegistry.Register(name, f)
}

// New builds a decoder from the default registry.
func New(name string, options map[string]any, logger log.Logger) (decoder.MessageDecoder, error) {
	return defaultRegistry.New(name, options, logger)
}

// Names lists the decoders in the default registry.
func Names() []string {
	return defaultRegistry.Names()
}

// BuildDispatcher builds a dispatcher from the default registry.
func BuildDispatcher(bindings []config.DispatchConfig, logger log.Logger) (*decoder.Dispatcher, error) {
	return defaultRegistry.BuildDispatcher(bindings, logger)
}
