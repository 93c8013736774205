package loanmaster

import (
	"context"
	"sync"
)

// Middleware wraps command execution with cross-cutting behavior such as
// validation, logging, retries or idempotency.
type Middleware func(next DispatchFunc) DispatchFunc

// DispatchFunc is the signature of the inner dispatch step middleware wraps.
type DispatchFunc func(ctx context.Context, cmd Command) (CommandResult, error)

// ChainMiddleware composes middleware so the first given runs outermost.
func ChainMiddleware(middleware ...Middleware) Middleware {
	return func(next DispatchFunc) DispatchFunc {
		for i := len(middleware) - 1; i >= 0; i-- {
			next = middleware[i](next)
		}
		return next
	}
}

// CommandBus routes commands to their registered handlers through a
// middleware chain.
type CommandBus struct {
	mu         sync.RWMutex
	handlers   map[string]CommandHandler
	middleware []Middleware
	logger     Logger
	closed     bool
}

// BusOption configures a CommandBus.
type BusOption func(*CommandBus)

// WithBusLogger sets the logger used by the bus.
func WithBusLogger(logger Logger) BusOption {
	return func(b *CommandBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMiddleware appends middleware to the chain. Middleware runs in the
// order given, outermost first.
func WithMiddleware(middleware ...Middleware) BusOption {
	return func(b *CommandBus) {
		b.middleware = append(b.middleware, middleware...)
	}
}

// NewCommandBus creates a command bus.
func NewCommandBus(opts ...BusOption) *CommandBus {
	b := &CommandBus{
		handlers: make(map[string]CommandHandler),
		logger:   NoopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Use appends middleware to the chain after construction. Middleware added
// after the first dispatch still applies to later dispatches.
func (b *CommandBus) Use(middleware ...Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware...)
}

// Register registers a handler for its command type.
func (b *CommandBus) Register(handler CommandHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	cmdType := handler.CommandType()
	if cmdType == "" {
		return ErrEmptyCommandType
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrCommandBusClosed
	}
	if _, exists := b.handlers[cmdType]; exists {
		return ErrHandlerAlreadyRegistered
	}
	b.handlers[cmdType] = handler
	return nil
}

// RegisterFunc registers a handler function for a command type.
func (b *CommandBus) RegisterFunc(commandType string, fn func(ctx context.Context, cmd Command) (CommandResult, error)) error {
	return b.Register(NewHandlerFunc(commandType, fn))
}

// Dispatch routes a command through the middleware chain to its handler.
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) (CommandResult, error) {
	if cmd == nil {
		return NewErrorResult(ErrNilCommand), ErrNilCommand
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return NewErrorResult(ErrCommandBusClosed), ErrCommandBusClosed
	}
	middleware := b.middleware
	b.mu.RUnlock()

	dispatch := b.invokeHandler
	for i := len(middleware) - 1; i >= 0; i-- {
		dispatch = middleware[i](dispatch)
	}
	return dispatch(ctx, cmd)
}

// DispatchAll dispatches commands in order, stopping on the first error.
// Results for dispatched commands are returned, including the failing one.
func (b *CommandBus) DispatchAll(ctx context.Context, cmds ...Command) ([]CommandResult, error) {
	results := make([]CommandResult, 0, len(cmds))
	for _, cmd := range cmds {
		result, err := b.Dispatch(ctx, cmd)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// DispatchResult carries the outcome of an asynchronous dispatch.
type DispatchResult struct {
	Result CommandResult
	Err    error
}

// DispatchAsync dispatches a command in a goroutine, delivering the outcome
// on the returned channel.
func (b *CommandBus) DispatchAsync(ctx context.Context, cmd Command) <-chan DispatchResult {
	out := make(chan DispatchResult, 1)
	go func() {
		defer close(out)
		result, err := b.Dispatch(ctx, cmd)
		out <- DispatchResult{Result: result, Err: err}
	}()
	return out
}

// HasHandler reports whether a handler is registered for the command type.
func (b *CommandBus) HasHandler(commandType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[commandType]
	return ok
}

// HandlerTypes returns the registered command types.
func (b *CommandBus) HandlerTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	types := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		types = append(types, t)
	}
	return types
}

// Close stops the bus. Subsequent dispatches and registrations fail with
// ErrCommandBusClosed.
func (b *CommandBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *CommandBus) invokeHandler(ctx context.Context, cmd Command) (CommandResult, error) {
	cmdType := cmd.CommandType()

	b.mu.RLock()
	handler, ok := b.handlers[cmdType]
	b.mu.RUnlock()
	if !ok {
		err := NewHandlerNotFoundError(cmdType)
		return NewErrorResult(err), err
	}

	b.logger.Debug("dispatching command", "commandType", cmdType)
	return handler.Handle(ctx, cmd)
}

var _ CommandDispatcher = (*CommandBus)(nil)
