// Package di wires the relay core together using samber/do v2. The
// container owns the config runtime, logger, cache, account store,
// provider registry, token manager, usage fetcher, and dispatcher, in
// that dependency order.
package di

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"
)

// ConfigPathKey is the named key under which the config file path is
// provided to the container.
const ConfigPathKey = "config.path"

// Container wraps the do.Injector with better-ccflare specific setup.
type Container struct {
	injector *do.RootScope
}

// NewContainer creates the DI container and registers every service
// provider. Services are lazy; nothing is constructed until invoked.
func NewContainer(configPath string) (*Container, error) {
	injector := do.New()

	do.ProvideNamedValue(injector, ConfigPathKey, configPath)
	RegisterSingletons(injector)

	return &Container{injector: injector}, nil
}

// Injector returns the underlying do.Injector for service resolution.
func (c *Container) Injector() *do.RootScope {
	return c.injector
}

// Invoke resolves a service from the container.
func Invoke[T any](c *Container) (T, error) {
	return do.Invoke[T](c.injector)
}

// MustInvoke resolves a service from the container or panics. Use only
// during startup where errors are fatal.
func MustInvoke[T any](c *Container) T {
	return do.MustInvoke[T](c.injector)
}

// InvokeNamed resolves a named service from the container.
func InvokeNamed[T any](c *Container, name string) (T, error) {
	return do.InvokeNamed[T](c.injector, name)
}

// Shutdown stops all services in reverse initialization order. Services
// implementing do.Shutdowner have their Shutdown method called.
func (c *Container) Shutdown() error {
	report := c.injector.Shutdown()
	if report != nil && !report.Succeed {
		return fmt.Errorf("shutdown failed: %s", report.Error())
	}
	return nil
}

// ShutdownWithContext is Shutdown with a deadline.
func (c *Container) ShutdownWithContext(ctx context.Context) error {
	report := c.injector.ShutdownWithContext(ctx)
	if report != nil && !report.Succeed {
		return fmt.Errorf("shutdown failed: %s", report.Error())
	}
	return nil
}
