package di

import "github.com/samber/do/v2"

// RegisterSingletons registers all service providers as singletons, in
// dependency order:
//  1. Config (no dependencies)
//  2. Logger (Config)
//  3. Cache (Config)
//  4. Store (no dependencies)
//  5. Registry (Config, Logger)
//  6. Tokens (Config, Logger, Store, Cache)
//  7. Fetcher (Config, Logger)
//  8. Dispatcher (Config, Logger, Registry, Tokens, Store).
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewCache)
	do.Provide(i, NewStore)
	do.Provide(i, NewRegistry)
	do.Provide(i, NewTokens)
	do.Provide(i, NewFetcher)
	do.Provide(i, NewDispatcher)
}
