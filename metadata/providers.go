// Copyright (c) 2025 The NeuroStore Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package metadata

import (
	"context"

	"github.com/neurostuff/nsingest/identifiers"
)

// Provider is a bibliographic service that can look up one article at a
// time. Lookups never mutate the given identifier; identifier enrichment is
// the caller's decision via Record.ApplyTo.
type Provider interface {
	Name() string
	Supports(id *identifiers.Identifier) bool
	Lookup(ctx context.Context, id *identifiers.Identifier) (*Record, error)
}

// we maintain a table of provider instances, identified by their names
var allProviders = make(map[string]Provider)
var createProviderFuncs = make(map[string]func() (Provider, error))

// RegisterProvider associates the given creation function with a provider
// name, making the provider available to NewProvider. Called at startup for
// each built-in provider.
func RegisterProvider(providerName string, createProvider func() (Provider, error)) error {
	if providerName == "" {
		return &UnknownProviderError{Name: providerName}
	}
	createProviderFuncs[providerName] = createProvider
	return nil
}

// NewProvider creates a provider instance with the given registered name, or
// returns an existing instance.
func NewProvider(providerName string) (Provider, error) {
	if provider, found := allProviders[providerName]; found {
		return provider, nil
	}
	createProvider, found := createProviderFuncs[providerName]
	if !found {
		return nil, &UnknownProviderError{Name: providerName}
	}
	provider, err := createProvider()
	if err == nil {
		allProviders[providerName] = provider
	}
	return provider, err
}
