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

package neurostore

import (
	"context"

	"github.com/neurostuff/nsingest/config"
)

// Tunnel is a live SSH local-forward carrying database traffic. The store
// only needs to shut it down; the connection string already points at the
// forwarded local port.
type Tunnel interface {
	Close() error
}

// TunnelFactory opens the SSH tunnel described by the upload configuration.
// Deployments that need tunneling install one at startup; the default build
// carries none and refuses use_ssh rather than dialing with a missing
// transport.
var TunnelFactory func(ctx context.Context) (Tunnel, error)

func openTunnel(ctx context.Context) (Tunnel, error) {
	if !config.Upload.UseSsh {
		return nil, nil
	}
	if TunnelFactory == nil {
		return nil, TunnelUnavailableError{Host: config.Upload.Ssh.Host}
	}
	return TunnelFactory(ctx)
}
