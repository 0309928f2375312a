package shared

import "sync/atomic"

type counter struct{ n atomic.Uint32 }

func (c *counter) next() uint32 { return c.n.Add(1) }

var fallbackCounter counter
