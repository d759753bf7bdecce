package metrics

import "time"

type noopClient struct{}

// NewNoopClient returns a metrics client that discards everything.
func NewNoopClient() Client {
	return &noopClient{}
}

func (*noopClient) Counter(name string, tags Tags, value int64) {
}

func (*noopClient) Gauge(name string, tags Tags, value int64) {
}

func (*noopClient) Timing(name string, tags Tags, duration time.Duration) {
}

func (c *noopClient) WithTags(tags Tags) Client {
	return c
}
