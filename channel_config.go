package queue

import "fmt"

// ChannelConfig names the redis keys a RedisDriver uses. Waiting is a key
// prefix: one list per priority level hangs off it, which keeps FIFO order
// exact within a level.
type ChannelConfig struct {
	Delayed string
	Waiting string
	Failed  string
}

// WaitingKey returns the waiting-list key for one priority level.
func (c ChannelConfig) WaitingKey(p Priority) string {
	return fmt.Sprintf("%s:%s", c.Waiting, p)
}

// NamespacedChannelConfig derives the conventional key layout for a named
// queue, e.g. "{app:env:default}:delayed". The braces keep all keys of one
// queue in the same redis cluster slot.
func NamespacedChannelConfig(app, env, name string) ChannelConfig {
	prefix := fmt.Sprintf("{%s:%s:%s}", app, env, name)
	return ChannelConfig{
		Delayed: prefix + ":delayed",
		Waiting: prefix + ":waiting",
		Failed:  prefix + ":failed",
	}
}
