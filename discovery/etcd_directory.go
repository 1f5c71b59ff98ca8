// etcd-backed implementation of the agent directory.
//
// etcd is a distributed key-value store with strong consistency (Raft). We
// use it as a phonebook for agents:
//
//	Key:   /hostagent/agents/{Addr}
//	Value: JSON-encoded Agent
//
// Announcement uses TTL-based leases: if the agent crashes, the lease
// expires and the entry is automatically removed — preventing "ghost"
// agents in the directory.
package discovery

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/hostagent/agents/"

// EtcdDirectory implements Directory using etcd v3.
type EtcdDirectory struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
}

// NewEtcdDirectory connects to the given etcd endpoints.
func NewEtcdDirectory(endpoints []string) (*EtcdDirectory, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdDirectory{client: c}, nil
}

// Announce publishes the agent with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
func (d *EtcdDirectory) Announce(agent Agent, ttl int64) error {
	ctx := context.TODO()

	lease, err := d.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(agent)
	if err != nil {
		return err
	}

	_, err = d.client.Put(ctx, keyPrefix+agent.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// Background lease renewal — KeepAlive sends heartbeats to etcd.
	ch, err := d.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to keep the channel from filling up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Withdraw removes the agent's directory entry.
func (d *EtcdDirectory) Withdraw(addr string) error {
	_, err := d.client.Delete(context.TODO(), keyPrefix+addr)
	return err
}

// Agents returns every announced agent by prefix scan.
func (d *EtcdDirectory) Agents() ([]Agent, error) {
	resp, err := d.client.Get(context.TODO(), keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	agents := make([]Agent, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var agent Agent
		if err := json.Unmarshal(kv.Value, &agent); err != nil {
			continue // Skip malformed entries
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// Watch monitors the directory prefix and emits the updated agent list
// whenever entries change (announcements, withdrawals, lease expirations).
// Uses etcd's Watch API (server-push), which beats polling.
func (d *EtcdDirectory) Watch() <-chan []Agent {
	ch := make(chan []Agent, 1)

	go func() {
		watchChan := d.client.Watch(context.TODO(), keyPrefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full list — simpler than parsing
			// individual watch events.
			agents, _ := d.Agents()
			ch <- agents
		}
	}()

	return ch
}

// Close releases the etcd client.
func (d *EtcdDirectory) Close() error {
	return d.client.Close()
}
