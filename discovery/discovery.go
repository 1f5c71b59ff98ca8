// Package discovery provides the agent directory: agents announce their own
// address at startup and withdraw on shutdown, and operators can list the
// agents currently alive.
//
// This is presence announcement only. The agent never coordinates command
// execution with other agents; each connection still talks to exactly one
// agent over a point-to-point channel.
package discovery

// Agent describes one live agent instance.
type Agent struct {
	Addr     string // routable host:port of the agent's listener
	Hostname string // agent's reported hostname, informational
	Version  string // agent build version, informational
}

// Directory is the announcement surface used by the server.
type Directory interface {
	// Announce publishes this agent under its address with a TTL in
	// seconds; the implementation keeps the entry alive until Withdraw or
	// process death.
	Announce(agent Agent, ttl int64) error
	// Withdraw removes this agent's entry. Called during graceful shutdown
	// before the listener closes.
	Withdraw(addr string) error
	// Agents lists all currently announced agents.
	Agents() ([]Agent, error)
	// Watch emits the updated agent list whenever it changes.
	Watch() <-chan []Agent
}
