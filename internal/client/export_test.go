package client

// DropSocket simulates a network drop. The reconnect loop keeps running.
func (c *Conn) DropSocket() { c.dropSocket() }
