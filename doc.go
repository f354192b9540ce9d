// Package hislip implements the client side of the HiSLIP (High-Speed
// LAN Instrument Protocol) wire protocol: handshake and max-message-size
// negotiation, fragmented writes and matched query/response reads on
// the synchronous channel, lock arbitration, device clear, trigger and
// remote/local control, and SRQ delivery on the asynchronous channel.
//
// A typical session:
//
//	c, err := hislip.Connect(ctx, "192.0.2.10", 0)
//	if err != nil { ... }
//	defer c.Close()
//	reply, err := c.Ask("*IDN?\n", 0)
package hislip
