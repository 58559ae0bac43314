// Package netio implements the ESLR UDP transport: a broadcast
// channel on port 275 carrying hello/keep-alive/request traffic, and an
// advertisement channel on port 276 carrying route responses and
// server-router communication. Sends target the directed subnet
// broadcast address of the outgoing interface; receives are demultiplexed
// to the interface index and local destination address they arrived on.
package netio
