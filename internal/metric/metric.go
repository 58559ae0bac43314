// Package metric computes the ESLR per-hop cost: a weighted sum of
// link propagation/transmission delay and local M/M/1 queueing delay, with
// a separate scaling for server-reported service rate.
//
// Functions here are pure, table/helper-style code: no side effects, no
// dependency on engine or table state, trivially unit-testable against
// the arithmetic they implement.
package metric

import "math"

// Weights holds the K1/K2/K3 coefficients from configuration.
// Each is documented to range over {0..255}; the zero value disables the
// corresponding term.
type Weights struct {
	K1 uint8 // server service-rate term
	K2 uint8 // link cost term
	K3 uint8 // router queueing term
}

// LinkAttrs describes the attributes of one outgoing link, as reported by
// the host-stack adapter's NetDevice callback.
type LinkAttrs struct {
	// PropagationDelay is the link's configured one-way delay, in
	// microseconds.
	PropagationDelay uint32

	// AveragePacketBits is the average packet size carried on this link,
	// in bits, used to derive transmission delay.
	AveragePacketBits uint32

	// ChannelDatarate is the link's nominal capacity in bits/second.
	ChannelDatarate uint64

	// ChannelLoad is the aggregate bits/second currently consumed by other
	// devices sharing the channel: the instantaneous occupancy to subtract
	// from capacity.
	ChannelLoad uint64
}

// RouterQueue describes the router-wide M/M/1 queue instrumentation:
// service rate μ and arrival rate λ, both in packets/second.
type RouterQueue struct {
	ServiceRate float64 // μ
	ArrivalRate float64 // λ
}

// PoisonMetric is the reserved metric value advertising a Disconnected
// route: a route is poisoned once with metric 0 before deletion.
const PoisonMetric uint32 = 0

// MaxMetric is the saturation ceiling for cost arithmetic: overflow
// saturates rather than wrapping.
const MaxMetric uint32 = math.MaxUint32

// LinkCost computes transmissionDelay + propagationDelay for a link, both
// in integer microseconds:
//
//	availableBandwidth = channelDatarate - Σ devices channel-load
//	transmissionDelay  = averagePacketBits / availableBandwidth
//
// If availableBandwidth is zero or negative (the link is fully
// subscribed), transmission delay saturates at MaxMetric.
func LinkCost(l LinkAttrs) uint32 {
	available := int64(l.ChannelDatarate) - int64(l.ChannelLoad)
	if available <= 0 {
		return saturatingAdd(MaxMetric, 0)
	}

	// microseconds = bits / (bits/second) * 1e6
	txMicros := uint64(float64(l.AveragePacketBits) / float64(available) * 1e6)
	return saturatingAdd(clampU32(txMicros), l.PropagationDelay)
}

// RouterCost computes 1/(μ-λ) for the local queue, expressed in integer
// microseconds. If μ <= λ (the queue is saturated or
// misconfigured), the cost saturates at MaxMetric rather than producing a
// negative or infinite value.
func RouterCost(q RouterQueue) uint32 {
	denom := q.ServiceRate - q.ArrivalRate
	if denom <= 0 {
		return MaxMetric
	}
	micros := (1.0 / denom) * 1e6
	return clampU32(uint64(micros))
}

// PerHopCost computes c = K2*linkCost + K3*routerCost, the candidate
// metric added to a peer-advertised metric on admission.
func PerHopCost(w Weights, l LinkAttrs, q RouterQueue) uint32 {
	lc := uint64(LinkCost(l)) * uint64(w.K2)
	rc := uint64(RouterCost(q)) * uint64(w.K3)
	return clampU32(lc + rc)
}

// ServerCost scales a server's self-reported 1/(μ-λ) by K1, producing the
// metric written onto the local route representing that server's attached
// prefix.
func ServerCost(k1 uint8, q RouterQueue) uint32 {
	return clampU32(uint64(RouterCost(q)) * uint64(k1))
}

// CandidateMetric combines a peer-advertised metric with the local per-hop
// cost: m = m_peer + c. The sum saturates at MaxMetric
// instead of wrapping.
func CandidateMetric(peerMetric, perHopCost uint32) uint32 {
	return saturatingAdd(peerMetric, perHopCost)
}

func saturatingAdd(a, b uint32) uint32 {
	sum := uint64(a) + uint64(b)
	return clampU32(sum)
}

func clampU32(v uint64) uint32 {
	if v > uint64(MaxMetric) {
		return MaxMetric
	}
	return uint32(v)
}
